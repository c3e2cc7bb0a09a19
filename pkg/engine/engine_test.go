package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/collection"
	"github.com/long2ice/meilisync/pkg/config"
)

type fakeSource struct {
	ch       chan any
	fullData map[string][]map[string]any
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan any, 100), fullData: make(map[string][]map[string]any)}
}

func (f *fakeSource) Stream(ctx context.Context, tables []string) (<-chan any, error) {
	return f.ch, nil
}

func (f *fakeSource) GetFullData(ctx context.Context, table string, fields cdc.FieldMapping) ([]map[string]any, error) {
	return f.fullData[table], nil
}

func (f *fakeSource) GetCount(ctx context.Context, table string) (int64, error) {
	return int64(len(f.fullData[table])), nil
}

type writeRecord struct {
	op    cdc.Operation
	table string
	n     int
}

type fakeSink struct {
	mu      sync.Mutex
	exists  map[string]bool
	writes  []writeRecord
	failNextHandleEvents bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{exists: make(map[string]bool)}
}

func (f *fakeSink) AddData(ctx context.Context, table string, rows []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeRecord{op: cdc.OpCreate, table: table, n: len(rows)})
	return nil
}

func (f *fakeSink) HandleEvent(ctx context.Context, event cdc.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeRecord{op: event.Type, table: event.Table, n: 1})
	return nil
}

func (f *fakeSink) HandleEvents(ctx context.Context, drained map[string]collection.Drained) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextHandleEvents {
		f.failNextHandleEvents = false
		return assertErr
	}
	for table, d := range drained {
		if len(d.Created) > 0 {
			f.writes = append(f.writes, writeRecord{op: cdc.OpCreate, table: table, n: len(d.Created)})
		}
		if len(d.Updated) > 0 {
			f.writes = append(f.writes, writeRecord{op: cdc.OpUpdate, table: table, n: len(d.Updated)})
		}
		if len(d.Deleted) > 0 {
			f.writes = append(f.writes, writeRecord{op: cdc.OpDelete, table: table, n: len(d.Deleted)})
		}
	}
	return nil
}

func (f *fakeSink) IndexExists(index string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[index], nil
}

var assertErr = errString("sink write failed")

type errString string

func (e errString) Error() string { return string(e) }

type fakeProgress struct {
	mu  sync.Mutex
	set []cdc.Checkpoint
}

func (f *fakeProgress) Set(ctx context.Context, checkpoint cdc.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, checkpoint.Clone())
	return nil
}

func (f *fakeProgress) Get(ctx context.Context) (cdc.Checkpoint, error) {
	return nil, nil
}

func (f *fakeProgress) last() cdc.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.set) == 0 {
		return nil
	}
	return f.set[len(f.set)-1]
}

func testSync(table string) config.Sync {
	return config.Sync{Table: table, PK: "id", Full: true}
}

func TestBootstrapSkipsWhenIndexExists(t *testing.T) {
	src := newFakeSource()
	src.fullData["users"] = []map[string]any{{"id": 1}, {"id": 2}}
	sink := newFakeSink()
	sink.exists["users"] = true
	prog := &fakeProgress{}

	e := New(src, sink, prog, []config.Sync{testSync("users")}, 0, 0, nil)
	require.NoError(t, e.bootstrap(context.Background()))
	assert.Empty(t, sink.writes, "bootstrap must not run when the index already exists")
}

func TestBootstrapLoadsAndPaginates(t *testing.T) {
	src := newFakeSource()
	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"id": i}
	}
	src.fullData["users"] = rows
	sink := newFakeSink()
	prog := &fakeProgress{}

	e := New(src, sink, prog, []config.Sync{testSync("users")}, 0, 0, nil, WithBootstrapBatchSize(2))
	require.NoError(t, e.bootstrap(context.Background()))

	total := 0
	for _, w := range sink.writes {
		assert.Equal(t, cdc.OpCreate, w.op)
		total += w.n
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, 3, len(sink.writes), "5 rows at batch size 2 is 3 batches")
}

func TestUnbatchedPathAppliesEventAndPersistsImmediately(t *testing.T) {
	src := newFakeSource()
	sink := newFakeSink()
	prog := &fakeProgress{}

	e := New(src, sink, prog, []config.Sync{testSync("users")}, 0, 0, nil)
	ctx := context.Background()

	err := e.handleStreamValue(ctx, cdc.Event{
		Type: cdc.OpCreate, Table: "users",
		Data:     map[string]any{"id": 1},
		Progress: cdc.Checkpoint{"start_lsn": "0/1"},
	})
	require.NoError(t, err)

	require.Len(t, sink.writes, 1)
	assert.Equal(t, cdc.OpCreate, sink.writes[0].op)
	assert.Equal(t, cdc.Checkpoint{"start_lsn": "0/1"}, prog.last())
}

func TestUndeclaredTableIsDropped(t *testing.T) {
	src := newFakeSource()
	sink := newFakeSink()
	prog := &fakeProgress{}

	e := New(src, sink, prog, []config.Sync{testSync("users")}, 0, 0, nil)
	err := e.handleStreamValue(context.Background(), cdc.Event{Type: cdc.OpCreate, Table: "other", Data: map[string]any{"id": 1}})
	require.NoError(t, err)
	assert.Empty(t, sink.writes)
	assert.Nil(t, prog.last())
}

// TestCoalescingLastWriterWins exercises scenario D from this system's
// testable properties: repeated events for the same key collapse to the
// last one once the buffer is explicitly flushed.
func TestCoalescingLastWriterWins(t *testing.T) {
	src := newFakeSource()
	sink := newFakeSink()
	prog := &fakeProgress{}

	e := New(src, sink, prog, []config.Sync{testSync("users")}, 5, 0, nil)
	ctx := context.Background()

	events := []cdc.Event{
		{Type: cdc.OpCreate, Table: "users", Data: map[string]any{"id": 7, "v": 1}, Progress: cdc.Checkpoint{"start_lsn": "1"}},
		{Type: cdc.OpUpdate, Table: "users", Data: map[string]any{"id": 7, "v": 2}, Progress: cdc.Checkpoint{"start_lsn": "2"}},
		{Type: cdc.OpUpdate, Table: "users", Data: map[string]any{"id": 7, "v": 3}, Progress: cdc.Checkpoint{"start_lsn": "3"}},
		{Type: cdc.OpUpdate, Table: "users", Data: map[string]any{"id": 7, "v": 4}, Progress: cdc.Checkpoint{"start_lsn": "4"}},
		{Type: cdc.OpCreate, Table: "users", Data: map[string]any{"id": 8}, Progress: cdc.Checkpoint{"start_lsn": "5"}},
		{Type: cdc.OpDelete, Table: "users", Data: map[string]any{"id": 8}, Progress: cdc.Checkpoint{"start_lsn": "6"}},
	}
	for _, ev := range events {
		require.NoError(t, e.handleStreamValue(ctx, ev))
	}

	e.mu.Lock()
	require.NoError(t, e.flushLocked(ctx, "test"))
	e.mu.Unlock()

	var creates, updates, deletes int
	for _, w := range sink.writes {
		switch w.op {
		case cdc.OpCreate:
			creates += w.n
		case cdc.OpUpdate:
			updates += w.n
		case cdc.OpDelete:
			deletes += w.n
		}
	}
	assert.Equal(t, 0, creates, "id=7's create and id=8's create were both superseded by a later event for the same key")
	assert.Equal(t, 1, updates, "id=7's last buffered event is the v=4 update")
	assert.Equal(t, 1, deletes, "id=8's delete supersedes its own create")
	assert.Equal(t, cdc.Checkpoint{"start_lsn": "6"}, prog.last())
}

func TestFlushErrorSkipsProgressPersist(t *testing.T) {
	src := newFakeSource()
	sink := newFakeSink()
	sink.failNextHandleEvents = true
	prog := &fakeProgress{}

	e := New(src, sink, prog, []config.Sync{testSync("users")}, 1, 0, nil)
	ctx := context.Background()

	err := e.handleStreamValue(ctx, cdc.Event{
		Type: cdc.OpCreate, Table: "users",
		Data:     map[string]any{"id": 1},
		Progress: cdc.Checkpoint{"start_lsn": "1"},
	})
	require.Error(t, err)
	assert.Nil(t, prog.last(), "a failed flush must not advance the persisted checkpoint")
}

func TestFlushTimerSwallowsErrors(t *testing.T) {
	src := newFakeSource()
	sink := newFakeSink()
	sink.failNextHandleEvents = true
	prog := &fakeProgress{}

	e := New(src, sink, prog, []config.Sync{testSync("users")}, 0, 20*time.Millisecond, nil)
	e.mu.Lock()
	e.buffer.AddEvent("users", "id", cdc.Event{Type: cdc.OpCreate, Table: "users", Data: map[string]any{"id": 1}})
	e.lastCheckpoint = cdc.Checkpoint{"start_lsn": "1"}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	e.runFlushTimer(ctx)

	assert.Nil(t, prog.last(), "the failed flush must not have persisted a checkpoint")
}

func TestPaginate(t *testing.T) {
	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"id": i}
	}
	batches := Paginate(rows, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)

	assert.Nil(t, Paginate(nil, 2))
	assert.Len(t, Paginate(rows, 0), 1)
}
