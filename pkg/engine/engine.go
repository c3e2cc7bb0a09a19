// Package engine wires a source cursor, a coalescing buffer, a sink
// writer, and a progress store into the top-level replication loop: the
// reader task that consumes the source's change stream and the flush
// timer task that cooperate through a single mutex guarding the
// {drain-buffer, write-sink, persist-progress} critical section.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/collection"
	"github.com/long2ice/meilisync/pkg/config"
	"github.com/long2ice/meilisync/pkg/metrics"
)

// Source is the subset of source.Source the engine depends on. Declared
// locally so tests can supply a fake without depending on any real driver.
type Source interface {
	Stream(ctx context.Context, tables []string) (<-chan any, error)
	GetFullData(ctx context.Context, table string, fields cdc.FieldMapping) ([]map[string]any, error)
	GetCount(ctx context.Context, table string) (int64, error)
}

// Sink is the subset of sink.Writer the engine depends on.
type Sink interface {
	AddData(ctx context.Context, table string, rows []map[string]any) error
	HandleEvent(ctx context.Context, event cdc.Event) error
	HandleEvents(ctx context.Context, drained map[string]collection.Drained) error
	IndexExists(index string) (bool, error)
}

// Progress is the subset of progress.Store the engine depends on.
type Progress interface {
	Set(ctx context.Context, checkpoint cdc.Checkpoint) error
	Get(ctx context.Context) (cdc.Checkpoint, error)
}

// Engine is the top-level replication loop for one source -> sink run.
type Engine struct {
	source Source
	sink   Sink
	progress Progress
	syncs    []config.Sync
	byTable  map[string]config.Sync

	insertSize         int
	insertInterval     time.Duration
	bootstrapBatchSize int
	batchingEnabled    bool

	logger *zap.Logger

	mu             sync.Mutex
	buffer         *collection.EventCollection
	lastCheckpoint cdc.Checkpoint
}

// Option configures a non-default field of Engine at construction time.
type Option func(*Engine)

// WithBootstrapBatchSize overrides the default full-load batch size (1000).
func WithBootstrapBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bootstrapBatchSize = n
		}
	}
}

// New builds an Engine from its collaborators and the resolved sync list.
// insertSize/insertInterval come from the meilisearch config block; both
// zero means every event is applied synchronously (the unbatched path).
func New(source Source, sink Sink, progress Progress, syncs []config.Sync, insertSize int, insertInterval time.Duration, logger *zap.Logger, opts ...Option) *Engine {
	byTable := make(map[string]config.Sync, len(syncs))
	for _, s := range syncs {
		byTable[s.Table] = s
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		source:             source,
		sink:               sink,
		progress:           progress,
		syncs:              syncs,
		byTable:            byTable,
		insertSize:         insertSize,
		insertInterval:     insertInterval,
		bootstrapBatchSize: 1000,
		batchingEnabled:    insertSize > 0 || insertInterval > 0,
		logger:             logger,
		buffer:             collection.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tables returns the declared table set, in declaration order.
func (e *Engine) Tables() []string {
	tables := make([]string, len(e.syncs))
	for i, s := range e.syncs {
		tables[i] = s.Table
	}
	return tables
}

// Run bootstraps any sync declared full=true whose index does not yet
// exist, then consumes the source's change stream until ctx is canceled
// or a fatal error occurs. It starts the flush-timer task internally when
// insertInterval > 0.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	stream, err := e.source.Stream(ctx, e.Tables())
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	var wg sync.WaitGroup
	if e.insertInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runFlushTimer(ctx)
		}()
	}

	e.logger.Info("start increment sync")
	err = e.consume(ctx, stream)
	wg.Wait()
	return err
}

// bootstrap runs the first-time full load for every sync declared
// full=true whose target index does not already exist. Gating on index
// existence, not on whether a checkpoint was restored, makes a second
// `start` against an already-bootstrapped index a no-op.
func (e *Engine) bootstrap(ctx context.Context) error {
	for _, sync := range e.syncs {
		if !sync.Full {
			continue
		}
		exists, err := e.sink.IndexExists(sync.IndexName())
		if err != nil {
			return fmt.Errorf("check index %s: %w", sync.IndexName(), err)
		}
		if exists {
			e.logger.Info("index already bootstrapped, skipping full load", zap.String("table", sync.Table), zap.String("index", sync.IndexName()))
			continue
		}

		rows, err := e.source.GetFullData(ctx, sync.Table, sync.FieldMapping())
		if err != nil {
			return fmt.Errorf("full load %s: %w", sync.Table, err)
		}
		total := 0
		for _, batch := range Paginate(rows, e.bootstrapBatchSize) {
			if len(batch) == 0 {
				continue
			}
			if err := e.sink.AddData(ctx, sync.Table, batch); err != nil {
				return fmt.Errorf("full load %s: %w", sync.Table, err)
			}
			total += len(batch)
			metrics.BootstrapDocuments.WithLabelValues(sync.Table).Add(float64(len(batch)))
		}
		if total == 0 {
			e.logger.Info("full data sync done, no data found", zap.String("table", sync.Table))
		} else {
			e.logger.Info("full data sync done", zap.String("table", sync.Table), zap.Int("documents", total))
		}
	}
	return nil
}

// Paginate splits rows into chunks of at most size, preserving order. A
// size <= 0 returns rows as a single chunk.
func Paginate(rows []map[string]any, size int) [][]map[string]any {
	if size <= 0 || len(rows) <= size {
		if len(rows) == 0 {
			return nil
		}
		return [][]map[string]any{rows}
	}
	var out [][]map[string]any
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	return out
}

// consume is the reader task: it drains the stream channel, routing each
// value to the unbatched, batched, or progress-only path.
func (e *Engine) consume(ctx context.Context, stream <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case value, ok := <-stream:
			if !ok {
				return fmt.Errorf("source stream closed unexpectedly")
			}
			if err := e.handleStreamValue(ctx, value); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) handleStreamValue(ctx context.Context, value any) error {
	switch v := value.(type) {
	case cdc.ProgressEvent:
		e.lastCheckpoint = v.Progress
		if !e.batchingEnabled {
			return e.progress.Set(ctx, e.lastCheckpoint)
		}
		return nil

	case cdc.Event:
		sync, ok := e.byTable[v.Table]
		if !ok {
			return nil // undeclared table: dropped by the reader task too
		}

		if !e.batchingEnabled {
			if err := e.sink.HandleEvent(ctx, v); err != nil {
				metrics.SinkErrors.WithLabelValues(v.Table).Inc()
				return fmt.Errorf("handle event for %s: %w", v.Table, err)
			}
			metrics.EventsProcessed.WithLabelValues(v.Table, string(v.Type)).Inc()
			e.lastCheckpoint = v.Progress
			return e.progress.Set(ctx, e.lastCheckpoint)
		}

		e.mu.Lock()
		e.buffer.AddEvent(sync.Table, sync.PrimaryKey(), v)
		e.lastCheckpoint = v.Progress
		size := e.buffer.Size()
		metrics.BufferSize.Set(float64(size))
		var flushErr error
		if e.insertSize > 0 && size >= e.insertSize {
			flushErr = e.flushLocked(ctx, "size")
		}
		e.mu.Unlock()
		return flushErr

	default:
		return fmt.Errorf("unexpected stream value %T", value)
	}
}

// flushLocked drains the buffer, writes the batch, and persists the
// checkpoint, all while mu is already held by the caller. A sink error
// here is fatal: progress.Set is skipped so the failed events are re-read
// from the last persisted checkpoint on restart.
func (e *Engine) flushLocked(ctx context.Context, trigger string) error {
	timer := time.Now()
	defer func() {
		metrics.FlushDuration.WithLabelValues(trigger).Observe(time.Since(timer).Seconds())
	}()

	drained := e.buffer.PopEvents()
	metrics.BufferSize.Set(0)
	if err := e.sink.HandleEvents(ctx, drained); err != nil {
		for table := range drained {
			metrics.SinkErrors.WithLabelValues(table).Inc()
		}
		return fmt.Errorf("flush: %w", err)
	}
	for table, d := range drained {
		metrics.EventsProcessed.WithLabelValues(table, string(cdc.OpCreate)).Add(float64(len(d.Created)))
		metrics.EventsProcessed.WithLabelValues(table, string(cdc.OpUpdate)).Add(float64(len(d.Updated)))
		metrics.EventsProcessed.WithLabelValues(table, string(cdc.OpDelete)).Add(float64(len(d.Deleted)))
	}
	return e.progress.Set(ctx, e.lastCheckpoint)
}

// runFlushTimer is the flush task: on an idle timer it drains and writes
// whatever has accumulated. Errors here are logged and swallowed -- the
// reader task keeps running regardless, matching the flush-timer error
// policy in this system's failure model.
func (e *Engine) runFlushTimer(ctx context.Context) {
	ticker := time.NewTicker(e.insertInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if err := e.flushLocked(ctx, "interval"); err != nil {
				e.logger.Error("flush timer error", zap.Error(err))
			}
			e.mu.Unlock()
		}
	}
}
