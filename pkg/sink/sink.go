// Package sink writes coalesced change events into MeiliSearch indexes,
// plus bootstrap full-data loads and the full-refresh index-swap protocol
// used for manual resync.
package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/meilisearch/meilisearch-go"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/collection"
	"github.com/long2ice/meilisync/pkg/config"
	"github.com/long2ice/meilisync/pkg/plugin"
)

// Writer drives every MeiliSearch-facing operation: single/batched event
// handling, full-data loads, and the index-swap refresh protocol.
type Writer struct {
	client      meilisearch.ServiceManager
	debug       bool
	syncs       map[string]config.Sync
	globalChain *plugin.Chain
	syncChains  map[string]*plugin.Chain
	taskTimeout time.Duration
}

// New builds a Writer from the resolved config. globalChain holds the
// engine-level plugins; syncChains holds each sync's own plugin chain,
// keyed by table.
func New(cfg config.MeiliConfig, syncs []config.Sync, debug bool, globalChain *plugin.Chain, syncChains map[string]*plugin.Chain) *Writer {
	client := meilisearch.New(cfg.APIURL, meilisearch.WithAPIKey(cfg.APIKey))

	bySyncTable := make(map[string]config.Sync, len(syncs))
	for _, s := range syncs {
		bySyncTable[s.Table] = s
	}

	return &Writer{
		client:      client,
		debug:       debug,
		syncs:       bySyncTable,
		globalChain: globalChain,
		syncChains:  syncChains,
		taskTimeout: 30 * time.Second,
	}
}

func (w *Writer) syncFor(table string) (config.Sync, bool) {
	s, ok := w.syncs[table]
	return s, ok
}

func (w *Writer) chainFor(table string) *plugin.Chain {
	return plugin.Combined(w.globalChain, w.syncChains[table])
}

// waitForTask blocks until a MeiliSearch task reaches a terminal state,
// retrying the status poll with backoff. A task that never completes
// within the writer's configured timeout is a fatal error for the calling
// operation, not something to silently drop.
func (w *Writer) waitForTask(ctx context.Context, taskUID int64) error {
	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		task, err := w.client.GetTask(taskUID)
		if err != nil {
			return err
		}
		switch task.Status {
		case meilisearch.TaskStatusSucceeded:
			return nil
		case meilisearch.TaskStatusFailed, meilisearch.TaskStatusCanceled:
			return backoff.Permanent(fmt.Errorf("meilisearch task %d %s: %s", taskUID, task.Status, task.Error.Message))
		default:
			return fmt.Errorf("task %d still %s", taskUID, task.Status)
		}
	}, b)
}

// AddData wraps rows as synthetic create events and routes them through the
// same batched create path HandleEvents uses, so plugin hooks apply
// uniformly to a bootstrap load. rows arrive already field-projected by the
// source's GetFullData (SQL `AS`/$project/cdc.Project, per cursor), so
// writeBatch must not project them a second time -- doing so would look up
// a renamed field's *new* name in the field map and drop it.
func (w *Writer) AddData(ctx context.Context, table string, rows []map[string]any) error {
	sync, ok := w.syncFor(table)
	if !ok {
		return nil
	}
	events := make([]cdc.Event, len(rows))
	for i, row := range rows {
		events[i] = cdc.Event{Type: cdc.OpCreate, Table: table, Data: row}
	}
	return w.writeBatch(ctx, sync, cdc.OpCreate, events, false)
}

// HandleEvent is the unbatched single-event path, used when neither
// insert_size nor insert_interval is configured.
func (w *Writer) HandleEvent(ctx context.Context, event cdc.Event) error {
	if w.debug {
		fmt.Printf("event: %+v\n", event)
	}
	sync, ok := w.syncFor(event.Table)
	if !ok {
		return nil
	}
	return w.writeBatch(ctx, sync, event.Type, []cdc.Event{event}, true)
}

// HandleEvents drains collected events and, for each sync, issues one
// batched call per event type in create -> update -> delete order.
func (w *Writer) HandleEvents(ctx context.Context, drained map[string]collection.Drained) error {
	for table, d := range drained {
		sync, ok := w.syncFor(table)
		if !ok {
			continue
		}
		if len(d.Created) > 0 {
			if err := w.writeBatch(ctx, sync, cdc.OpCreate, d.Created, true); err != nil {
				return err
			}
		}
		if len(d.Updated) > 0 {
			if err := w.writeBatch(ctx, sync, cdc.OpUpdate, d.Updated, true); err != nil {
				return err
			}
		}
		if len(d.Deleted) > 0 {
			if err := w.writeBatch(ctx, sync, cdc.OpDelete, d.Deleted, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeBatch runs pre_event for every event, issues the one batched sink
// call appropriate to op, then runs post_event. Pre-hooks can rewrite an
// event's data but, for batched writes, cannot pull it out of the batch --
// that stays a documented limitation, not a bug. applyFields controls
// whether sync's field projection/rename is applied here: live stream
// events carry their raw row and need it; full-data batches (AddData) were
// already projected by the source and must pass through unchanged.
func (w *Writer) writeBatch(ctx context.Context, sync config.Sync, op cdc.Operation, events []cdc.Event, applyFields bool) error {
	chain := w.chainFor(sync.Table)
	var fields cdc.FieldMapping
	if applyFields {
		fields = sync.FieldMapping()
	}

	docs := make([]map[string]any, 0, len(events))
	ids := make([]string, 0, len(events))
	processed := make([]cdc.Event, 0, len(events))
	for _, event := range events {
		event, err := chain.Pre(event)
		if err != nil {
			return err
		}
		processed = append(processed, event)
		if op == cdc.OpDelete {
			ids = append(ids, fmt.Sprintf("%v", event.Data[sync.PrimaryKey()]))
			continue
		}
		if applyFields {
			docs = append(docs, cdc.Project(event.Data, fields))
		} else {
			docs = append(docs, event.Data)
		}
	}

	index := w.client.Index(sync.IndexName())
	var taskUID int64
	switch op {
	case cdc.OpCreate:
		info, err := index.AddDocuments(docs, sync.PrimaryKey())
		if err != nil {
			return fmt.Errorf("add documents to %s: %w", sync.IndexName(), err)
		}
		taskUID = info.TaskUID
	case cdc.OpUpdate:
		info, err := index.UpdateDocuments(docs, sync.PrimaryKey())
		if err != nil {
			return fmt.Errorf("update documents in %s: %w", sync.IndexName(), err)
		}
		taskUID = info.TaskUID
	case cdc.OpDelete:
		info, err := index.DeleteDocuments(ids)
		if err != nil {
			return fmt.Errorf("delete documents from %s: %w", sync.IndexName(), err)
		}
		taskUID = info.TaskUID
	}

	if err := w.waitForTask(ctx, taskUID); err != nil {
		return err
	}

	for _, event := range processed {
		if _, err := chain.Post(event); err != nil {
			return err
		}
	}
	return nil
}

// GetCount returns an index's current document count from its stats.
func (w *Writer) GetCount(index string) (int64, error) {
	stats, err := w.client.Index(index).GetStats()
	if err != nil {
		return 0, fmt.Errorf("get stats for %s: %w", index, err)
	}
	return int64(stats.NumberOfDocuments), nil
}

// IndexExists translates MeiliSearch's "index not found" error into a
// plain bool instead of propagating it as an error.
func (w *Writer) IndexExists(index string) (bool, error) {
	_, err := w.client.GetIndex(index)
	if err == nil {
		return true, nil
	}
	if isIndexNotFound(err) {
		return false, nil
	}
	return false, err
}

func isIndexNotFound(err error) bool {
	var apiErr *meilisearch.Error
	if ok := asMeiliError(err, &apiErr); ok {
		return apiErr.MeilisearchApiError.Code == "index_not_found"
	}
	return strings.Contains(err.Error(), "index_not_found")
}

func asMeiliError(err error, target **meilisearch.Error) bool {
	if e, ok := err.(*meilisearch.Error); ok {
		*target = e
		return true
	}
	return false
}
