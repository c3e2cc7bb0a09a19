package sink

import (
	"context"
	"fmt"

	"github.com/meilisearch/meilisearch-go"

	"github.com/long2ice/meilisync/pkg/config"
)

// FullDataBatch is one page of rows from a source's full scan, already
// field-projected.
type FullDataBatch = []map[string]any

// RefreshData runs the full-refresh protocol for sync against batches
// yielded by next (called repeatedly until it returns false). When
// keepIndex is true, rows are written directly to the live index; otherwise
// a temporary index is populated and atomically swapped in, so search
// traffic against the live index never observes a partially-populated
// state.
func (w *Writer) RefreshData(ctx context.Context, sync config.Sync, next func() (FullDataBatch, bool), keepIndex bool) error {
	if keepIndex {
		for {
			batch, ok := next()
			if !ok {
				return nil
			}
			if err := w.AddData(ctx, sync.Table, batch); err != nil {
				return err
			}
		}
	}

	live := sync.IndexName()
	tmp := live + "_tmp"

	if err := w.deleteIndexIfExists(ctx, tmp); err != nil {
		return fmt.Errorf("clear temp index %s: %w", tmp, err)
	}

	settings, err := w.liveSettings(live)
	if err != nil {
		return fmt.Errorf("read settings from %s: %w", live, err)
	}

	createTask, err := w.client.CreateIndex(&meilisearch.IndexConfig{Uid: tmp, PrimaryKey: sync.PrimaryKey()})
	if err != nil {
		return fmt.Errorf("create temp index %s: %w", tmp, err)
	}
	if err := w.waitForTask(ctx, createTask.TaskUID); err != nil {
		return fmt.Errorf("create temp index %s: %w", tmp, err)
	}

	if settings != nil {
		settingsTask, err := w.client.Index(tmp).UpdateSettings(settings)
		if err != nil {
			return fmt.Errorf("apply settings to %s: %w", tmp, err)
		}
		if err := w.waitForTask(ctx, settingsTask.TaskUID); err != nil {
			return fmt.Errorf("apply settings to %s: %w", tmp, err)
		}
	}

	var taskUIDs []int64
	for {
		batch, ok := next()
		if !ok {
			break
		}
		info, err := w.client.Index(tmp).AddDocuments(batch, sync.PrimaryKey())
		if err != nil {
			return fmt.Errorf("add documents to %s: %w", tmp, err)
		}
		taskUIDs = append(taskUIDs, info.TaskUID)
	}
	for _, uid := range taskUIDs {
		if err := w.waitForTask(ctx, uid); err != nil {
			return fmt.Errorf("populate %s: %w", tmp, err)
		}
	}

	swapTask, err := w.client.SwapIndexes([]*meilisearch.SwapIndexesParams{{Indexes: []string{live, tmp}}})
	if err != nil {
		return fmt.Errorf("swap %s <-> %s: %w", live, tmp, err)
	}
	if err := w.waitForTask(ctx, swapTask.TaskUID); err != nil {
		return fmt.Errorf("swap %s <-> %s: %w", live, tmp, err)
	}

	return w.deleteIndexIfExists(ctx, tmp)
}

func (w *Writer) liveSettings(index string) (*meilisearch.Settings, error) {
	exists, err := w.IndexExists(index)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return w.client.Index(index).GetSettings()
}

func (w *Writer) deleteIndexIfExists(ctx context.Context, index string) error {
	exists, err := w.IndexExists(index)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	task, err := w.client.DeleteIndex(index)
	if err != nil {
		return err
	}
	return w.waitForTask(ctx, task.TaskUID)
}
