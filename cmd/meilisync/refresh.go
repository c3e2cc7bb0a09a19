package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/long2ice/meilisync/pkg/config"
	"github.com/long2ice/meilisync/pkg/engine"
	"github.com/long2ice/meilisync/pkg/sink"
	"github.com/long2ice/meilisync/pkg/source"
)

var (
	refreshTables    []string
	refreshBatchSize int
	refreshKeepIndex bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "full refresh one or more syncs via an atomic index swap",
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().StringSliceVarP(&refreshTables, "table", "t", nil, "tables to refresh (default: all declared syncs)")
	refreshCmd.Flags().IntVarP(&refreshBatchSize, "size", "s", 10000, "batch size for the full-data scan")
	refreshCmd.Flags().BoolVarP(&refreshKeepIndex, "keep-index", "d", false, "write directly to the live index instead of swapping a temporary one")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	prog, err := buildProgress()
	if err != nil {
		return err
	}
	src, err := buildSource(ctx, prog)
	if err != nil {
		return err
	}
	defer src.Close()

	snk, err := buildSink()
	if err != nil {
		return err
	}

	targets, err := selectSyncs(refreshTables)
	if err != nil {
		return err
	}

	// Persist the source's current log position before copying, so the
	// next incremental read resumes from the anchor taken at refresh time
	// rather than whatever position was stored before it ran.
	checkpoint, err := src.GetCurrentProgress(ctx)
	if err != nil {
		return fmt.Errorf("read current progress: %w", err)
	}
	if err := prog.Set(ctx, checkpoint); err != nil {
		return fmt.Errorf("persist pre-refresh progress: %w", err)
	}

	for _, s := range targets {
		if err := refreshOne(ctx, src, snk, s); err != nil {
			return fmt.Errorf("refresh %s: %w", s.Table, err)
		}
		logger.Info("refresh done", zap.String("table", s.Table))
	}
	return nil
}

func refreshOne(ctx context.Context, src source.Source, snk *sink.Writer, s config.Sync) error {
	rows, err := src.GetFullData(ctx, s.Table, s.FieldMapping())
	if err != nil {
		return err
	}
	batches := engine.Paginate(rows, refreshBatchSize)
	i := 0
	next := func() (sink.FullDataBatch, bool) {
		if i >= len(batches) {
			return nil, false
		}
		b := batches[i]
		i++
		return b, true
	}
	return snk.RefreshData(ctx, s, next, refreshKeepIndex)
}
