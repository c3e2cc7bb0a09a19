package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var checkTables []string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "compare source row/document counts against meilisearch index counts",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringSliceVarP(&checkTables, "table", "t", nil, "tables to check (default: all declared syncs)")
}

func runCheck(cmd *cobra.Command, args []string) error {
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

	targets, err := selectSyncs(checkTables)
	if err != nil {
		return err
	}

	mismatch := false
	for _, s := range targets {
		srcCount, err := src.GetCount(ctx, s.Table)
		if err != nil {
			return fmt.Errorf("count source %s: %w", s.Table, err)
		}
		sinkCount, err := snk.GetCount(s.IndexName())
		if err != nil {
			return fmt.Errorf("count index %s: %w", s.IndexName(), err)
		}
		if srcCount == sinkCount {
			logger.Info("check OK", zap.String("table", s.Table), zap.Int64("count", srcCount))
			continue
		}
		mismatch = true
		logger.Warn("check MISMATCH",
			zap.String("table", s.Table),
			zap.Int64("source_count", srcCount),
			zap.Int64("index_count", sinkCount),
		)
	}
	if mismatch {
		return fmt.Errorf("one or more syncs are out of sync")
	}
	return nil
}
