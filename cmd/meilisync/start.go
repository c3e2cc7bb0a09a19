package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/long2ice/meilisync/pkg/engine"
	"github.com/long2ice/meilisync/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "run the replication engine until killed",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

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

	var wg sync.WaitGroup
	metrics.StartPrometheusServer(ctx, &wg, nil)

	e := engine.New(src, snk, prog, cfg.Sync, cfg.MeiliSearch.InsertSize, cfg.MeiliSearch.InsertInterval, logger)
	runErr := e.Run(ctx)
	wg.Wait()

	if runErr != nil && ctx.Err() != nil {
		// Canceled by the shutdown signal, not a replication failure.
		return nil
	}
	return runErr
}
