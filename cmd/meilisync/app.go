package main

import (
	"context"
	"fmt"

	"github.com/long2ice/meilisync/pkg/config"
	"github.com/long2ice/meilisync/pkg/plugin"
	"github.com/long2ice/meilisync/pkg/progress"
	"github.com/long2ice/meilisync/pkg/sink"
	"github.com/long2ice/meilisync/pkg/source"
)

func buildProgress() (progress.Store, error) {
	store, err := progress.New(cfg.Progress.Type, cfg.Progress.Raw)
	if err != nil {
		return nil, fmt.Errorf("build progress store: %w", err)
	}
	return store, nil
}

func buildSource(ctx context.Context, prog progress.Store) (source.Source, error) {
	checkpoint, err := prog.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stored progress: %w", err)
	}
	src, err := source.New(ctx, cfg.Source.Type, cfg.Source.Database, cfg.Source.Raw, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("build source: %w", err)
	}
	return src, nil
}

func buildSink() (*sink.Writer, error) {
	globalChain, err := plugin.Build(cfg.Plugins)
	if err != nil {
		return nil, fmt.Errorf("build global plugin chain: %w", err)
	}
	syncChains := make(map[string]*plugin.Chain, len(cfg.Sync))
	for _, s := range cfg.Sync {
		chain, err := plugin.Build(s.Plugins)
		if err != nil {
			return nil, fmt.Errorf("build plugin chain for %s: %w", s.Table, err)
		}
		syncChains[s.Table] = chain
	}
	return sink.New(cfg.MeiliSearch, cfg.Sync, cfg.Debug, globalChain, syncChains), nil
}

// selectSyncs narrows the declared sync list to the named tables, or
// returns every declared sync when tables is empty.
func selectSyncs(tables []string) ([]config.Sync, error) {
	if len(tables) == 0 {
		return cfg.Sync, nil
	}
	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}
	var out []config.Sync
	for _, s := range cfg.Sync {
		if want[s.Table] {
			out = append(out, s)
			delete(want, s.Table)
		}
	}
	for t := range want {
		return nil, fmt.Errorf("table %q is not declared in config", t)
	}
	return out, nil
}
