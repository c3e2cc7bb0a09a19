// Package file implements a progress.Store backed by a single JSON file on
// local disk.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/progress"
)

func init() {
	progress.Register("file", func(raw map[string]any) (progress.Store, error) {
		var cfg config
		cfg.Path = "progress.json"
		if err := mapstructure.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode file progress config: %w", err)
		}
		return &Store{path: cfg.Path}, nil
	})
}

type config struct {
	Path string `mapstructure:"path"`
}

// Store is a progress.Store that keeps the checkpoint in a JSON file,
// overwritten atomically (write to a temp file, then rename) on every Set.
type Store struct {
	mu   sync.Mutex
	path string
}

var _ progress.Store = (*Store)(nil)

func (s *Store) Type() string { return "file" }

// Set atomically overwrites the progress file with checkpoint.
func (s *Store) Set(_ context.Context, checkpoint cdc.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp progress file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp progress file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp progress file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename progress file: %w", err)
	}
	return nil
}

// Get reads the stored checkpoint, returning a nil Checkpoint and no error
// if the progress file does not exist yet.
func (s *Store) Get(_ context.Context) (cdc.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	var checkpoint cdc.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("unmarshal progress file: %w", err)
	}
	return checkpoint, nil
}
