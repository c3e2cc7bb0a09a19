// Package redisstore implements a progress.Store backed by a Redis hash,
// using go-redis/v9.
package redisstore

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"github.com/long2ice/meilisync/pkg/cdc"
	"github.com/long2ice/meilisync/pkg/progress"
)

func init() {
	progress.Register("redis", func(raw map[string]any) (progress.Store, error) {
		var cfg config
		cfg.DSN = "redis://localhost:6379/0"
		cfg.Key = "meilisync:progress"
		if err := mapstructure.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode redis progress config: %w", err)
		}
		opts, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		return &Store{client: redis.NewClient(opts), key: cfg.Key}, nil
	})
}

type config struct {
	DSN string `mapstructure:"dsn"`
	Key string `mapstructure:"key"`
}

// Store is a progress.Store that keeps the checkpoint as a Redis hash,
// replaced wholesale on every Set.
type Store struct {
	client *redis.Client
	key    string
}

var _ progress.Store = (*Store)(nil)

func (s *Store) Type() string { return "redis" }

// Set replaces the stored checkpoint hash with checkpoint. Fields present in
// the previous checkpoint but absent from this one are deleted first, since
// HSET alone only ever adds/overwrites fields.
func (s *Store) Set(ctx context.Context, checkpoint cdc.Checkpoint) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear redis progress hash: %w", err)
	}
	if len(checkpoint) == 0 {
		return nil
	}
	fields := make(map[string]any, len(checkpoint))
	for k, v := range checkpoint {
		fields[k] = v
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("set redis progress hash: %w", err)
	}
	return nil
}

// Get returns a nil Checkpoint, not an error, if the hash does not exist.
func (s *Store) Get(ctx context.Context) (cdc.Checkpoint, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("get redis progress hash: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	checkpoint := make(cdc.Checkpoint, len(raw))
	for k, v := range raw {
		checkpoint[k] = v
	}
	return checkpoint, nil
}
