// Package source defines the common cursor interface every change-data
// source implements, and a static registry of named drivers.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/long2ice/meilisync/pkg/cdc"
)

// Source is a single source database's change cursor. Implementations
// exist for MySQL binlog, Postgres logical replication (wal2json), and
// MongoDB change streams.
type Source interface {
	// Stream starts consuming the change log and returns a channel of
	// events. The first value sent is always a cdc.ProgressEvent anchoring
	// the stream's resume position, after which only cdc.Event values
	// follow until ctx is canceled or an unrecoverable error closes the
	// channel.
	Stream(ctx context.Context, tables []string) (<-chan any, error)

	// GetFullData returns every row/document currently in table, already
	// field-projected, for a full-refresh bootstrap.
	GetFullData(ctx context.Context, table string, fields cdc.FieldMapping) ([]map[string]any, error)

	// GetCount returns the current row/document count for table.
	GetCount(ctx context.Context, table string) (int64, error)

	// GetCurrentProgress returns the source's current resume position, used
	// when a sync has no prior stored progress.
	GetCurrentProgress(ctx context.Context) (cdc.Checkpoint, error)

	// Ping verifies the underlying connection is alive.
	Ping(ctx context.Context) error

	// Close releases any held connections.
	Close() error
}

// Factory builds a Source from its driver-specific raw config block plus
// the already-decoded database name and prior progress (nil if none).
type Factory func(ctx context.Context, database string, raw map[string]any, progress cdc.Checkpoint) (Source, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register adds a named source driver to the static registry. Called from
// each driver subpackage's init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New constructs the Source registered under typ.
func New(ctx context.Context, typ, database string, raw map[string]any, progress cdc.Checkpoint) (Source, error) {
	mu.RLock()
	factory, ok := registry[typ]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %q is not registered", typ)
	}
	return factory(ctx, database, raw, progress)
}
