// Package progress defines the checkpoint persistence interface each
// replication engine uses to remember where it left off in a source's
// change log, and a static registry of named implementations.
package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/long2ice/meilisync/pkg/cdc"
)

// Store persists and recalls a single source's checkpoint. Set always
// replaces the stored checkpoint wholesale; there is no partial merge.
type Store interface {
	Set(ctx context.Context, checkpoint cdc.Checkpoint) error
	// Get returns a nil Checkpoint, not an error, when none has been
	// stored yet -- the source then starts from the current head of its
	// change log.
	Get(ctx context.Context) (cdc.Checkpoint, error)
	Type() string
}

// Factory builds a Store from its driver-specific raw config block.
type Factory func(raw map[string]any) (Store, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register adds a named progress store driver to the static registry.
// Called from each driver subpackage's init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New constructs the Store registered under typ, configured from raw.
func New(typ string, raw map[string]any) (Store, error) {
	mu.RLock()
	factory, ok := registry[typ]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("progress store %q is not registered", typ)
	}
	return factory(raw)
}
