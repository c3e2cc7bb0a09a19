// Package collection implements the per-cycle coalescing buffer the
// replication engine drains into the sink on every flush: events for the
// same sync and primary key collapse to the most recent one.
package collection

import (
	"sync"

	"github.com/long2ice/meilisync/pkg/cdc"
)

// key identifies one buffered event slot: a declared table plus the value
// of that sync's configured primary key column.
type key struct {
	table string
	pk    any
}

// EventCollection buffers events across one flush interval, keeping only
// the latest event per (table, primary key) -- last-writer-wins. Size is
// tracked incrementally so it stays O(1) to read even though it must be
// kept correct across both AddEvent and PopEvents (the Python original this
// is grounded on once diverged here: it cached size but never updated the
// cache on add, so it always read zero).
type EventCollection struct {
	mu     sync.Mutex
	size   int
	events map[string]map[any]cdc.Event
}

// New returns an empty EventCollection.
func New() *EventCollection {
	return &EventCollection{events: make(map[string]map[any]cdc.Event)}
}

// AddEvent buffers event under table, keyed by the value of its pk column.
// An event already buffered for that key is replaced; size only grows on a
// genuinely new key, not on a replacement.
func (c *EventCollection) AddEvent(table, pk string, event cdc.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.events[table]
	if !ok {
		bucket = make(map[any]cdc.Event)
		c.events[table] = bucket
	}

	k := event.Data[pk]
	if _, existed := bucket[k]; !existed {
		c.size++
	}
	bucket[k] = event
}

// Size returns the number of distinct buffered (table, pk) slots.
func (c *EventCollection) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Drained is the result of PopEvents: every buffered event for one table,
// split by operation.
type Drained struct {
	Created []cdc.Event
	Updated []cdc.Event
	Deleted []cdc.Event
}

// PopEvents atomically drains the buffer, grouping every table's events
// into create/update/delete lists, and resets size to 0. Ordering within
// each list is unspecified.
func (c *EventCollection) PopEvents() map[string]Drained {
	c.mu.Lock()
	events := c.events
	c.events = make(map[string]map[any]cdc.Event)
	c.size = 0
	c.mu.Unlock()

	out := make(map[string]Drained, len(events))
	for table, bucket := range events {
		var d Drained
		for _, event := range bucket {
			switch event.Type {
			case cdc.OpCreate:
				d.Created = append(d.Created, event)
			case cdc.OpUpdate:
				d.Updated = append(d.Updated, event)
			case cdc.OpDelete:
				d.Deleted = append(d.Deleted, event)
			}
		}
		out[table] = d
	}
	return out
}
