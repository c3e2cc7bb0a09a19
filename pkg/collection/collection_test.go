package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/long2ice/meilisync/pkg/cdc"
)

func TestAddEventLastWriterWinsPerKey(t *testing.T) {
	c := New()
	c.AddEvent("users", "id", cdc.Event{Type: cdc.OpCreate, Table: "users", Data: map[string]any{"id": 1, "name": "a"}})
	c.AddEvent("users", "id", cdc.Event{Type: cdc.OpUpdate, Table: "users", Data: map[string]any{"id": 1, "name": "b"}})

	assert.Equal(t, 1, c.Size())
	drained := c.PopEvents()
	assert.Len(t, drained["users"].Updated, 1)
	assert.Equal(t, "b", drained["users"].Updated[0].Data["name"])
	assert.Empty(t, drained["users"].Created)
}

func TestSizeGrowsOnlyForNewKeys(t *testing.T) {
	c := New()
	c.AddEvent("users", "id", cdc.Event{Data: map[string]any{"id": 1}})
	c.AddEvent("users", "id", cdc.Event{Data: map[string]any{"id": 1}})
	c.AddEvent("users", "id", cdc.Event{Data: map[string]any{"id": 2}})

	assert.Equal(t, 2, c.Size())
}

func TestPopEventsResetsBufferAndSize(t *testing.T) {
	c := New()
	c.AddEvent("users", "id", cdc.Event{Type: cdc.OpDelete, Data: map[string]any{"id": 1}})

	first := c.PopEvents()
	assert.Len(t, first["users"].Deleted, 1)
	assert.Equal(t, 0, c.Size())

	second := c.PopEvents()
	assert.Empty(t, second)
}

func TestPopEventsSplitsByOperationAcrossTables(t *testing.T) {
	c := New()
	c.AddEvent("users", "id", cdc.Event{Type: cdc.OpCreate, Data: map[string]any{"id": 1}})
	c.AddEvent("orders", "id", cdc.Event{Type: cdc.OpDelete, Data: map[string]any{"id": 9}})

	drained := c.PopEvents()
	assert.Len(t, drained["users"].Created, 1)
	assert.Len(t, drained["orders"].Deleted, 1)
}
