package postgressrc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/long2ice/meilisync/pkg/cdc"
)

func TestDecodeWal2JSONInsert(t *testing.T) {
	payload := []byte(`{
		"nextlsn": "0/1A2B3C4",
		"change": [
			{"kind": "insert", "table": "users", "columnnames": ["id", "name"], "columnvalues": [1, "alice"]}
		]
	}`)

	events := decodeWal2JSON(payload, map[string]bool{"users": true})
	assert.Len(t, events, 1)
	assert.Equal(t, cdc.OpCreate, events[0].Type)
	assert.Equal(t, "users", events[0].Table)
	assert.Equal(t, map[string]any{"id": float64(1), "name": "alice"}, events[0].Data)
	assert.Equal(t, cdc.Checkpoint{"start_lsn": "0/1A2B3C4"}, events[0].Progress)
}

func TestDecodeWal2JSONDeleteUsesOldKeys(t *testing.T) {
	payload := []byte(`{
		"nextlsn": "0/1A2B3C5",
		"change": [
			{"kind": "delete", "table": "users", "oldkeys": {"keynames": ["id"], "keyvalues": [7]}}
		]
	}`)

	events := decodeWal2JSON(payload, map[string]bool{"users": true})
	assert.Len(t, events, 1)
	assert.Equal(t, cdc.OpDelete, events[0].Type)
	assert.Equal(t, map[string]any{"id": float64(7)}, events[0].Data)
}

func TestDecodeWal2JSONFiltersUndeclaredTablesPerChange(t *testing.T) {
	payload := []byte(`{
		"nextlsn": "0/1A2B3C6",
		"change": [
			{"kind": "insert", "table": "other", "columnnames": ["id"], "columnvalues": [1]},
			{"kind": "insert", "table": "users", "columnnames": ["id"], "columnvalues": [2]}
		]
	}`)

	events := decodeWal2JSON(payload, map[string]bool{"users": true})
	assert.Len(t, events, 1)
	assert.Equal(t, "users", events[0].Table)
}

func TestDecodeWal2JSONIgnoresUnknownKind(t *testing.T) {
	payload := []byte(`{"nextlsn": "0/1", "change": [{"kind": "truncate", "table": "users"}]}`)
	events := decodeWal2JSON(payload, map[string]bool{"users": true})
	assert.Empty(t, events)
}
