package cdc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strp(s string) *string { return &s }

func TestProjectRename(t *testing.T) {
	row := map[string]any{"a": 1, "b": 2, "c": 3}
	fields := FieldMapping{"a": strp("x"), "b": nil}
	got := Project(row, fields)
	assert.Equal(t, map[string]any{"x": 1, "b": 2}, got)
}

func TestProjectEmptyFieldsReturnsRowUnchanged(t *testing.T) {
	row := map[string]any{"a": 1, "b": 2, "c": 3}
	assert.Equal(t, row, Project(row, nil))
	assert.Equal(t, row, Project(row, FieldMapping{}))
}

func TestProjectFallsBackWhenProjectionEmpty(t *testing.T) {
	row := map[string]any{"a": 1}
	fields := FieldMapping{"nonexistent": strp("x")}
	assert.Equal(t, row, Project(row, fields))
}

func TestProjectNormalizesTimestampAndDate(t *testing.T) {
	ts := time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC)
	row := map[string]any{
		"created_at": ts,
		"day":        Date(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
		"name":       "x",
	}
	got := Project(row, nil)
	assert.Equal(t, ts.Unix(), got["created_at"])
	assert.Equal(t, "2024-03-05", got["day"])
	assert.Equal(t, "x", got["name"])
}
