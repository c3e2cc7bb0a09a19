package file

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/long2ice/meilisync/pkg/cdc"
)

func TestGetMissingFileReturnsNil(t *testing.T) {
	s := &Store{path: filepath.Join(t.TempDir(), "missing.json")}
	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s := &Store{path: filepath.Join(t.TempDir(), "progress.json")}
	want := cdc.Checkpoint{"master_log_file": "bin.000001", "master_log_position": "4"}

	require.NoError(t, s.Set(context.Background(), want))

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSetOverwritesPreviousCheckpoint(t *testing.T) {
	s := &Store{path: filepath.Join(t.TempDir(), "progress.json")}
	require.NoError(t, s.Set(context.Background(), cdc.Checkpoint{"start_lsn": "0/1"}))
	require.NoError(t, s.Set(context.Background(), cdc.Checkpoint{"start_lsn": "0/2"}))

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cdc.Checkpoint{"start_lsn": "0/2"}, got)
}
