package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("MEILISYNC_TEST_HOST", "db.internal")
	got := ExpandEnv([]byte("host: ${MEILISYNC_TEST_HOST}\nport: 5432"))
	assert.Equal(t, "host: db.internal\nport: 5432", string(got))
}

func TestLoadValid(t *testing.T) {
	path := writeTemp(t, `
source:
  type: mysql
  database: test
  host: 127.0.0.1
progress:
  type: file
meilisearch:
  api_url: http://localhost:7700
sync:
  - table: users
    pk: id
    full: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Source.Type)
	assert.Equal(t, "127.0.0.1", cfg.Source.Raw["host"])
	assert.Equal(t, "file", cfg.Progress.Type)
	assert.Equal(t, []string{"users"}, cfg.Tables())
	assert.Equal(t, "users", cfg.Sync[0].IndexName())
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	path := writeTemp(t, `
bogus: true
source: { type: mysql }
progress: { type: file }
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadDecodesPluginRefs(t *testing.T) {
	path := writeTemp(t, `
source: { type: mysql }
progress: { type: file }
plugins:
  - audit
sync:
  - table: users
    plugins:
      - extract
      - name: replace
        tables:
          old_users: users
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "audit", cfg.Plugins[0].Name)
	assert.Nil(t, cfg.Plugins[0].Args)

	require.Len(t, cfg.Sync[0].Plugins, 2)
	assert.Equal(t, "extract", cfg.Sync[0].Plugins[0].Name)
	assert.Nil(t, cfg.Sync[0].Plugins[0].Args)
	assert.Equal(t, "replace", cfg.Sync[0].Plugins[1].Name)
	assert.Equal(t, map[string]any{"tables": map[string]any{"old_users": "users"}}, cfg.Sync[0].Plugins[1].Args)
}

func TestLoadRejectsDuplicateSyncTable(t *testing.T) {
	path := writeTemp(t, `
source: { type: mysql }
progress: { type: file }
sync:
  - table: users
  - table: users
`)
	_, err := Load(path)
	require.Error(t, err)
}
