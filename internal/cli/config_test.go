package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "glyph.db", cfg.Storage.Path)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeFile(t, t.TempDir(), "glyph.yaml", `
limits:
  max_depth: 50
  max_actions: 500
storage:
  backend: badger
  path: ./data
  sync_writes: true
parallelism: 4
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Limits.MaxDepth)
	assert.Equal(t, 500, cfg.Limits.MaxActions)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, 4, cfg.Parallelism)

	assert.Len(t, cfg.ManagerOptions(nil, nil), 4)
}

func TestLoadConfig_EmptyFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "glyph.yaml", "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", "storage:\n  engine: sqlite\n", "field engine not found"},
		{"bad backend", "storage:\n  backend: postgres\n", "storage.backend must be one of sqlite, badger, memory"},
		{"missing path", "storage:\n  backend: badger\n  path: \"\"\n", "storage.path is required for the badger backend"},
		{"sqlite without path", "storage:\n  path: \"\"\n", "storage.path is required for the sqlite backend"},
		{"negative depth", "limits:\n  max_depth: -1\n", "limits.max_depth must be non-negative"},
		{"negative actions", "limits:\n  max_actions: -3\n", "limits.max_actions must be non-negative"},
		{"negative parallelism", "parallelism: -2\n", "parallelism must be non-negative"},
		{"malformed", "storage: [", "failed to parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "glyph.yaml", tt.content)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/glyph.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConfig_MemoryBackend(t *testing.T) {
	path := writeFile(t, t.TempDir(), "glyph.yaml", "storage:\n  backend: memory\n  path: \"\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	st, err := cfg.OpenStorage(nil)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestResolveConfig(t *testing.T) {
	cfg, err := resolveConfig(&RootOptions{}, "other.db")
	require.NoError(t, err)
	assert.Equal(t, "other.db", cfg.Storage.Path)

	_, err = resolveConfig(&RootOptions{ConfigPath: "/nonexistent/glyph.yaml"}, "")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeBadConfig)
}
