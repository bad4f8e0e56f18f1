package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/metacatalog/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 16, cfg.Session.MaxConcurrent)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
driver = "postgres"
dsn = "postgres://x"

[session]
max_concurrent = 4
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Session.MaxConcurrent)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
driver = "postgres"
`), 0o644))

	t.Setenv("CATALOGD_STORE_DRIVER", "mysql")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Store.Driver)
}

func TestLoad_RejectsInvalidDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
driver = "oracle"
`), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}
