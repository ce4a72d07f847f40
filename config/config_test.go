package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/config"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refinedb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "mysql"

[mysql]
dsn = "user:pass@tcp(127.0.0.1:3306)/refinedb"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.BackendMySQL, cfg.Backend)
	require.Equal(t, "user:pass@tcp(127.0.0.1:3306)/refinedb", cfg.MySQL.DSN)
	require.Equal(t, "info", cfg.Log.Level, "unset fields fall back to defaults")
	require.True(t, cfg.Telemetry.Enabled)
}

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}
