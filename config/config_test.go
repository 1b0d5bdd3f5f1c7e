package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"go.eventcore.dev/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Backend.Type)
	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, "memory", cfg.Checkpoint.Type)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("EVENTCORE_BACKEND_TYPE", "sqlite")
	t.Setenv("EVENTCORE_HTTP_PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Backend.Type)
	require.Equal(t, 9090, cfg.HTTP.Port)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"
	require.NoError(t, os.WriteFile(path, []byte(`
dev_mode = true

[backend]
type = "postgres"
postgres_dsn = "postgres://localhost/eventcore"

[http]
port = 9999
`), 0o644))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Backend.Type)
	require.Equal(t, "postgres://localhost/eventcore", cfg.Backend.PostgresDSN)
	require.Equal(t, 9999, cfg.HTTP.Port)
	require.True(t, cfg.DevMode)
}
