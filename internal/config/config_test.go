package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
api_token: "00000000-0000-0000-0000-000000000000"
database_path: /tmp/test-cache.db
sync_interval: 30m
request_timeout: 10s
dashboard_addr: "localhost:9000"
`)
	loader, err := Load(path)
	require.NoError(t, err)

	cfg := loader.Current()
	require.Equal(t, "00000000-0000-0000-0000-000000000000", cfg.APIToken)
	require.Equal(t, "/tmp/test-cache.db", cfg.DatabasePath)
	require.Equal(t, 30*time.Minute, cfg.SyncInterval)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout)
	require.Equal(t, "localhost:9000", cfg.DashboardAddr)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
api_token: "00000000-0000-0000-0000-000000000000"
`)
	loader, err := Load(path)
	require.NoError(t, err)

	cfg := loader.Current()
	require.Equal(t, time.Hour, cfg.SyncInterval)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, "api.wanikani.com:443", cfg.ProbeAddress)
	require.NotEmpty(t, cfg.DatabasePath, "database path must default")
	require.Empty(t, cfg.DashboardAddr, "dashboard is off by default")
}

func TestLoadRequiresToken(t *testing.T) {
	path := writeConfig(t, `
sync_interval: 30m
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "api_token")
}

func TestLoadTokenFromEnv(t *testing.T) {
	t.Setenv("TSURUKAME_API_TOKEN", "11111111-1111-1111-1111-111111111111")
	path := writeConfig(t, `
sync_interval: 30m
`)
	loader, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "11111111-1111-1111-1111-111111111111", loader.Current().APIToken)
}

func TestValidateRejectsShortInterval(t *testing.T) {
	path := writeConfig(t, `
api_token: "00000000-0000-0000-0000-000000000000"
sync_interval: 5s
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "sync_interval")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
