package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "memory", cfg.ReadingStore)
	require.Equal(t, 30*time.Second, cfg.BroadcastInterval)
	require.Equal(t, 30*time.Second, cfg.CacheTTL)
	require.Empty(t, cfg.Warnings)
	require.False(t, cfg.NeedsDatabase())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	require.ErrorContains(t, err, "AUTH_JWT_SECRET")
}

func TestEnvOverridesFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
httpAddr: ":9090"
jwtSecret: file-secret
broadcastInterval: 1m
cacheTTL: 20s
maxClientsPerRoom: 10
wsAllowedOrigins: ["https://ops.example.com"]
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("MAX_CLIENTS_PER_ROOM", "25")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, "file-secret", cfg.JWTSecret)
	require.Equal(t, time.Minute, cfg.BroadcastInterval)
	require.Equal(t, 20*time.Second, cfg.CacheTTL)
	require.Equal(t, 25, cfg.MaxClientsPerRoom)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.WSAllowedOrigins)
}

func TestValidateClampsCacheTTL(t *testing.T) {
	cfg := Defaults()
	cfg.JWTSecret = "secret"
	cfg.BroadcastInterval = 10 * time.Second
	cfg.CacheTTL = time.Minute

	require.NoError(t, cfg.Validate())
	require.Equal(t, 10*time.Second, cfg.CacheTTL)
	require.Len(t, cfg.Warnings, 1)
}

func TestValidateRejectsBadSelections(t *testing.T) {
	cfg := Defaults()
	cfg.JWTSecret = "secret"
	cfg.ReadingStore = "mongo"
	cfg.HierarchySource = "postgres"
	cfg.BroadcastWorkers = 0

	err := cfg.Validate()
	require.ErrorContains(t, err, "READING_STORE")
	require.ErrorContains(t, err, "DATABASE_URL")
	require.ErrorContains(t, err, "BROADCAST_WORKERS")
}

func TestInfluxRequiresURL(t *testing.T) {
	cfg := Defaults()
	cfg.JWTSecret = "secret"
	cfg.ReadingStore = "influx"

	require.ErrorContains(t, cfg.Validate(), "INFLUXDB_URL")
}
