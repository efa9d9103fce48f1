package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "none")
	t.Setenv("STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 35*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 30*time.Minute, cfg.LobbyTTL)
	assert.Equal(t, 48*time.Hour, cfg.RateLimitRetention)
	assert.True(t, cfg.RelayRemote)
	assert.NotEmpty(t, cfg.InstanceID)
	assert.True(t, cfg.GeneratedSecret)
	assert.Len(t, cfg.RealtimeTokenSecret, 64)
	assert.Empty(t, cfg.File)
	assert.Equal(t, logrus.InfoLevel, cfg.NewLogger().GetLevel())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := "port: 9090\nstore: memory\nlobby_ttl: 45m\nbroker: none\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("PORT", "7070")
	t.Setenv("REALTIME_TOKEN_SECRET", "shh")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, BrokerNone, cfg.Broker)
	assert.Equal(t, "shh", cfg.RealtimeTokenSecret)
	assert.False(t, cfg.GeneratedSecret)
	assert.Contains(t, cfg.File, "config.test.yaml")
	assert.Equal(t, 45*time.Minute, cfg.Lobby().LobbyTTL)
	assert.Equal(t, 20, cfg.Lobby().MaxPendingRequests)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "database_url")

	t.Setenv("STORE", "sqlite")
	_, err = Load()
	assert.ErrorContains(t, err, "unknown store")

	t.Setenv("STORE", "memory")
	t.Setenv("BROKER", "kafka")
	_, err = Load()
	assert.ErrorContains(t, err, "unknown broker")
}
