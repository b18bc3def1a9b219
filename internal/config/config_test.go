package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whiteboard-backend/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	// empty values count as unset
	for _, key := range []string{"PORT", "METRICS_ENABLED", "CHECKPOINT_INTERVAL", "PRESENCE_TTL", "WS_SEND_QUEUE_SIZE", "DB_DRIVER", "REDIS_ADDR", "JWT_SECRET"} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Port)
	require.True(t, cfg.Server.Metrics)
	require.Equal(t, 5*time.Second, cfg.Sync.CheckpointInterval)
	require.Equal(t, 60*time.Second, cfg.Sync.PresenceTTL)
	require.Equal(t, 256, cfg.WebSocket.SendQueueSize)
	require.Equal(t, config.DriverPostgres, cfg.Database.Driver)
	require.Empty(t, cfg.Redis.Addr)
	require.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", ":9000")
	t.Setenv("CHECKPOINT_INTERVAL", "2")
	t.Setenv("PRESENCE_TTL", "90s")
	t.Setenv("DB_DRIVER", "MEMORY")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("WS_SEND_QUEUE_SIZE", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Server.Port)
	require.Equal(t, 2*time.Second, cfg.Sync.CheckpointInterval, "bare numbers are seconds")
	require.Equal(t, 90*time.Second, cfg.Sync.PresenceTTL)
	require.Equal(t, config.DriverMemory, cfg.Database.Driver)
	require.False(t, cfg.Server.Metrics)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 256, cfg.WebSocket.SendQueueSize, "invalid values fall back to the default")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CHECKPOINT_INTERVAL", "-1s")
	t.Setenv("DB_DRIVER", "sqlite")

	_, err := config.Load()
	require.Error(t, err)
	require.ErrorContains(t, err, "CHECKPOINT_INTERVAL")
	require.ErrorContains(t, err, "sqlite")
}

func TestLoad_PresenceTTLTooShort(t *testing.T) {
	t.Setenv("PRESENCE_TTL", "1ns")

	_, err := config.Load()
	require.ErrorContains(t, err, "PRESENCE_TTL")

	t.Setenv("PRESENCE_TTL", "2s")
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, config.MinPresenceTTL, cfg.Sync.PresenceTTL)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := config.DatabaseConfig{
		Host:     "db",
		Port:     "5432",
		User:     "u",
		Password: "p",
		DBName:   "wb",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}
	require.Equal(t, "host=db port=5432 user=u password=p dbname=wb sslmode=disable TimeZone=UTC", d.DSN())
}
