package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyEnvFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(emptyEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.ListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Engine.Markets)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("MARKETS", "BTC-USDT, SOL-USDT ,")
	t.Setenv("ENGINE_QUEUE_DEPTH", "16")
	t.Setenv("EVENT_RING_SIZE", "1024")
	t.Setenv("TICKER_INTERVAL_MS", "250")
	t.Setenv("CLIENT_QUEUE_SIZE", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("API_TOKENS", "alice:1,bob:2")
	t.Setenv("DATA_DIR", "")

	cfg, err := Load(emptyEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, []string{"BTC-USDT", "SOL-USDT"}, cfg.Engine.Markets)
	assert.Equal(t, 16, cfg.Engine.QueueDepth)
	assert.Equal(t, int64(1024), cfg.Engine.EventRingSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.TickerInterval)
	assert.Equal(t, 8, cfg.Stream.ClientQueueSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, map[string]uint64{"alice": 1, "bob": 2}, cfg.Server.APITokens)
	assert.Empty(t, cfg.Storage.DataDir)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nKAFKA_TOPIC=book\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("KAFKA_TOPIC")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "book", cfg.Kafka.Topic)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"EVENT_RING_SIZE":    "1000",
		"ENGINE_QUEUE_DEPTH": "-1",
		"TICKER_INTERVAL_MS": "soon",
		"CLIENT_QUEUE_SIZE":  "0",
		"API_TOKENS":         "alice",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(emptyEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
