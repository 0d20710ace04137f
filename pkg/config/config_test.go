package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakura-kun-88/startup-compass-89/pkg/config"
)

var keys = []string{
	"PORT", "LOG_LEVEL", "DATABASE_URL", "REDIS_ADDR", "CHAIN_RPS", "CHAIN_BURST",
	"CHAIN_TIMEOUT", "CATEGORIES_FILE", "PROOF_SEED", "OTEL_ENABLED", "OTEL_ENDPOINT", "JWT_REQUIRED",
}

// TestLoad_Defaults verifies the service boots with local defaults.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "startupops.db", cfg.DatabaseURL)
	assert.False(t, cfg.UsesPostgres())
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 5.0, cfg.ChainRPS)
	assert.Equal(t, 10, cfg.ChainBurst)
	assert.Equal(t, 30*time.Second, cfg.ChainTimeout)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, "localhost:4317", cfg.OTelEndpoint)
	assert.False(t, cfg.JWTRequired)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://ops@db:5432/startupops")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CHAIN_RPS", "0.5")
	t.Setenv("CHAIN_BURST", "2")
	t.Setenv("CHAIN_TIMEOUT", "5s")
	t.Setenv("PROOF_SEED", "seed")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("JWT_REQUIRED", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 0.5, cfg.ChainRPS)
	assert.Equal(t, 2, cfg.ChainBurst)
	assert.Equal(t, 5*time.Second, cfg.ChainTimeout)
	assert.Equal(t, "seed", cfg.ProofSeed)
	assert.True(t, cfg.OTelEnabled)
	assert.True(t, cfg.JWTRequired)
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("CHAIN_RPS", "fast")
	t.Setenv("CHAIN_BURST", "-3")
	t.Setenv("CHAIN_TIMEOUT", "soon")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg := config.Load()
	assert.Equal(t, 5.0, cfg.ChainRPS)
	assert.Equal(t, 10, cfg.ChainBurst)
	assert.Equal(t, 30*time.Second, cfg.ChainTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadCategories(t *testing.T) {
	cfg := &config.Config{}
	reg, err := cfg.LoadCategories()
	require.NoError(t, err)
	_, ok := reg.Lookup("revenue")
	assert.True(t, ok)

	path := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: 1.2.0
categories:
  - name: burn
    call: recordMetric
    tag: burn
    args: [$record, $tag, $ciphertext, $proof]
`), 0o600))
	cfg.CategoriesFile = path
	reg, err = cfg.LoadCategories()
	require.NoError(t, err)
	assert.Equal(t, []string{"burn"}, reg.Names())

	cfg.CategoriesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.LoadCategories()
	assert.Error(t, err)
}
