package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sakura-kun-88/startup-compass-89/pkg/category"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	RedisAddr   string

	ChainRPS     float64
	ChainBurst   int
	ChainTimeout time.Duration

	CategoriesFile string
	ProofSeed      string

	OTelEnabled  bool
	OTelEndpoint string

	JWTRequired bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Local sqlite file; postgres:// URLs select Postgres.
		dbURL = "startupops.db"
	}

	otelEndpoint := os.Getenv("OTEL_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		DatabaseURL:    dbURL,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		ChainRPS:       envFloat("CHAIN_RPS", 5),
		ChainBurst:     envInt("CHAIN_BURST", 10),
		ChainTimeout:   envDuration("CHAIN_TIMEOUT", 30*time.Second),
		CategoriesFile: os.Getenv("CATEGORIES_FILE"),
		ProofSeed:      os.Getenv("PROOF_SEED"),
		OTelEnabled:    os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:   otelEndpoint,
		JWTRequired:    os.Getenv("JWT_REQUIRED") == "true",
	}
}

// UsesPostgres reports whether DatabaseURL points at Postgres.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// LoadCategories returns the registry from CategoriesFile, or the built-in
// categories when it is unset.
func (c *Config) LoadCategories() (*category.Registry, error) {
	if c.CategoriesFile == "" {
		return category.Default(), nil
	}
	return category.LoadFile(c.CategoriesFile)
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v >= 0 {
		return v
	}
	return def
}
