// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aqicast/aqicast/internal/database"
	"github.com/aqicast/aqicast/internal/series"
)

// Store drivers.
const (
	StoreDriverPostgres = series.DriverPostgres
	StoreDriverSQLite   = series.DriverSQLite
)

// Config is the full service configuration.
type Config struct {
	Port        string
	Environment string
	RequireTLS  bool

	WAQIToken       string
	WAQIBaseURL     string
	WAQIMinInterval time.Duration
	LookupTimeout   time.Duration
	LookupCacheTTL  time.Duration

	ModelPath string

	StoreDriver string
	SQLitePath  string
	Database    database.Config

	IngestAt          string
	IngestConcurrency int
	IngestTimeout     time.Duration
	IngestOnStart     bool

	PubSubProjectID    string
	PubSubSubscription string

	OTelEnabled  bool
	OTLPEndpoint string
}

// Load reads a .env file if one exists and then builds a Config from the
// environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (Config, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	concurrency, err := getInt("INGEST_CONCURRENCY", 2)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := Config{
		Port:        getEnvOrDefault("APP_PORT", "8080"),
		Environment: getEnvOrDefault("APP_ENV", "development"),
		RequireTLS:  getBool("REQUIRE_TLS"),

		WAQIToken:       os.Getenv("WAQI_TOKEN"),
		WAQIBaseURL:     os.Getenv("WAQI_BASE_URL"),
		WAQIMinInterval: duration("WAQI_MIN_INTERVAL", 500*time.Millisecond),
		LookupTimeout:   duration("LOOKUP_TIMEOUT", 10*time.Second),
		LookupCacheTTL:  duration("LOOKUP_CACHE_TTL", 10*time.Minute),

		ModelPath: getEnvOrDefault("MODEL_PATH", "model/aqi_mlp.json"),

		StoreDriver: strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreDriverPostgres)),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "data/aqi.db"),
		Database:    database.ConfigFromEnv(),

		IngestAt:          getEnvOrDefault("INGEST_AT", "06:00"),
		IngestConcurrency: concurrency,
		IngestTimeout:     duration("INGEST_TIMEOUT", 30*time.Second),
		IngestOnStart:     getBool("INGEST_ON_START"),

		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),

		OTelEnabled:  getBool("OTEL_ENABLED"),
		OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unsupported driver %q", cfg.StoreDriver))
	}
	if _, err := time.Parse("15:04", cfg.IngestAt); err != nil {
		errs = append(errs, fmt.Errorf("INGEST_AT: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// PubSubEnabled reports whether on-demand ingestion over Pub/Sub is configured.
func (c Config) PubSubEnabled() bool {
	return c.PubSubProjectID != "" && c.PubSubSubscription != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func getInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	if v <= 0 {
		return def, fmt.Errorf("%s: must be positive, got %d", key, v)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return def, fmt.Errorf("%s: must not be negative", key)
	}
	return d, nil
}
