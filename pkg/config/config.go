// Package config assembles gateway configuration from environment
// variables plus two YAML reference files: the authority connection
// profile and the control point catalogue.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Authority environment names. The profile file may define others; these
// are the ones shipped by default.
const (
	EnvTesting      = "testing"
	EnvHomologation = "homologation"
	EnvProduction   = "production"
)

// Config is the process-level configuration.
type Config struct {
	ListenAddr string
	// DatabaseURL selects the ledger backend: a postgres:// URL, a
	// file path for SQLite, or empty for the in-memory ledger.
	DatabaseURL    string
	DatabaseDriver string

	// RedisAddr enables the distributed position forward gate. Empty
	// keeps the in-process gate.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Environment selects the authority environment from the profile.
	Environment       string
	ProfilePath       string
	ControlPointsPath string
	VoyagesPath       string

	// Export bundle storage.
	ExportBackend string // "fs", "s3" or "gcs"
	ExportBucket  string
	ExportDir     string

	// Position suppression window.
	ForwardInterval  time.Duration
	ForwardDistanceM float64

	// Observability.
	OTLPEndpoint     string
	TelemetryEnabled bool

	// API hardening.
	RateLimitRPS   float64
	RateLimitBurst int
}

// FromEnv reads the configuration from MICDTA_* environment variables,
// applying defaults suitable for local development.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:        getenvDefault("MICDTA_LISTEN_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("MICDTA_DATABASE_URL"),
		RedisAddr:         os.Getenv("MICDTA_REDIS_ADDR"),
		RedisPassword:     os.Getenv("MICDTA_REDIS_PASSWORD"),
		RedisDB:           getenvIntDefault("MICDTA_REDIS_DB", 0),
		Environment:       getenvDefault("MICDTA_ENV", EnvTesting),
		ProfilePath:       getenvDefault("MICDTA_PROFILE", "profile.yaml"),
		ControlPointsPath: getenvDefault("MICDTA_CONTROL_POINTS", "control_points.yaml"),
		VoyagesPath:       getenvDefault("MICDTA_VOYAGES", "voyages.yaml"),
		ExportBackend:     getenvDefault("MICDTA_EXPORT_BACKEND", "fs"),
		ExportBucket:      os.Getenv("MICDTA_EXPORT_BUCKET"),
		ExportDir:         getenvDefault("MICDTA_EXPORT_DIR", "exports"),
		ForwardInterval:   getenvDurationDefault("MICDTA_FORWARD_INTERVAL", 5*time.Minute),
		ForwardDistanceM:  getenvFloatDefault("MICDTA_FORWARD_DISTANCE_M", 500),
		OTLPEndpoint:      getenvDefault("MICDTA_OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:  getenvBoolDefault("MICDTA_TELEMETRY", false),
		RateLimitRPS:      getenvFloatDefault("MICDTA_RATE_LIMIT_RPS", 20),
		RateLimitBurst:    getenvIntDefault("MICDTA_RATE_LIMIT_BURST", 40),
	}

	cfg.DatabaseDriver = DriverFor(cfg.DatabaseURL)

	switch cfg.ExportBackend {
	case "fs", "s3", "gcs":
	default:
		return nil, fmt.Errorf("config: unknown export backend %q", cfg.ExportBackend)
	}
	if (cfg.ExportBackend == "s3" || cfg.ExportBackend == "gcs") && cfg.ExportBucket == "" {
		return nil, fmt.Errorf("config: MICDTA_EXPORT_BUCKET must be set for backend %s", cfg.ExportBackend)
	}
	return cfg, nil
}

// DriverFor maps a database URL onto the sql driver name. Postgres URLs
// keep lib/pq; anything else non-empty is treated as a SQLite path.
func DriverFor(url string) string {
	switch {
	case url == "":
		return ""
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
