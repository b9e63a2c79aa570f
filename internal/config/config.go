// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first when present; values
// already set in the process environment take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects the transport the binary serves
type Mode string

const (
	ModeHTTP Mode = "http"
	ModeMCP  Mode = "mcp"
)

// Environment variable names
const (
	EnvDBPath          = "AUDIRA_DB_PATH"
	EnvMode            = "AUDIRA_MODE"
	EnvHTTPAddr        = "AUDIRA_HTTP_ADDR"
	EnvGateway         = "AUDIRA_GATEWAY"
	EnvStripeKey       = "STRIPE_SECRET_KEY"
	EnvWebhookSecret   = "STRIPE_WEBHOOK_SECRET"
	EnvKafkaBrokers    = "AUDIRA_KAFKA_BROKERS"
	EnvKafkaTopic      = "AUDIRA_KAFKA_TOPIC"
	EnvIdempotencySize = "AUDIRA_IDEMPOTENCY_CACHE_SIZE"
	EnvShutdownTimeout = "AUDIRA_SHUTDOWN_TIMEOUT"
	EnvLogLevel        = "AUDIRA_LOG_LEVEL"
)

// Defaults
const (
	DefaultDBPath          = "~/.audira/commerce.db"
	DefaultHTTPAddr        = ":8080"
	DefaultKafkaTopic      = "audira.commerce.events"
	DefaultIdempotencySize = 10000
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds every setting the binary needs
type Config struct {
	DBPath          string
	Mode            Mode
	HTTPAddr        string
	Gateway         string // simulated, stripe, or empty for auto-detect
	StripeKey       string
	WebhookSecret   string
	KafkaBrokers    []string
	KafkaTopic      string
	IdempotencySize int
	ShutdownTimeout time.Duration
	LogLevel        string
}

// Load reads the optional .env file and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		DBPath:          getenv(EnvDBPath),
		Mode:            Mode(strings.ToLower(getenv(EnvMode))),
		HTTPAddr:        getenv(EnvHTTPAddr),
		Gateway:         strings.ToLower(getenv(EnvGateway)),
		StripeKey:       getenv(EnvStripeKey),
		WebhookSecret:   getenv(EnvWebhookSecret),
		KafkaTopic:      getenv(EnvKafkaTopic),
		IdempotencySize: DefaultIdempotencySize,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        strings.ToLower(getenv(EnvLogLevel)),
	}

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	path, err := expandHome(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	cfg.DBPath = path

	switch cfg.Mode {
	case "":
		cfg.Mode = ModeHTTP
	case ModeHTTP, ModeMCP:
	default:
		return nil, fmt.Errorf("invalid %s %q: want http or mcp", EnvMode, cfg.Mode)
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = DefaultKafkaTopic
	}
	for _, broker := range strings.Split(getenv(EnvKafkaBrokers), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
		}
	}

	if v := getenv(EnvIdempotencySize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s %q: want a positive integer", EnvIdempotencySize, v)
		}
		cfg.IdempotencySize = n
	}
	if v := getenv(EnvShutdownTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid %s %q: want a positive duration", EnvShutdownTimeout, v)
		}
		cfg.ShutdownTimeout = d
	}

	return cfg, nil
}

// expandHome resolves a leading ~ and makes sure the parent directory exists.
// ":memory:" is passed through untouched.
func expandHome(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create database directory: %w", err)
	}
	return path, nil
}
