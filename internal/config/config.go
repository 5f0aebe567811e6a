package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the dialog server.
type Config struct {
	BindAddr           string
	ShutdownTimeout    time.Duration
	SessionIdleTimeout time.Duration
	JanitorInterval    time.Duration
	MetricsNamespace   string

	AllowAnyOrigin bool

	// SpeechProvider selects the recognizer/synthesizer backend. Only "mock"
	// ships in-tree; real engines plug in through the speech interfaces.
	SpeechProvider string

	// ModelCatalogPath optionally points at a JSON file with extra dialog
	// models, merged over the built-in catalog.
	ModelCatalogPath string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("PARLEY_BIND_ADDR", ":9000"),
		MetricsNamespace:   envOrDefault("PARLEY_METRICS_NAMESPACE", "parley"),
		SpeechProvider:     envOrDefault("PARLEY_SPEECH_PROVIDER", "mock"),
		ModelCatalogPath:   envTrimmed("PARLEY_MODEL_CATALOG"),
		DatabaseURL:        envTrimmed("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		SessionIdleTimeout: 2 * time.Minute,
		JanitorInterval:    5 * time.Second,
		AllowAnyOrigin:     false,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("PARLEY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("PARLEY_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = durationFromEnv("PARLEY_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("PARLEY_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("PARLEY_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("PARLEY_JANITOR_INTERVAL must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.SpeechProvider)) {
	case "mock":
	default:
		return Config{}, fmt.Errorf("invalid PARLEY_SPEECH_PROVIDER: %q (expected mock)", cfg.SpeechProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
