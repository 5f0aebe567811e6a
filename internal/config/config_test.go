package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9000" {
		t.Fatalf("BindAddr = %q, want :9000", cfg.BindAddr)
	}
	if cfg.SessionIdleTimeout != 2*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v, want 2m", cfg.SessionIdleTimeout)
	}
	if cfg.JanitorInterval != 5*time.Second {
		t.Fatalf("JanitorInterval = %v, want 5s", cfg.JanitorInterval)
	}
	if cfg.SpeechProvider != "mock" {
		t.Fatalf("SpeechProvider = %q, want mock", cfg.SpeechProvider)
	}
	if cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = true, want false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PARLEY_BIND_ADDR", "127.0.0.1:7777")
	t.Setenv("PARLEY_SESSION_IDLE_TIMEOUT", "90s")
	t.Setenv("PARLEY_ALLOW_ANY_ORIGIN", "true")
	t.Setenv("DATABASE_URL", " postgres://u@localhost/parley ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:7777" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.SessionIdleTimeout != 90*time.Second {
		t.Fatalf("SessionIdleTimeout = %v", cfg.SessionIdleTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.DatabaseURL != "postgres://u@localhost/parley" {
		t.Fatalf("DatabaseURL = %q, want trimmed value", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("PARLEY_SHUTDOWN_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted an unparseable duration")
	}
}

func TestLoadRejectsTinyIdleTimeout(t *testing.T) {
	t.Setenv("PARLEY_SESSION_IDLE_TIMEOUT", "1s")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a 1s idle timeout")
	}
}

func TestLoadRejectsUnknownSpeechProvider(t *testing.T) {
	t.Setenv("PARLEY_SPEECH_PROVIDER", "whisper")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted an unknown speech provider")
	}
}

func TestLoadRejectsBadBool(t *testing.T) {
	t.Setenv("PARLEY_ALLOW_ANY_ORIGIN", "maybe")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a non-boolean origin flag")
	}
}
