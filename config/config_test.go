package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/becomeliminal/nim-companion/core"
)

// setBase sets the minimum environment for a local setup.
func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("HISTORY_BACKEND", "bolt")
	t.Setenv("VECTOR_BACKEND", "chromem")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	t.Setenv("EMBEDDER", "mock")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHARACTERS_FILE", "characters.json")
	for _, key := range []string{"HISTORY_WINDOW", "TOP_K", "CALL_TIMEOUT", "RATE_LIMIT", "RATE_WINDOW", "MAX_TOKENS", "LOG_LEVEL", "LOG_FORMAT", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	setBase(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.HistoryWindow != 30 || cfg.TopK != 3 {
		t.Fatalf("unexpected window/topK %d/%d", cfg.HistoryWindow, cfg.TopK)
	}
	if cfg.CallTimeout != 10*time.Second {
		t.Fatalf("unexpected call timeout %v", cfg.CallTimeout)
	}
	if cfg.RateLimit != 10 || cfg.RateWindow != 10*time.Second {
		t.Fatalf("unexpected rate limit %d per %v", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected log level %v", cfg.LogLevel)
	}
	if cfg.NeedsPostgres() {
		t.Fatal("local setup should not need postgres")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	setBase(t)
	t.Setenv("HISTORY_WINDOW", "12")
	t.Setenv("CALL_TIMEOUT", "2500ms")
	t.Setenv("RATE_WINDOW", "1m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("REMEMBER_TURNS", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HistoryWindow != 12 {
		t.Fatalf("expected window 12, got %d", cfg.HistoryWindow)
	}
	if cfg.CallTimeout != 2500*time.Millisecond || cfg.RateWindow != time.Minute {
		t.Fatalf("unexpected durations %v %v", cfg.CallTimeout, cfg.RateWindow)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "json" {
		t.Fatalf("unexpected logging config %v %q", cfg.LogLevel, cfg.LogFormat)
	}
	if !cfg.RememberTurns {
		t.Fatal("expected remember turns enabled")
	}
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"unknown history backend", map[string]string{"HISTORY_BACKEND": "redis"}, "HISTORY_BACKEND"},
		{"postgres without url", map[string]string{"HISTORY_BACKEND": "postgres"}, "DATABASE_URL"},
		{"openai without key", map[string]string{"EMBEDDER": "openai", "OPENAI_API_KEY": ""}, "OPENAI_API_KEY"},
		{"missing anthropic key", map[string]string{"ANTHROPIC_API_KEY": ""}, "ANTHROPIC_API_KEY"},
		{"bad window", map[string]string{"HISTORY_WINDOW": "zero"}, "HISTORY_WINDOW"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := FromEnv()
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}
