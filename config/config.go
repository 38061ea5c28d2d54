// Package config loads service configuration from the environment.
//
// A .env file in the working directory is loaded first if present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"

	"github.com/becomeliminal/nim-companion/core"
)

// Backends.
const (
	HistoryPostgres = "postgres"
	HistoryBolt     = "bolt"

	VectorChromem  = "chromem"
	VectorPgvector = "pgvector"

	EmbedderOpenAI = "openai"
	EmbedderMock   = "mock"
	EmbedderONNX   = "onnx"

	RateLimitPostgres = "postgres"
	RateLimitMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	Port        string
	DatabaseURL string

	// CharactersFile serves characters from a JSON file instead of the
	// "characters" table.
	CharactersFile string

	HistoryBackend string
	BoltPath       string

	VectorBackend string
	ChromemPath   string
	MinScore      float32

	Embedder            string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbedCacheSize      int64
	ONNXLibraryPath     string
	ONNXModelPath       string
	ONNXTokenizerPath   string

	AnthropicAPIKey string
	GenerationModel string
	MaxTokens       int64
	RememberTurns   bool

	HistoryWindow int
	TopK          int
	CallTimeout   time.Duration

	RateLimitBackend string
	RateLimit        int
	RateWindow       time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// Load reads .env (if any) and the environment, applies defaults and
// validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        str("PORT", "8080"),
		DatabaseURL: str("DATABASE_URL", ""),

		CharactersFile: str("CHARACTERS_FILE", ""),

		HistoryBackend: strings.ToLower(str("HISTORY_BACKEND", HistoryPostgres)),
		BoltPath:       str("BOLT_PATH", "data/history.db"),

		VectorBackend: strings.ToLower(str("VECTOR_BACKEND", VectorChromem)),
		ChromemPath:   str("CHROMEM_PATH", ""),
		MinScore:      cast.ToFloat32(str("MIN_SCORE", "-1")),

		Embedder:            strings.ToLower(str("EMBEDDER", EmbedderOpenAI)),
		OpenAIAPIKey:        str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       str("OPENAI_BASE_URL", ""),
		EmbeddingModel:      str("EMBEDDING_MODEL", ""),
		EmbeddingDimensions: cast.ToInt(str("EMBEDDING_DIMENSIONS", "0")),
		EmbedCacheSize:      cast.ToInt64(str("EMBED_CACHE_SIZE", "10000")),
		ONNXLibraryPath:     str("ONNX_LIBRARY_PATH", ""),
		ONNXModelPath:       str("ONNX_MODEL_PATH", ""),
		ONNXTokenizerPath:   str("ONNX_TOKENIZER_PATH", ""),

		AnthropicAPIKey: str("ANTHROPIC_API_KEY", ""),
		GenerationModel: str("GENERATION_MODEL", ""),
		MaxTokens:       cast.ToInt64(str("MAX_TOKENS", "1024")),
		RememberTurns:   cast.ToBool(str("REMEMBER_TURNS", "false")),

		HistoryWindow: cast.ToInt(str("HISTORY_WINDOW", "30")),
		TopK:          cast.ToInt(str("TOP_K", "3")),
		CallTimeout:   cast.ToDuration(str("CALL_TIMEOUT", "10s")),

		RateLimitBackend: strings.ToLower(str("RATE_LIMIT_BACKEND", RateLimitPostgres)),
		RateLimit:        cast.ToInt(str("RATE_LIMIT", "10")),
		RateWindow:       cast.ToDuration(str("RATE_WINDOW", "10s")),

		LogFormat: strings.ToLower(str("LOG_FORMAT", "text")),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(str("LOG_LEVEL", "info"))); err != nil {
		return nil, &core.ValidationError{Field: "LOG_LEVEL", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend names, required credentials and numeric ranges.
func (c *Config) Validate() error {
	if err := oneOf("HISTORY_BACKEND", c.HistoryBackend, HistoryPostgres, HistoryBolt); err != nil {
		return err
	}
	if err := oneOf("VECTOR_BACKEND", c.VectorBackend, VectorChromem, VectorPgvector); err != nil {
		return err
	}
	if err := oneOf("EMBEDDER", c.Embedder, EmbedderOpenAI, EmbedderMock, EmbedderONNX); err != nil {
		return err
	}
	if err := oneOf("RATE_LIMIT_BACKEND", c.RateLimitBackend, RateLimitPostgres, RateLimitMemory); err != nil {
		return err
	}
	if err := oneOf("LOG_FORMAT", c.LogFormat, "text", "json"); err != nil {
		return err
	}

	if c.NeedsPostgres() && c.DatabaseURL == "" {
		return &core.ValidationError{Field: "DATABASE_URL", Reason: "required by the selected backends"}
	}
	if c.Embedder == EmbedderOpenAI && c.OpenAIAPIKey == "" {
		return &core.ValidationError{Field: "OPENAI_API_KEY", Reason: "required when EMBEDDER=openai"}
	}
	if c.Embedder == EmbedderONNX && c.ONNXModelPath == "" {
		return &core.ValidationError{Field: "ONNX_MODEL_PATH", Reason: "required when EMBEDDER=onnx"}
	}
	if c.AnthropicAPIKey == "" {
		return &core.ValidationError{Field: "ANTHROPIC_API_KEY", Reason: "required"}
	}

	for _, f := range []struct {
		name  string
		value int64
	}{
		{"HISTORY_WINDOW", int64(c.HistoryWindow)},
		{"TOP_K", int64(c.TopK)},
		{"RATE_LIMIT", int64(c.RateLimit)},
		{"MAX_TOKENS", c.MaxTokens},
		{"CALL_TIMEOUT", int64(c.CallTimeout)},
		{"RATE_WINDOW", int64(c.RateWindow)},
	} {
		if f.value <= 0 {
			return &core.ValidationError{Field: f.name, Reason: "must be positive"}
		}
	}
	return nil
}

// NeedsPostgres reports whether any selected backend uses DATABASE_URL.
func (c *Config) NeedsPostgres() bool {
	return c.HistoryBackend == HistoryPostgres ||
		c.VectorBackend == VectorPgvector ||
		c.RateLimitBackend == RateLimitPostgres ||
		c.CharactersFile == ""
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &core.ValidationError{Field: field, Reason: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))}
}
