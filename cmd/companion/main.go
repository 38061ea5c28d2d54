// Companion serves character chat with short-term history and long-term
// memory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becomeliminal/nim-companion/characters"
	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/engine"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/embedder/cache"
	"github.com/becomeliminal/nim-companion/ratelimit"
	"github.com/becomeliminal/nim-companion/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("companion stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ============================================================================
	// POSTGRES
	// ============================================================================
	var pool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("postgres connected")
	}

	// ============================================================================
	// MEMORY
	// ============================================================================
	history, closeHistory, err := newHistory(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer closeHistory()

	baseEmbedder, closeEmbedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	embedder, err := cache.New(baseEmbedder, cfg.EmbedCacheSize)
	if err != nil {
		return err
	}
	defer embedder.Close()

	store, err := newVectorStore(ctx, cfg, pool, embedder.Dimensions())
	if err != nil {
		return err
	}
	defer store.Close()

	index := memory.NewVectorIndex(store, embedder,
		memory.WithMinScore(cfg.MinScore),
		memory.WithIndexLogger(logger),
	)
	mgr := memory.NewManager(history, index, &memory.Config{
		HistoryWindow: cfg.HistoryWindow,
		TopK:          cfg.TopK,
		CallTimeout:   cfg.CallTimeout,
		Logger:        logger,
	})
	logger.Info("memory configured",
		"history", cfg.HistoryBackend,
		"vectors", cfg.VectorBackend,
		"embedder", cfg.Embedder,
		"dimensions", embedder.Dimensions(),
	)

	// ============================================================================
	// RATE LIMITING
	// ============================================================================
	var counter ratelimit.Counter
	switch cfg.RateLimitBackend {
	case config.RateLimitPostgres:
		pg := ratelimit.NewPgCounter(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		go pruneRateLimits(ctx, pg, cfg.RateWindow*10, logger)
		counter = pg
	default:
		counter = ratelimit.NewMemoryCounter()
	}
	limiter := ratelimit.New(counter, cfg.RateLimit, cfg.RateWindow,
		ratelimit.WithCallTimeout(cfg.CallTimeout),
		ratelimit.WithLogger(logger),
	)

	// ============================================================================
	// ENGINE
	// ============================================================================
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.AnthropicAPIKey),
		option.WithRequestTimeout(cfg.CallTimeout*3),
	)
	model := cfg.GenerationModel
	if model == "" {
		model = engine.DefaultModel
	}
	eng := engine.New(mgr,
		engine.WithGenerator(engine.NewAnthropicGenerator(&client, model, cfg.MaxTokens)),
		engine.WithLimiter(limiter),
		engine.WithRememberTurns(cfg.RememberTurns),
		engine.WithLogger(logger),
	)

	// ============================================================================
	// SERVER
	// ============================================================================
	var source server.CharacterSource
	if cfg.CharactersFile != "" {
		static, err := characters.LoadFile(cfg.CharactersFile)
		if err != nil {
			return err
		}
		source = static
	} else {
		source = characters.NewPostgres(pool, "")
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.New(eng, source, model, server.WithLogger(logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "ws", "/ws", "health", "/health")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func pruneRateLimits(ctx context.Context, pg *ratelimit.PgCounter, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.Prune(ctx)
			if err != nil {
				logger.Warn("failed to prune rate limits", "error", err)
				continue
			}
			logger.Debug("pruned rate limits", "rows", n)
		}
	}
}
