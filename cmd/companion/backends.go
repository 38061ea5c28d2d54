package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becomeliminal/nim-companion/config"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/memory/embedder/mock"
	"github.com/becomeliminal/nim-companion/memory/embedder/openai"
	"github.com/becomeliminal/nim-companion/memory/history/bolt"
	"github.com/becomeliminal/nim-companion/memory/history/postgres"
	"github.com/becomeliminal/nim-companion/memory/store/chromem"
	"github.com/becomeliminal/nim-companion/memory/store/pgvector"
)

func newHistory(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (memory.HistoryStore, func(), error) {
	switch cfg.HistoryBackend {
	case config.HistoryBolt:
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		store := postgres.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func newEmbedder(cfg *config.Config) (memory.Embedder, func(), error) {
	switch cfg.Embedder {
	case config.EmbedderMock:
		dims := cfg.EmbeddingDimensions
		if dims <= 0 {
			dims = 384
		}
		return mock.NewWithDimensions(dims), func() {}, nil
	case config.EmbedderONNX:
		return newONNXEmbedder(cfg)
	default:
		emb, err := openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, nil, err
		}
		return emb, func() {}, nil
	}
}

func newVectorStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, dimensions int) (memory.VectorStore, error) {
	switch cfg.VectorBackend {
	case config.VectorPgvector:
		store := pgvector.New(pool, dimensions)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		if cfg.ChromemPath != "" {
			store, err := chromem.NewPersistent(cfg.ChromemPath, false)
			if err != nil {
				return nil, fmt.Errorf("open chromem at %s: %w", cfg.ChromemPath, err)
			}
			return store, nil
		}
		return chromem.New()
	}
}
