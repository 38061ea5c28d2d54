package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/becomeliminal/nim-companion/core"
)

// Config holds Manager configuration.
type Config struct {
	// HistoryWindow is how many recent lines ReadLatestHistory returns.
	// Default: 30.
	HistoryWindow int

	// TopK is how many long-term snippets VectorSearch asks for.
	// Default: 3.
	TopK int

	// CallTimeout bounds every call to an external service.
	// Default: 10s.
	CallTimeout time.Duration

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the defaults used when NewManager gets a nil config.
func DefaultConfig() *Config {
	return &Config{
		HistoryWindow: 30,
		TopK:          3,
		CallTimeout:   10 * time.Second,
	}
}

// Manager is the single entry point the chat request handler uses.
// It is built once at startup and is safe for concurrent use; it keeps no
// state besides its handles to the external stores.
type Manager struct {
	history HistoryStore
	index   *VectorIndex
	seeder  *SeedLoader
	config  Config
	logger  *slog.Logger
}

// NewManager creates a Manager. Zero fields in config fall back to DefaultConfig.
func NewManager(history HistoryStore, index *VectorIndex, config *Config) *Manager {
	cfg := *DefaultConfig()
	if config != nil {
		if config.HistoryWindow > 0 {
			cfg.HistoryWindow = config.HistoryWindow
		}
		if config.TopK > 0 {
			cfg.TopK = config.TopK
		}
		if config.CallTimeout > 0 {
			cfg.CallTimeout = config.CallTimeout
		}
		cfg.Logger = config.Logger
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		history: history,
		index:   index,
		seeder:  NewSeedLoader(history),
		config:  cfg,
		logger:  logger.With("component", "memory"),
	}
}

// ReadLatestHistory returns the latest HistoryWindow lines for key, oldest first.
func (m *Manager) ReadLatestHistory(ctx context.Context, key core.ConversationKey) ([]string, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	lines, err := m.history.ReadRecent(ctx, key, m.config.HistoryWindow)
	if err != nil {
		return nil, core.External("history", "read", err)
	}
	return lines, nil
}

// SeedChatHistory seeds key's history from a character's example dialogue.
// It is a no-op once the history is non-empty or another request already
// seeded it, and reports whether this call wrote the seed.
func (m *Manager) SeedChatHistory(ctx context.Context, seedText, delimiter string, key core.ConversationKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	ctx, cancel, err := m.writeContext(ctx)
	if err != nil {
		return false, fmt.Errorf("seed chat history: %w", err)
	}
	defer cancel()

	seeded, err := m.seeder.Seed(ctx, key, seedText, delimiter)
	if errors.Is(err, core.ErrValidation) {
		return false, err
	}
	if err != nil {
		return false, core.External("history", "seed", err)
	}
	if seeded {
		m.logger.Info("seeded conversation", "key", key.String())
	}
	return seeded, nil
}

// WriteToHistory appends line to key's history.
func (m *Manager) WriteToHistory(ctx context.Context, line string, key core.ConversationKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(line) == "" {
		return &core.ValidationError{Field: "line", Reason: "required"}
	}

	ctx, cancel, err := m.writeContext(ctx)
	if err != nil {
		return fmt.Errorf("write to history: %w", err)
	}
	defer cancel()

	if err := m.history.Append(ctx, key, line); err != nil {
		return core.External("history", "append", err)
	}
	return nil
}

// VectorSearch uses the concatenated recent history as the query and returns
// the TopK most similar long-term snippets in namespace. It never fails.
func (m *Manager) VectorSearch(ctx context.Context, recentHistory []string, namespace string) SearchResult {
	return m.VectorSearchIn(ctx, recentHistory, namespace)
}

// VectorSearchIn is VectorSearch over several namespaces. Hits are merged
// by score and the best TopK kept.
func (m *Manager) VectorSearchIn(ctx context.Context, recentHistory []string, namespaces ...string) SearchResult {
	if m.index == nil || len(namespaces) == 0 {
		return Empty()
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	query := strings.Join(recentHistory, "\n")
	if len(namespaces) == 1 {
		return m.index.Search(ctx, namespaces[0], query, m.config.TopK)
	}

	var merged []Snippet
	for _, ns := range namespaces {
		merged = append(merged, m.index.Search(ctx, ns, query, m.config.TopK).Snippets()...)
	}
	slices.SortStableFunc(merged, func(a, b Snippet) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(merged) > m.config.TopK {
		merged = merged[:m.config.TopK]
	}
	return Found(merged)
}

// Remember stores one text unit in namespace's long-term memory.
func (m *Manager) Remember(ctx context.Context, namespace, text string) (string, error) {
	if m.index == nil {
		return "", fmt.Errorf("remember: %w", core.ErrSoftUnavailable)
	}

	ctx, cancel, err := m.writeContext(ctx)
	if err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}
	defer cancel()

	return m.index.Upsert(ctx, namespace, text)
}

// IndexBackstory splits a character's backstory into passages and stores
// each in the character's namespace. It returns how many passages were stored
// before the first failure.
func (m *Manager) IndexBackstory(ctx context.Context, characterID, text, delimiter string) (int, error) {
	if strings.TrimSpace(characterID) == "" {
		return 0, &core.ValidationError{Field: "character_id", Reason: "required"}
	}
	passages := SplitSeed(text, delimiter)
	if len(passages) == 0 {
		return 0, &core.ValidationError{Field: "text", Reason: "no passages"}
	}

	for i, p := range passages {
		if _, err := m.Remember(ctx, characterID, p); err != nil {
			return i, fmt.Errorf("index passage %d: %w", i+1, err)
		}
	}
	m.logger.Info("indexed backstory", "namespace", characterID, "passages", len(passages))
	return len(passages), nil
}

// writeContext refuses to start a write for a cancelled request. Once
// started, the write is detached from request cancellation and bounded
// only by CallTimeout: the log has no compensating delete.
func (m *Manager) writeContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.CallTimeout)
	return wctx, cancel, nil
}
