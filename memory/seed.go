package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/becomeliminal/nim-companion/core"
)

// DefaultSeedDelimiter separates turns in a character's example dialogue.
const DefaultSeedDelimiter = "\n\n"

// SplitSeed splits seed text into ordered, trimmed turns. Blank turns are dropped.
func SplitSeed(seedText, delimiter string) []string {
	if delimiter == "" {
		delimiter = DefaultSeedDelimiter
	}
	var turns []string
	for _, part := range strings.Split(seedText, delimiter) {
		part = strings.TrimSpace(part)
		if part != "" {
			turns = append(turns, part)
		}
	}
	return turns
}

// SeedLoader bootstraps an empty conversation from a character's example dialogue.
type SeedLoader struct {
	history HistoryStore
}

// NewSeedLoader creates a SeedLoader writing through history.
func NewSeedLoader(history HistoryStore) *SeedLoader {
	return &SeedLoader{history: history}
}

// Seed writes the turns of seedText to key's history if nothing was written
// there before. It reports whether this call did the seeding.
//
// The emptiness check is only a fast path. Exactly-once is guaranteed by
// HistoryStore.AppendSeed, which claims the key atomically.
func (l *SeedLoader) Seed(ctx context.Context, key core.ConversationKey, seedText, delimiter string) (bool, error) {
	turns := SplitSeed(seedText, delimiter)
	if len(turns) == 0 {
		return false, &core.ValidationError{Field: "seed", Reason: "no dialogue turns"}
	}

	empty, err := l.history.IsEmpty(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	if !empty {
		return false, nil
	}

	claimed, err := l.history.AppendSeed(ctx, key, turns)
	if err != nil {
		return false, fmt.Errorf("append seed: %w", err)
	}
	return claimed, nil
}
