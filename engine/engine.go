// Package engine runs chat turns on top of the memory layer and a
// generation backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
	"github.com/becomeliminal/nim-companion/ratelimit"
)

// userPrefix labels user turns in the history log.
const userPrefix = "User"

// Generator produces the character's reply for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StreamingGenerator is implemented by generators that can emit text as it
// is produced. The returned string is the full reply.
type StreamingGenerator interface {
	Generator
	GenerateStream(ctx context.Context, prompt string, onDelta func(string)) (string, error)
}

// Engine runs chat turns: admission, history, seeding, retrieval, prompt
// assembly, generation and the final history write.
type Engine struct {
	memory        *memory.Manager
	limiter       *ratelimit.Limiter // Optional: no admission control when nil
	generator     Generator          // Optional: Chat fails without one, Prepare works
	rememberTurns bool
	logger        *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLimiter sets the rate limiter checked before every turn.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithGenerator sets the generation backend used by Chat.
func WithGenerator(g Generator) Option {
	return func(e *Engine) {
		e.generator = g
	}
}

// WithRememberTurns stores each completed exchange in the user's own
// long-term namespace for the character and searches it alongside the
// character's backstory on later turns.
func WithRememberTurns(enabled bool) Option {
	return func(e *Engine) {
		e.rememberTurns = enabled
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine over a memory manager.
func New(mgr *memory.Manager, opts ...Option) *Engine {
	e := &Engine{
		memory: mgr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Memory returns the engine's memory manager.
func (e *Engine) Memory() *memory.Manager {
	return e.memory
}

// Turn records the progress and artifacts of one chat turn.
type Turn struct {
	Key       core.ConversationKey
	Character core.Character
	State     State

	// Seeded is true when this turn wrote the character's seed dialogue.
	Seeded bool

	// UserLine is the history line written for the user's message.
	UserLine string

	// History is the recent window the prompt was built from.
	History []string

	// Snippets are the long-term hits included in the prompt, best first.
	Snippets []memory.Snippet

	// Prompt is the assembled generation prompt.
	Prompt string

	// Response is the trimmed reply, set once the turn completes.
	Response string

	// RateLimit is the admission result, when a limiter is configured.
	RateLimit *ratelimit.Result
}

// Chat runs a full turn. When generation fails the user's line stays in the
// history and the returned Turn reports GenerationDispatched.
func (e *Engine) Chat(ctx context.Context, in *core.TurnInput) (*Turn, error) {
	return e.chat(ctx, in, nil)
}

// ChatStream is Chat with onDelta receiving reply text as it is generated.
// Generators that cannot stream deliver the whole reply in one call.
func (e *Engine) ChatStream(ctx context.Context, in *core.TurnInput, onDelta func(string)) (*Turn, error) {
	return e.chat(ctx, in, onDelta)
}

func (e *Engine) chat(ctx context.Context, in *core.TurnInput, onDelta func(string)) (*Turn, error) {
	if e.generator == nil {
		return nil, errors.New("engine: no generator configured")
	}

	turn, err := e.Prepare(ctx, in)
	if err != nil {
		return turn, err
	}

	turn.State = StateGenerationDispatched
	reply, err := e.generate(ctx, turn.Prompt, onDelta)
	if err != nil {
		e.logger.Error("generation failed", "key", turn.Key.String(), "error", err)
		return turn, core.External("generation", "generate", err)
	}

	if err := e.Complete(ctx, turn, reply); err != nil {
		return turn, err
	}
	return turn, nil
}

func (e *Engine) generate(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	if onDelta == nil {
		return e.generator.Generate(ctx, prompt)
	}
	if sg, ok := e.generator.(StreamingGenerator); ok {
		return sg.GenerateStream(ctx, prompt, onDelta)
	}
	reply, err := e.generator.Generate(ctx, prompt)
	if err == nil {
		onDelta(reply)
	}
	return reply, err
}

// Prepare runs a turn up to ContextAssembled and returns the prompt for a
// caller that runs generation itself. The caller must finish with Complete.
func (e *Engine) Prepare(ctx context.Context, in *core.TurnInput) (*Turn, error) {
	if in == nil {
		return nil, &core.ValidationError{Field: "input", Reason: "required"}
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	turn := &Turn{Key: in.Key, Character: *in.Character}
	logger := e.logger.With("key", in.Key.String())

	if e.limiter != nil {
		id := ratelimit.Identifier(in.Route, in.Key)
		res, err := e.limiter.Check(ctx, id)
		if err != nil {
			return turn, err
		}
		turn.RateLimit = &res
		if !res.Allowed {
			return turn, &core.RateLimitError{Identifier: id, RetryAfter: res.RetryAfter}
		}
	}
	turn.State = StateAdmitted

	history, err := e.memory.ReadLatestHistory(ctx, in.Key)
	if err != nil {
		return turn, fmt.Errorf("read history: %w", err)
	}
	turn.State = StateHistoryChecked

	if len(history) == 0 {
		seeded, err := e.memory.SeedChatHistory(ctx, in.Character.Seed, memory.DefaultSeedDelimiter, in.Key)
		if err != nil {
			return turn, fmt.Errorf("seed history: %w", err)
		}
		turn.Seeded = seeded
	}
	if turn.Seeded {
		turn.State = StateSeeded
	} else {
		turn.State = StateSkipSeed
	}

	turn.UserLine = userPrefix + ": " + strings.TrimSpace(in.Prompt)
	if err := e.memory.WriteToHistory(ctx, turn.UserLine, in.Key); err != nil {
		return turn, fmt.Errorf("write user turn: %w", err)
	}
	turn.State = StateUserTurnWritten

	turn.History, err = e.memory.ReadLatestHistory(ctx, in.Key)
	if err != nil {
		return turn, fmt.Errorf("read history: %w", err)
	}

	namespaces := []string{in.Key.Namespace()}
	if e.rememberTurns {
		namespaces = append(namespaces, in.Key.TurnsNamespace())
	}
	result := e.memory.VectorSearchIn(ctx, turn.History, namespaces...)
	turn.Snippets = result.Snippets()

	turn.Prompt = memory.BuildPrompt(turn.History, result.Texts(), in.Character.Name, in.Character.Instructions)
	turn.State = StateContextAssembled

	logger.Debug("context assembled",
		"seeded", turn.Seeded,
		"history_lines", len(turn.History),
		"snippets", len(turn.Snippets),
	)
	return turn, nil
}

// Complete writes the character's reply for a prepared turn.
func (e *Engine) Complete(ctx context.Context, turn *Turn, reply string) error {
	if turn == nil || turn.State < StateContextAssembled {
		return errors.New("engine: turn is not ready to complete")
	}
	if turn.State == StateResponseWritten {
		return errors.New("engine: turn already completed")
	}

	text := strings.TrimSpace(reply)
	if text == "" {
		return &core.ValidationError{Field: "response", Reason: "empty"}
	}

	line := turn.Character.Name + ": " + text
	if err := e.memory.WriteToHistory(ctx, line, turn.Key); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	turn.Response = text
	turn.State = StateResponseWritten

	if e.rememberTurns {
		exchange := turn.UserLine + "\n" + line
		if _, err := e.memory.Remember(ctx, turn.Key.TurnsNamespace(), exchange); err != nil {
			e.logger.Warn("failed to remember exchange", "key", turn.Key.String(), "error", err)
		}
	}
	return nil
}
