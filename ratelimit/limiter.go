// Package ratelimit implements fixed-window admission control.
//
// A Limiter counts calls per identifier in a Counter shared by every server
// process. The first call for an identifier opens a window of fixed duration;
// the window's expiry is the only reset. Calls beyond the limit within the
// window are denied.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/becomeliminal/nim-companion/core"
)

// Window is a counter's state right after an increment.
type Window struct {
	// Count is the post-increment count for the current window.
	Count int64

	// ResetIn is the time left until the window expires.
	ResetIn time.Duration
}

// Counter is the shared store behind a Limiter.
type Counter interface {
	// IncrementWithTTL increments id's counter, opening a new window of
	// length ttl if none is active.
	IncrementWithTTL(ctx context.Context, id string, ttl time.Duration) (Window, error)
}

// Result is the outcome of a Check.
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration // Set when denied
}

// Limiter admits at most Limit calls per identifier per Window.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCallTimeout bounds each call to the counter store. Default: 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.timeout = d
	}
}

// WithLogger sets the limiter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a Limiter allowing limit calls per window.
func New(counter Counter, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		counter: counter,
		limit:   limit,
		window:  window,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ratelimit")
	return l
}

// Check counts one call for identifier and reports whether it is admitted.
// Store failures are returned as *core.ExternalServiceError; a denial is not
// an error.
func (l *Limiter) Check(ctx context.Context, identifier string) (Result, error) {
	if identifier == "" {
		return Result{}, &core.ValidationError{Field: "identifier", Reason: "required"}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	w, err := l.counter.IncrementWithTTL(ctx, identifier, l.window)
	if err != nil {
		return Result{}, core.External("ratelimit", "increment", err)
	}

	res := Result{
		Allowed:   w.Count <= int64(l.limit),
		Remaining: max(l.limit-int(w.Count), 0),
		Limit:     l.limit,
	}
	if !res.Allowed {
		res.RetryAfter = w.ResetIn
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.window
		}
		l.logger.Info("rate limited", "identifier", identifier, "count", w.Count, "retry_after", res.RetryAfter)
	}
	return res, nil
}

// Identifier builds the limiter identifier for one user on one route.
// Route is typically the request path, which already names the character.
func Identifier(route string, key core.ConversationKey) string {
	if route == "" {
		route = fmt.Sprintf("/api/chat/%s", key.CharacterID)
	}
	return route + "-" + key.UserID
}
