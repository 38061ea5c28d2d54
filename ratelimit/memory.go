package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many increments pass between sweeps of expired windows.
const sweepEvery = 1024

// MemoryCounter is a Counter held in process memory. It only limits the
// process it runs in; use PgCounter when several processes serve traffic.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
	ops     int
}

type memoryWindow struct {
	count     int64
	expiresAt time.Time
}

// MemoryOption configures a MemoryCounter.
type MemoryOption func(*MemoryCounter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCounter) {
		c.now = now
	}
}

// NewMemoryCounter creates an empty MemoryCounter.
func NewMemoryCounter(opts ...MemoryOption) *MemoryCounter {
	c := &MemoryCounter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncrementWithTTL implements Counter.
func (c *MemoryCounter) IncrementWithTTL(ctx context.Context, id string, ttl time.Duration) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.ops++
	if c.ops%sweepEvery == 0 {
		c.sweep(now)
	}

	w, ok := c.windows[id]
	if !ok || !now.Before(w.expiresAt) {
		w = &memoryWindow{expiresAt: now.Add(ttl)}
		c.windows[id] = w
	}
	w.count++
	return Window{Count: w.count, ResetIn: w.expiresAt.Sub(now)}, nil
}

func (c *MemoryCounter) sweep(now time.Time) {
	for id, w := range c.windows {
		if !now.Before(w.expiresAt) {
			delete(c.windows, id)
		}
	}
}
