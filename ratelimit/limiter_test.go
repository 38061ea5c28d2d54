package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/becomeliminal/nim-companion/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	l := New(NewMemoryCounter(WithClock(clock.Now)), 2, 10*time.Second)

	for i := 1; i <= 2; i++ {
		res, err := l.Check(ctx, "/api/chat/asturian-u1")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
		if res.Remaining != 2-i {
			t.Fatalf("call %d: expected remaining %d, got %d", i, 2-i, res.Remaining)
		}
	}

	clock.Advance(4 * time.Second)
	res, err := l.Check(ctx, "/api/chat/asturian-u1")
	if err != nil {
		t.Fatalf("call 3: %v", err)
	}
	if res.Allowed {
		t.Fatal("call 3: expected denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("call 3: expected remaining 0, got %d", res.Remaining)
	}
	if res.RetryAfter != 6*time.Second {
		t.Fatalf("call 3: expected retry after 6s, got %v", res.RetryAfter)
	}

	clock.Advance(6 * time.Second)
	res, err = l.Check(ctx, "/api/chat/asturian-u1")
	if err != nil {
		t.Fatalf("call 4: %v", err)
	}
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("call 4: expected a fresh window with count 1, got %+v", res)
	}
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryCounter(WithClock(newClock().Now)), 1, time.Minute)

	if res, _ := l.Check(ctx, "a"); !res.Allowed {
		t.Fatal("expected a allowed")
	}
	if res, _ := l.Check(ctx, "b"); !res.Allowed {
		t.Fatal("expected b allowed")
	}
	if res, _ := l.Check(ctx, "a"); res.Allowed {
		t.Fatal("expected a denied")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryCounter(), 10, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "shared")
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("expected exactly 10 admitted calls, got %d", allowed)
	}
}

type brokenCounter struct{}

func (brokenCounter) IncrementWithTTL(context.Context, string, time.Duration) (Window, error) {
	return Window{}, errors.New("connection refused")
}

func TestLimiter_StoreFailureIsExternal(t *testing.T) {
	l := New(brokenCounter{}, 10, time.Second)

	_, err := l.Check(context.Background(), "id")
	if !errors.Is(err, core.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestLimiter_EmptyIdentifier(t *testing.T) {
	l := New(NewMemoryCounter(), 10, time.Second)

	if _, err := l.Check(context.Background(), ""); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryCounter_SweepsExpiredWindows(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := NewMemoryCounter(WithClock(clock.Now))

	if _, err := c.IncrementWithTTL(ctx, "stale", time.Second); err != nil {
		t.Fatalf("increment: %v", err)
	}
	clock.Advance(2 * time.Second)
	for i := 0; i < sweepEvery; i++ {
		if _, err := c.IncrementWithTTL(ctx, "live", time.Minute); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.windows["stale"]; ok {
		t.Fatal("expected expired window to be swept")
	}
	if _, ok := c.windows["live"]; !ok {
		t.Fatal("expected live window to survive")
	}
}

func TestIdentifier(t *testing.T) {
	key := core.ConversationKey{CharacterID: "asturian", UserID: "u1", Model: "m1"}

	if got := Identifier("/api/chat/asturian", key); got != "/api/chat/asturian-u1" {
		t.Fatalf("unexpected identifier %q", got)
	}
	if got := Identifier("", key); got != "/api/chat/asturian-u1" {
		t.Fatalf("unexpected default identifier %q", got)
	}
}
