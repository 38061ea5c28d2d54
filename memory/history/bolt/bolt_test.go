package bolt_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory/history/bolt"
)

var testKey = core.ConversationKey{CharacterID: "asturian", UserID: "u1", Model: "m1"}

func openStore(t *testing.T) *bolt.Store {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "history", "test.bolt"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_AppendAndReadRecent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	empty, err := store.IsEmpty(ctx, testKey)
	if err != nil || !empty {
		t.Fatalf("expected empty history, got empty=%v err=%v", empty, err)
	}

	for i := 1; i <= 5; i++ {
		if err := store.Append(ctx, testKey, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	lines, err := store.ReadRecent(ctx, testKey, 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []string{"line 3", "line 4", "line 5"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, lines[i], want[i])
		}
	}

	all, err := store.ReadRecent(ctx, testKey, 100)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 5 || all[0] != "line 1" {
		t.Fatalf("expected all 5 lines oldest first, got %v", all)
	}

	none, err := store.ReadRecent(ctx, testKey, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no lines for limit 0, got %v err=%v", none, err)
	}
}

func TestStore_KeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	other := testKey
	other.UserID = "u2"

	if err := store.Append(ctx, testKey, "mine"); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines, err := store.ReadRecent(ctx, other, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected other key to be empty, got %v", lines)
	}
}

func TestStore_AppendSeedClaimsOnce(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seed := []string{"Human: Hi", "Asturian: Hello"}

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := store.AppendSeed(ctx, testKey, seed)
			if err != nil {
				t.Errorf("seed %d: %v", i, err)
			}
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, claimed := range results {
		if claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim, got %d", winners)
	}

	lines, err := store.ReadRecent(ctx, testKey, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != 2 || lines[0] != seed[0] || lines[1] != seed[1] {
		t.Fatalf("expected seed lines once, got %v", lines)
	}
}

func TestStore_AppendSeedSkipsNonEmptyHistory(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if err := store.Append(ctx, testKey, "User: first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	claimed, err := store.AppendSeed(ctx, testKey, []string{"Human: Hi"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if claimed {
		t.Fatal("expected no claim on non-empty history")
	}
}

func TestStore_CancelledContext(t *testing.T) {
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Append(ctx, testKey, "late"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	empty, err := store.IsEmpty(context.Background(), testKey)
	if err != nil || !empty {
		t.Fatalf("expected nothing written, got empty=%v err=%v", empty, err)
	}
}

func TestStore_WriteGivesUpWaitingForLock(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "locked.bolt"), 0o600, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := bolt.New(db)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	held := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = db.Update(func(*bbolt.Tx) error {
			close(held)
			time.Sleep(400 * time.Millisecond)
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = store.Append(ctx, testKey, "User: hi")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("append: expected deadline exceeded, got %v", err)
	}
	if _, err := store.AppendSeed(ctx, testKey, []string{"Human: Hi"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("seed: expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("writes waited for the lock holder: took %v", elapsed)
	}

	wg.Wait()
	// Abandoned writes must not commit once the lock frees up.
	if err := store.Append(context.Background(), testKey, "User: later"); err != nil {
		t.Fatalf("append after release: %v", err)
	}
	lines, err := store.ReadRecent(context.Background(), testKey, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != 1 || lines[0] != "User: later" {
		t.Fatalf("expected only the later line, got %v", lines)
	}
}
