// Package bolt provides a single-node HistoryStore on an embedded bbolt file.
//
// Every conversation key owns a nested bucket under "history" whose keys are
// big-endian sequence numbers, so cursor order is write order. Seed claims
// live in the "seeds" bucket. Each operation is one bbolt transaction, and
// bbolt serializes writers, which makes AppendSeed atomic within the process
// that holds the file lock.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

var (
	historyBucket = []byte("history")
	seedsBucket   = []byte("seeds")
)

// Store implements memory.HistoryStore on bbolt.
type Store struct {
	db *bolt.DB
}

var _ memory.HistoryStore = (*Store)(nil)

// Open opens (creating if needed) the bbolt file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	return New(db)
}

// New wraps an open database and creates the top-level buckets.
func New(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(historyBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(seedsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Append adds line to the end of key's log.
func (s *Store) Append(ctx context.Context, key core.ConversationKey, line string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b, err := tx.Bucket(historyBucket).CreateBucketIfNotExists([]byte(key.String()))
		if err != nil {
			return fmt.Errorf("bolt: create conversation bucket: %w", err)
		}
		return appendLine(b, line)
	})
}

// ReadRecent returns at most limit lines for key, oldest first.
func (s *Store) ReadRecent(ctx context.Context, key core.ConversationKey, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var newestFirst []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(historyBucket).Bucket([]byte(key.String()))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(newestFirst) < limit; k, v = c.Prev() {
			newestFirst = append(newestFirst, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: read recent: %w", err)
	}

	lines := make([]string, len(newestFirst))
	for i, line := range newestFirst {
		lines[len(newestFirst)-1-i] = line
	}
	return lines, nil
}

// IsEmpty reports whether key has no lines.
func (s *Store) IsEmpty(ctx context.Context, key core.ConversationKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	empty := true
	err := s.db.View(func(tx *bolt.Tx) error {
		empty = isEmpty(tx, key)
		return nil
	})
	return empty, err
}

// AppendSeed claims key and appends lines in one transaction.
func (s *Store) AppendSeed(ctx context.Context, key core.ConversationKey, lines []string) (bool, error) {
	claimed := false
	err := s.update(ctx, func(tx *bolt.Tx) error {
		seeds := tx.Bucket(seedsBucket)
		id := []byte(key.String())
		if seeds.Get(id) != nil || !isEmpty(tx, key) {
			return nil
		}
		if err := seeds.Put(id, []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
			return fmt.Errorf("bolt: claim seed: %w", err)
		}

		b, err := tx.Bucket(historyBucket).CreateBucketIfNotExists(id)
		if err != nil {
			return fmt.Errorf("bolt: create conversation bucket: %w", err)
		}
		for _, line := range lines {
			if err := appendLine(b, line); err != nil {
				return err
			}
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	writePending int32 = iota
	writeStarted
	writeAbandoned
)

var errAbandoned = errors.New("bolt: write abandoned")

// update runs fn in a write transaction, giving up if ctx ends while waiting
// for bbolt's writer lock. A write either never starts or runs to commit:
// once fn has begun, update waits for the transaction to finish.
func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var state atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(tx *bolt.Tx) error {
			if !state.CompareAndSwap(writePending, writeStarted) {
				return errAbandoned
			}
			return fn(tx)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(writePending, writeAbandoned) {
			return fmt.Errorf("bolt: waiting for writer lock: %w", ctx.Err())
		}
		return <-done
	}
}

func isEmpty(tx *bolt.Tx, key core.ConversationKey) bool {
	b := tx.Bucket(historyBucket).Bucket([]byte(key.String()))
	if b == nil {
		return true
	}
	k, _ := b.Cursor().First()
	return k == nil
}

func appendLine(b *bolt.Bucket, line string) error {
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("bolt: next sequence: %w", err)
	}
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	if err := b.Put(k[:], []byte(line)); err != nil {
		return fmt.Errorf("bolt: put line: %w", err)
	}
	return nil
}
