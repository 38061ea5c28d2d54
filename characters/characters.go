// Package characters looks up character records for the chat handler.
//
// Characters are owned by the application's data layer; this package only
// reads them. Missing characters are reported as core.ErrNotFound and every
// returned record has passed core.Character.Validate.
package characters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/becomeliminal/nim-companion/core"
)

// record is the JSON shape of a character in a characters file.
type record struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Seed         string `json:"seed"`
}

// Static serves characters from memory.
type Static struct {
	mu   sync.RWMutex
	byID map[string]core.Character
}

// NewStatic creates a Static source. Invalid records are rejected.
func NewStatic(chars ...core.Character) (*Static, error) {
	s := &Static{byID: make(map[string]core.Character, len(chars))}
	for _, c := range chars {
		if err := s.Put(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadFile reads a JSON array of {"id","name","instructions","seed"} objects.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read characters file: %w", err)
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse characters file %s: %w", path, err)
	}

	chars := make([]core.Character, 0, len(records))
	for _, r := range records {
		chars = append(chars, core.Character{ID: r.ID, Name: r.Name, Instructions: r.Instructions, Seed: r.Seed})
	}
	return NewStatic(chars...)
}

// Put adds or replaces a character.
func (s *Static) Put(c core.Character) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	return nil
}

// Character returns the character with id.
func (s *Static) Character(_ context.Context, id string) (*core.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("character %q: %w", id, core.ErrNotFound)
	}
	return &c, nil
}
