package memory

import (
	"time"

	"github.com/google/uuid"
)

// Record is one embedded text unit in a namespace.
// Records are append-only; duplicates are tolerated.
type Record struct {
	ID        string
	Namespace string
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// NewRecord creates a Record with a fresh ID.
func NewRecord(namespace, text string, embedding []float32) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Namespace: namespace,
		Text:      text,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
}
