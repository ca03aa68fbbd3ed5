// Package vectorstore defines the persistence port behind the in-memory
// similarity index.
package vectorstore

import (
	"context"
	"time"
)

// Record is one stored similarity document.
type Record struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"embedding"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	InsertedAt time.Time      `json:"inserted_at"`
	Seq        int64          `json:"seq"`
}

// Store persists similarity records so the index can be rebuilt on startup.
type Store interface {
	SaveRecord(ctx context.Context, r *Record) error
	// LoadRecords returns every record of collection in insertion order.
	LoadRecords(ctx context.Context, collection string) ([]Record, error)
	// DeleteRecord removes one record; a missing record is not an error.
	DeleteRecord(ctx context.Context, collection, id string) error
	DeleteCollection(ctx context.Context, collection string) error
}
