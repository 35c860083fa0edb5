// Package store defines the DocumentStore capability: keyed upsert,
// idempotent delete, and vector similarity search over book documents.
package store

import (
	"context"
	"time"
)

// Document is the full search-index representation of a book. The pipeline
// only ever writes whole documents keyed by BookID; there are no partial
// field updates.
type Document struct {
	BookID      int64     `json:"book_id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	ISBN        string    `json:"isbn"`
	BookVector  []float32 `json:"book_vector,omitempty"`
	LastUpdated time.Time `json:"last_updated_in_es"`
}

// Hit is a single search result: the document's descriptive fields (never
// the raw vector) and its similarity score.
type Hit struct {
	Score float64  `json:"score"`
	Book  Document `json:"book"`
}

// DocumentStore is the external search engine boundary.
//
// Upsert fully replaces the document for its BookID. Delete succeeds when
// no such document exists. Search returns up to topK hits in descending
// score order; numCandidates is the larger candidate pool requested from
// the engine to improve recall.
type DocumentStore interface {
	Upsert(ctx context.Context, doc Document) error
	Delete(ctx context.Context, bookID int64) error
	Search(ctx context.Context, vector []float32, topK, numCandidates int) ([]Hit, error)
	Ping(ctx context.Context) error
}
