// Package memory is a brute-force in-memory DocumentStore used in tests
// and single-node development setups.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/bookworks/booksearch/internal/store"
)

// Store keeps documents in a map keyed by book id and ranks searches by
// exact cosine similarity.
type Store struct {
	mu   sync.RWMutex
	docs map[int64]store.Document
}

// New creates an empty Store.
func New() *Store {
	return &Store{docs: make(map[int64]store.Document)}
}

// Upsert replaces the document for doc.BookID.
func (s *Store) Upsert(ctx context.Context, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.BookID] = doc
	return nil
}

// Delete removes the document for bookID. Deleting an absent document is
// not an error.
func (s *Store) Delete(ctx context.Context, bookID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, bookID)
	return nil
}

// Search ranks all documents by cosine similarity to vector and returns
// at most topK hits in descending score order. numCandidates is accepted
// for interface parity; the scan is exhaustive anyway.
func (s *Store) Search(ctx context.Context, vector []float32, topK, numCandidates int) ([]store.Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]store.Hit, 0, len(s.docs))
	for _, doc := range s.docs {
		score := cosine(vector, doc.BookVector)
		projected := doc
		projected.BookVector = nil
		hits = append(hits, store.Hit{Score: score, Book: projected})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Get returns the stored document for bookID, if any.
func (s *Store) Get(bookID int64) (store.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[bookID]
	return doc, ok
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
