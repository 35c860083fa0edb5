package memory

import (
	"context"
	"testing"

	"github.com/bookworks/booksearch/internal/store"
)

func doc(id int64, title string, vector []float32) store.Document {
	return store.Document{BookID: id, Title: title, BookVector: vector}
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Upsert(ctx, doc(1, "exact", []float32{1, 0, 0}))
	s.Upsert(ctx, doc(2, "close", []float32{0.9, 0.1, 0}))
	s.Upsert(ctx, doc(3, "far", []float32{0, 1, 0}))

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 3, 13)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Book.BookID != 1 || hits[1].Book.BookID != 2 || hits[2].Book.BookID != 3 {
		t.Errorf("unexpected ranking: %v, %v, %v", hits[0].Book.BookID, hits[1].Book.BookID, hits[2].Book.BookID)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("scores not descending at index %d", i)
		}
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := int64(1); i <= 10; i++ {
		s.Upsert(ctx, doc(i, "b", []float32{float32(i), 1}))
	}

	hits, err := s.Search(ctx, []float32{1, 1}, 4, 14)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(hits) != 4 {
		t.Errorf("expected 4 hits, got %d", len(hits))
	}
}

func TestSearchReturnsFewerWhenIndexIsSmall(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Upsert(ctx, doc(1, "only", []float32{1, 2}))

	hits, err := s.Search(ctx, []float32{1, 2}, 5, 15)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit, got %d", len(hits))
	}
}

func TestSearchRejectsNonPositiveTopK(t *testing.T) {
	s := New()
	if _, err := s.Search(context.Background(), []float32{1}, 0, 10); err == nil {
		t.Error("expected error for topK = 0")
	}
}

func TestSearchOmitsVectorFromHits(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Upsert(ctx, doc(1, "v", []float32{1, 0}))

	hits, err := s.Search(ctx, []float32{1, 0}, 1, 11)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if hits[0].Book.BookVector != nil {
		t.Error("search hits must not carry the stored vector")
	}
}

func TestUpsertReplacesExistingDocument(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Upsert(ctx, doc(1, "first", []float32{1}))
	s.Upsert(ctx, doc(1, "second", []float32{1}))

	if s.Len() != 1 {
		t.Fatalf("expected 1 document, got %d", s.Len())
	}
	got, _ := s.Get(1)
	if got.Title != "second" {
		t.Errorf("expected replacement, got title %q", got.Title)
	}
}

func TestDeleteAbsentDocumentSucceeds(t *testing.T) {
	s := New()
	if err := s.Delete(context.Background(), 99); err != nil {
		t.Errorf("deleting an absent document should succeed, got %v", err)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors should score ~1, got %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors should score 0, got %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("mismatched lengths should score 0, got %f", got)
	}
	if got := cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector should score 0, got %f", got)
	}
}
