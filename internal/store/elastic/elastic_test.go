package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bookworks/booksearch/internal/store"
	"github.com/bookworks/booksearch/pkg/config"
	pkgerrors "github.com/bookworks/booksearch/pkg/errors"
)

// newTestStore points the client at a stub cluster. The product header is
// required by the client's compatibility check.
func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	s, err := New(config.ElasticsearchConfig{
		Addresses: []string{srv.URL},
		Index:     "books_index",
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func TestSearchBuildsKNNQuery(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books_index/_search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decoding search body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":{"hits":[
			{"_score":0.98,"_source":{"book_id":42,"title":"Dune","author":"Frank Herbert","description":"Desert planet","isbn":"9780441013593"}},
			{"_score":0.61,"_source":{"book_id":7,"title":"Hyperion"}}
		]}}`))
	})

	hits, err := s.Search(context.Background(), []float32{0.1, 0.2}, 5, 15)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	knn, ok := captured["knn"].(map[string]any)
	if !ok {
		t.Fatal("expected knn clause in search body")
	}
	if knn["field"] != "book_vector" {
		t.Errorf("unexpected knn field %v", knn["field"])
	}
	if knn["k"].(float64) != 5 || knn["num_candidates"].(float64) != 15 {
		t.Errorf("expected k=5 num_candidates=15, got %v and %v", knn["k"], knn["num_candidates"])
	}
	source, ok := captured["_source"].([]any)
	if !ok || len(source) != 5 {
		t.Errorf("expected 5 _source fields, got %v", captured["_source"])
	}
	for _, f := range source {
		if f == "book_vector" {
			t.Error("_source must not include the stored vector")
		}
	}

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Book.BookID != 42 || hits[0].Score != 0.98 {
		t.Errorf("unexpected first hit: %+v", hits[0])
	}
}

func TestSearchMissingIndex(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"index_not_found_exception"}}`))
	})

	_, err := s.Search(context.Background(), []float32{0.1}, 5, 15)
	if !errors.Is(err, pkgerrors.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestSearchServerErrorWrapsStoreFailure(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := s.Search(context.Background(), []float32{0.1}, 5, 15)
	if !errors.Is(err, pkgerrors.ErrStoreFailure) {
		t.Errorf("expected ErrStoreFailure, got %v", err)
	}
}

func TestDeleteMissingDocumentSucceeds(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/books_index/_doc/9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"result":"not_found"}`))
	})

	if err := s.Delete(context.Background(), 9); err != nil {
		t.Errorf("deleting an absent document should succeed, got %v", err)
	}
}

func TestUpsertUsesBookIDAsDocumentID(t *testing.T) {
	var path string
	var doc store.Document
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&doc)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":"created"}`))
	})

	err := s.Upsert(context.Background(), store.Document{
		BookID:     42,
		Title:      "Dune",
		BookVector: []float32{0.1, 0.2},
	})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if path != "/books_index/_doc/42" {
		t.Errorf("expected document id keyed by book id, got path %q", path)
	}
	if doc.BookID != 42 || len(doc.BookVector) != 2 {
		t.Errorf("unexpected indexed payload: %+v", doc)
	}
}

func TestEnsureIndexCreatesWhenAbsent(t *testing.T) {
	created := false
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/books_index":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if _, ok := body["mappings"]; !ok {
				t.Error("expected mapping in create request")
			}
			created = true
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"acknowledged":true}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	if err := s.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex returned error: %v", err)
	}
	if !created {
		t.Error("expected index creation call")
	}
}

func TestEnsureIndexNoopWhenPresent(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected only an existence check, got %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := s.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex returned error: %v", err)
	}
}
