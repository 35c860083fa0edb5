// Package elastic implements the DocumentStore over Elasticsearch using
// the official go-elasticsearch client and its kNN search API.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/bookworks/booksearch/internal/store"
	"github.com/bookworks/booksearch/pkg/config"
	pkgerrors "github.com/bookworks/booksearch/pkg/errors"
)

// mapping matches the documents the pipeline writes: 384-dim cosine
// vectors plus descriptive fields.
const mapping = `{
  "mappings": {
    "properties": {
      "book_id":     {"type": "integer"},
      "title":       {"type": "text", "analyzer": "standard"},
      "author":      {"type": "keyword"},
      "description": {"type": "text", "analyzer": "standard"},
      "isbn":        {"type": "keyword"},
      "book_vector": {
        "type": "dense_vector",
        "dims": 384,
        "index": true,
        "similarity": "cosine"
      },
      "last_updated_in_es": {"type": "date"}
    }
  }
}`

// sourceFields is the projection returned by Search: descriptive
// attributes only, never the stored vector.
var sourceFields = []string{"book_id", "title", "author", "description", "isbn"}

// Store is an Elasticsearch-backed DocumentStore for a single index.
type Store struct {
	es     *elasticsearch.Client
	index  string
	logger *slog.Logger
}

// New creates a Store from config. The connection is not verified here;
// call Ping.
func New(cfg config.ElasticsearchConfig) (*Store, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Store{
		es:     es,
		index:  cfg.Index,
		logger: slog.Default().With("component", "elastic-store", "index", cfg.Index),
	}, nil
}

// Ping verifies the cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the index with the book mapping if it does not
// already exist.
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("checking index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		s.logger.Debug("index already exists")
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("checking index %s: unexpected status %s", s.index, res.Status())
	}

	createRes, err := s.es.Indices.Create(
		s.index,
		s.es.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", s.index, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("creating index %s: %s", s.index, responseError(createRes))
	}
	s.logger.Info("index created")
	return nil
}

// Upsert fully replaces the document keyed by doc.BookID.
func (s *Store) Upsert(ctx context.Context, doc store.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document %d: %w", doc.BookID, err)
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: strconv.FormatInt(doc.BookID, 10),
		Body:       bytes.NewReader(payload),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("indexing document %d: %w", doc.BookID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("indexing document %d: %s", doc.BookID, responseError(res))
	}
	return nil
}

// Delete removes the document for bookID. A missing document is success.
func (s *Store) Delete(ctx context.Context, bookID int64) error {
	req := esapi.DeleteRequest{
		Index:      s.index,
		DocumentID: strconv.FormatInt(bookID, 10),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", bookID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("deleting document %d: %s", bookID, responseError(res))
	}
	return nil
}

// Search runs a kNN query against the book_vector field and returns hits
// in the engine's descending-score order.
func (s *Store) Search(ctx context.Context, vector []float32, topK, numCandidates int) ([]store.Hit, error) {
	body := map[string]any{
		"knn": map[string]any{
			"field":          "book_vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
		},
		"_source": sourceFields,
		"size":    topK,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling search body: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrStoreFailure, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: index %s", pkgerrors.ErrIndexNotFound, s.index)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrStoreFailure, responseError(res))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64        `json:"_score"`
				Source store.Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %v", pkgerrors.ErrStoreFailure, err)
	}

	hits := make([]store.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, store.Hit{Score: h.Score, Book: h.Source})
	}
	return hits, nil
}

// responseError extracts a bounded slice of the error body for diagnostics.
func responseError(res *esapi.Response) string {
	body, err := io.ReadAll(io.LimitReader(res.Body, 1024))
	if err != nil || len(body) == 0 {
		return res.Status()
	}
	return fmt.Sprintf("%s: %s", res.Status(), string(body))
}
