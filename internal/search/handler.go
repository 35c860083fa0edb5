// Package search serves the HTTP API: text embedding, semantic book
// search, and operator endpoints for the query cache.
package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bookworks/booksearch/internal/embedding"
	"github.com/bookworks/booksearch/internal/store"
	"github.com/bookworks/booksearch/pkg/config"
	pkgerrors "github.com/bookworks/booksearch/pkg/errors"
	"github.com/bookworks/booksearch/pkg/logger"
	"github.com/bookworks/booksearch/pkg/metrics"
)

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	Text string `json:"text"`
}

// EmbedResponse echoes the text with its vector.
type EmbedResponse struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// SearchRequest is the body of POST /search/semantic.
type SearchRequest struct {
	QueryText string `json:"query_text"`
	TopK      int    `json:"top_k"`
}

// SearchResponse carries ranked hits for a query.
type SearchResponse struct {
	QueryText string      `json:"query_text"`
	Results   []store.Hit `json:"results"`
}

// Handler holds the shared capabilities behind the HTTP API. embedder and
// docStore may be nil when their backends failed to initialize; affected
// endpoints then answer 503.
type Handler struct {
	embedder embedding.Embedder
	docStore store.DocumentStore
	cache    *QueryCache
	cfg      config.SearchConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Handler. cache and m may be nil.
func New(embedder embedding.Embedder, docStore store.DocumentStore, cache *QueryCache, cfg config.SearchConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		embedder: embedder,
		docStore: docStore,
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Root serves a small welcome document.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the book semantic search service!",
	})
}

// Embed turns request text into a vector.
func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	if h.embedder == nil {
		h.writeError(w, http.StatusServiceUnavailable, "embedding model is not available")
		return
	}
	var req EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	vector, err := h.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		logger.FromContext(r.Context()).Error("embedding failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to generate embedding: %v", err))
		return
	}
	h.writeJSON(w, http.StatusOK, EmbedResponse{Text: req.Text, Embedding: vector})
}

// SemanticSearch embeds the query text and runs a kNN search against the
// document store.
func (h *Handler) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	if h.embedder == nil {
		h.recordQuery("unavailable")
		h.writeError(w, http.StatusServiceUnavailable, "embedding model is not available")
		return
	}
	if h.docStore == nil {
		h.recordQuery("unavailable")
		h.writeError(w, http.StatusServiceUnavailable, "document store is not available")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordQuery("error")
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.QueryText) == "" {
		h.recordQuery("error")
		h.writeError(w, http.StatusBadRequest, "query_text is required")
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.cfg.DefaultTopK
	}
	if topK > h.cfg.MaxTopK {
		topK = h.cfg.MaxTopK
	}

	compute := func() ([]store.Hit, error) {
		vector, err := h.embedder.Embed(r.Context(), req.QueryText)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrEmbeddingFailure, err)
		}
		return h.docStore.Search(r.Context(), vector, topK, topK+h.cfg.CandidateMargin)
	}

	var hits []store.Hit
	var err error
	cacheHit := false
	if h.cache != nil {
		hits, cacheHit, err = h.cache.GetOrCompute(r.Context(), req.QueryText, topK, compute)
	} else {
		hits, err = compute()
	}
	if err != nil {
		h.writeSearchError(w, log, req.QueryText, err)
		return
	}

	if hits == nil {
		hits = []store.Hit{}
	}
	h.recordQuery("ok")
	h.recordLatency(cacheHit, time.Since(start))
	log.Info("semantic search completed",
		"query", req.QueryText,
		"top_k", topK,
		"returned", len(hits),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, SearchResponse{QueryText: req.QueryText, Results: hits})
}

// writeSearchError maps store and embedding failures onto the error
// taxonomy: missing index is 404, everything else a 500 with the
// underlying message for diagnostics.
func (h *Handler) writeSearchError(w http.ResponseWriter, log *slog.Logger, query string, err error) {
	log.Error("semantic search failed", "query", query, "error", err)
	if errors.Is(err, pkgerrors.ErrIndexNotFound) {
		h.recordQuery("not_found")
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.recordQuery("error")
	h.writeError(w, pkgerrors.HTTPStatusCode(err), fmt.Sprintf("an error occurred during semantic search: %v", err))
}

// CacheStats reports query cache hit/miss counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops all cached query results.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) recordQuery(status string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(status).Inc()
	}
}

func (h *Handler) recordLatency(cacheHit bool, d time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "miss"
	if cacheHit {
		status = "hit"
	}
	h.metrics.SearchLatency.WithLabelValues(status).Observe(d.Seconds())
	if cacheHit {
		h.metrics.CacheHitsTotal.Inc()
	} else {
		h.metrics.CacheMissesTotal.Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
