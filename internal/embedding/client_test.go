package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bookworks/booksearch/pkg/config"
)

func newTestClient(baseURL string, dims int) *Client {
	return NewClient(config.EmbedderConfig{
		BaseURL:    baseURL,
		Model:      "all-minilm",
		Dimensions: dims,
		Timeout:    2 * time.Second,
	})
}

func vectorJSON(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i) / float32(n)
	}
	return v
}

func TestEmbedOpenAIShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req["model"] != "all-minilm" {
			t.Errorf("expected model in request, got %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": vectorJSON(8)}},
		})
	}))
	defer srv.Close()

	vector, err := newTestClient(srv.URL, 8).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vector) != 8 {
		t.Errorf("expected 8-dim vector, got %d", len(vector))
	}
}

func TestEmbedOllamaShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": vectorJSON(4)})
	}))
	defer srv.Close()

	vector, err := newTestClient(srv.URL, 4).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vector) != 4 {
		t.Errorf("expected 4-dim vector, got %d", len(vector))
	}
}

func TestEmbedRejectsWrongDimensionality(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": vectorJSON(3)})
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 384).Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error for wrong-length vector")
	}
}

func TestEmbedServerErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 8).Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestEmbedEmptyResponseIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 8).Embed(context.Background(), "hello"); err == nil {
		t.Error("expected error when response carries no embedding")
	}
}

func TestDecodeVectorPrefersOpenAIShape(t *testing.T) {
	payload := []byte(`{"data":[{"embedding":[1,2]}],"embedding":[9]}`)
	vector, err := decodeVector(payload)
	if err != nil {
		t.Fatalf("decodeVector returned error: %v", err)
	}
	if len(vector) != 2 || vector[0] != 1 {
		t.Errorf("expected OpenAI-shape vector, got %v", vector)
	}
}
