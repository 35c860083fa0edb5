package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bookworks/booksearch/pkg/config"
)

// Client calls an OpenAI-compatible embeddings endpoint (an Ollama or
// sentence-transformers server in local setups). Both the OpenAI response
// shape and the Ollama-native shape are accepted.
type Client struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

// NewClient creates a remote embedding client from config.
func NewClient(cfg config.EmbedderConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Dimensions returns the configured vector dimensionality.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed posts text to the model server and returns its vector. A vector
// of the wrong length is rejected rather than passed downstream.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}{Input: text, Prompt: text, Model: c.model}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling embedding server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding server returned %d: %s", resp.StatusCode, string(body))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embed response: %w", err)
	}

	vector, err := decodeVector(payload)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), c.dimensions)
	}
	return vector, nil
}

// decodeVector tries the OpenAI-compatible response shape first, then the
// Ollama-native one.
func decodeVector(payload []byte) ([]float32, error) {
	var openai struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openai); err == nil && len(openai.Data) > 0 && len(openai.Data[0].Embedding) > 0 {
		return openai.Data[0].Embedding, nil
	}
	var ollama struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollama); err == nil && len(ollama.Embedding) > 0 {
		return ollama.Embedding, nil
	}
	return nil, fmt.Errorf("no embedding in response")
}
