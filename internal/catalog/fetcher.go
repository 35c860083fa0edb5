package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bookworks/booksearch/pkg/config"
	"github.com/bookworks/booksearch/pkg/resilience"
)

// Fetcher retrieves book details over HTTP. Calls run behind a circuit
// breaker so a down API stops being hammered while events keep flowing.
type Fetcher struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher for the configured Books API.
func NewFetcher(cfg config.BooksAPIConfig) *Fetcher {
	return &Fetcher{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("books-api", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
		}),
		logger: slog.Default().With("component", "book-fetcher"),
	}
}

// Fetch returns the book's details, (nil, nil) when the book does not
// exist at the source, or (nil, err) on transport or protocol failures.
// An open circuit surfaces as an error wrapping resilience.ErrCircuitOpen.
func (f *Fetcher) Fetch(ctx context.Context, bookID int64) (*BookDetails, error) {
	var details *BookDetails
	err := f.breaker.Execute(func() error {
		d, err := f.fetch(ctx, bookID)
		if err != nil {
			return err
		}
		details = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (f *Fetcher) fetch(ctx context.Context, bookID int64) (*BookDetails, error) {
	url := fmt.Sprintf("%s/books/%d", f.baseURL, bookID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for book %d: %w", bookID, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching book %d: %w", bookID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		f.logger.Info("book not found at source", "book_id", bookID)
		return nil, nil
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("books api returned %d for book %d: %s", resp.StatusCode, bookID, string(body))
	}

	var details BookDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("decoding book %d response: %w", bookID, err)
	}
	if details.BookID == 0 {
		details.BookID = bookID
	}
	return &details, nil
}
