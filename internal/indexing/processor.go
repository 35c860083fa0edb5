package indexing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bookworks/booksearch/internal/catalog"
	"github.com/bookworks/booksearch/internal/embedding"
	"github.com/bookworks/booksearch/internal/store"
	"github.com/bookworks/booksearch/pkg/kafka"
	"github.com/bookworks/booksearch/pkg/metrics"
	"github.com/bookworks/booksearch/pkg/resilience"
)

// DetailsFetcher retrieves authoritative book metadata. A (nil, nil)
// return means the book does not exist at the source.
type DetailsFetcher interface {
	Fetch(ctx context.Context, bookID int64) (*catalog.BookDetails, error)
}

// Processor turns one raw event into at most one of {index, delete, skip}.
// Every external call is contained: a failure marks this event failed and
// never propagates to the consumer loop.
type Processor struct {
	fetcher  DetailsFetcher
	embedder embedding.Embedder
	store    store.DocumentStore
	audit    *StatusAudit
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProcessor wires the pipeline stages. audit and m may be nil.
func NewProcessor(fetcher DetailsFetcher, embedder embedding.Embedder, docStore store.DocumentStore, audit *StatusAudit, m *metrics.Metrics) *Processor {
	return &Processor{
		fetcher:  fetcher,
		embedder: embedder,
		store:    docStore,
		audit:    audit,
		metrics:  m,
		logger:   slog.Default().With("component", "event-processor"),
	}
}

// Process handles a single raw message payload. It always returns nil:
// malformed input is skipped, dependency failures are logged and counted,
// and the caller may commit the offset regardless.
func (p *Processor) Process(ctx context.Context, key, value []byte) error {
	start := time.Now()
	event, outcome := p.process(ctx, value)
	if p.metrics != nil {
		eventType := "unknown"
		if event != nil && event.EventType != "" {
			eventType = event.EventType
		}
		p.metrics.EventsConsumedTotal.WithLabelValues(eventType, string(outcome)).Inc()
		p.metrics.EventProcessingTime.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (p *Processor) process(ctx context.Context, value []byte) (*BookEvent, Outcome) {
	event, err := kafka.DecodeJSON[BookEvent](value)
	if err != nil {
		// Permanently malformed; retrying cannot help.
		p.logger.Error("skipping undecodable event", "error", err, "payload_size", len(value))
		return nil, OutcomeSkipped
	}
	if event.BookID == 0 {
		p.logger.Warn("event missing book id, skipping", "event_type", event.EventType)
		return &event, OutcomeSkipped
	}

	log := p.logger.With("book_id", event.BookID, "event_type", event.EventType)
	log.Debug("processing book event", "timestamp", event.Timestamp)

	switch event.EventType {
	case EventCreated, EventUpdated:
		return &event, p.indexBook(ctx, event.BookID, log)
	case EventDeleted:
		return &event, p.deleteBook(ctx, event.BookID, log)
	default:
		log.Warn("unrecognized event type, skipping")
		return &event, OutcomeSkipped
	}
}

// indexBook runs the enrich → embed → upsert path for a created or
// updated book.
func (p *Processor) indexBook(ctx context.Context, bookID int64, log *slog.Logger) Outcome {
	details, err := p.fetcher.Fetch(ctx, bookID)
	if err != nil {
		p.recordFetch(err)
		// Enrichment failures degrade to "treat as deleted": availability
		// of the index favors removing unreachable entries over serving
		// stale ones. Transient outages end up here too; see onEnrichmentAbsent.
		log.Warn("book details fetch failed, applying absence policy", "error", err)
		return p.onEnrichmentAbsent(ctx, bookID, log)
	}
	if details == nil {
		p.recordFetchStatus("absent")
		log.Info("book absent at source, applying absence policy")
		return p.onEnrichmentAbsent(ctx, bookID, log)
	}
	p.recordFetchStatus("found")

	text := strings.TrimSpace(details.Title + " " + details.Description)
	if p.embedder == nil {
		log.Warn("embedder unavailable, skipping indexing")
		return OutcomeSkipped
	}
	if text == "" {
		log.Warn("no text to embed, skipping indexing")
		return OutcomeSkipped
	}

	embedStart := time.Now()
	vector, err := p.embedder.Embed(ctx, text)
	if err != nil {
		log.Error("embedding failed", "error", err)
		p.recordStatus(ctx, bookID, StatusFailed)
		return OutcomeFailed
	}
	if p.metrics != nil {
		p.metrics.EmbedLatency.Observe(time.Since(embedStart).Seconds())
	}

	doc := store.Document{
		BookID:      bookID,
		Title:       details.Title,
		Author:      details.Author,
		Description: details.Description,
		ISBN:        details.ISBN,
		BookVector:  vector,
		LastUpdated: time.Now().UTC(),
	}
	if err := p.store.Upsert(ctx, doc); err != nil {
		log.Error("upsert failed", "error", err)
		p.recordStatus(ctx, bookID, StatusFailed)
		return OutcomeFailed
	}
	if p.metrics != nil {
		p.metrics.DocsIndexedTotal.Inc()
	}
	p.recordStatus(ctx, bookID, StatusIndexed)
	log.Info("book indexed", "vector_dims", len(vector))
	return OutcomeIndexed
}

// onEnrichmentAbsent is the named policy for books whose details cannot
// be obtained: the document is removed so the index never serves entries
// the source no longer vouches for.
func (p *Processor) onEnrichmentAbsent(ctx context.Context, bookID int64, log *slog.Logger) Outcome {
	return p.deleteBook(ctx, bookID, log)
}

// deleteBook removes the document for bookID. Deleting an absent document
// succeeds silently.
func (p *Processor) deleteBook(ctx context.Context, bookID int64, log *slog.Logger) Outcome {
	if err := p.store.Delete(ctx, bookID); err != nil {
		log.Error("delete failed", "error", err)
		p.recordStatus(ctx, bookID, StatusFailed)
		return OutcomeFailed
	}
	if p.metrics != nil {
		p.metrics.DocsDeletedTotal.Inc()
	}
	p.recordStatus(ctx, bookID, StatusDeleted)
	log.Info("book removed from index")
	return OutcomeDeleted
}

func (p *Processor) recordStatus(ctx context.Context, bookID int64, status string) {
	p.audit.Record(ctx, bookID, status)
}

func (p *Processor) recordFetch(err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		p.recordFetchStatus("circuit_open")
		return
	}
	p.recordFetchStatus("error")
}

func (p *Processor) recordFetchStatus(status string) {
	if p.metrics != nil {
		p.metrics.FetchRequestsTotal.WithLabelValues(status).Inc()
	}
}
