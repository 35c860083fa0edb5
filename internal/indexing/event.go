// Package indexing is the event-driven pipeline core: it decodes book
// change events, enriches them from the Books API, derives an embedding,
// and keeps the search index in sync.
package indexing

// Event type strings as they appear on the wire.
const (
	EventCreated = "BookCreated"
	EventUpdated = "BookUpdated"
	EventDeleted = "BookDeleted"
)

// BookEvent is the JSON payload published to the book events topic by the
// system of record. Field names follow the producer's PascalCase schema.
type BookEvent struct {
	BookID    int64  `json:"BookId"`
	EventType string `json:"EventType"`
	Timestamp string `json:"Timestamp"`
}

// Outcome is the terminal result of processing one event.
type Outcome string

const (
	OutcomeIndexed Outcome = "indexed"
	OutcomeDeleted Outcome = "deleted"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)
