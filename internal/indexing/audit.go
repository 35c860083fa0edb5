package indexing

import (
	"context"
	"database/sql"
	"log/slog"
)

// Audit statuses recorded after each event.
const (
	StatusIndexed = "INDEXED"
	StatusDeleted = "DELETED"
	StatusFailed  = "FAILED"
)

// StatusAudit records the last indexing outcome per book in PostgreSQL.
// Auditing is best-effort: a nil receiver or a failed write never fails
// the event being processed.
//
// Expected table:
//
//	CREATE TABLE book_index_status (
//	    book_id    BIGINT PRIMARY KEY,
//	    status     TEXT NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type StatusAudit struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStatusAudit creates a StatusAudit over db.
func NewStatusAudit(db *sql.DB) *StatusAudit {
	return &StatusAudit{
		db:     db,
		logger: slog.Default().With("component", "status-audit"),
	}
}

// Record upserts the book's status row.
func (a *StatusAudit) Record(ctx context.Context, bookID int64, status string) {
	if a == nil || a.db == nil {
		return
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO book_index_status (book_id, status, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (book_id) DO UPDATE SET status = $2, updated_at = NOW()`,
		bookID, status,
	)
	if err != nil {
		a.logger.Error("failed to record index status",
			"book_id", bookID,
			"status", status,
			"error", err,
		)
	}
}
