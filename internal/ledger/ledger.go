// Package ledger implements the idempotent file-processing ledger (spec
// §4.3), keyed by content hash, backed by SQLite per §6.2's
// files_processed schema.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fiidata/internal/quote"
)

const schema = `
CREATE TABLE IF NOT EXISTS files_processed (
	archive_name TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	processed_at TEXT NOT NULL,
	rows_added INTEGER NOT NULL,
	content_hash TEXT NOT NULL
);`

// Ledger is the FileLedger component.
type Ledger struct {
	db *sql.DB
}

// Open creates/opens the ledger table on db (the caller owns the
// connection's lifecycle and tuning per spec §6.2).
func Open(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// IsProcessed reports whether archiveName has been processed before, and
// if so whether currentHash matches the recorded hash.
func (l *Ledger) IsProcessed(ctx context.Context, archiveName, currentHash string) (quote.LedgerVerdict, error) {
	var storedHash string
	err := l.db.QueryRowContext(ctx,
		`SELECT content_hash FROM files_processed WHERE archive_name = ?`, archiveName,
	).Scan(&storedHash)
	switch {
	case err == sql.ErrNoRows:
		return quote.Unseen, nil
	case err != nil:
		return quote.Unseen, fmt.Errorf("ledger: is_processed %s: %w", archiveName, err)
	case storedHash == currentHash:
		return quote.Unchanged, nil
	default:
		return quote.Modified, nil
	}
}

// Record upserts the ledger entry for archiveName (spec §4.3 record()).
func (l *Ledger) Record(ctx context.Context, archiveName string, kind quote.Kind, rowsInserted int64, hash string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO files_processed (archive_name, kind, processed_at, rows_added, content_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(archive_name) DO UPDATE SET
			kind = excluded.kind,
			processed_at = excluded.processed_at,
			rows_added = excluded.rows_added,
			content_hash = excluded.content_hash
	`, archiveName, kind.String(), time.Now().UTC().Format(time.RFC3339), rowsInserted, hash)
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", archiveName, err)
	}
	return nil
}

// ListProcessed returns every recorded entry.
func (l *Ledger) ListProcessed(ctx context.Context) ([]quote.FileLedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT archive_name, kind, processed_at, rows_added, content_hash FROM files_processed ORDER BY archive_name`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list_processed: %w", err)
	}
	defer rows.Close()

	var out []quote.FileLedgerEntry
	for rows.Next() {
		var e quote.FileLedgerEntry
		var kindStr, processedAt string
		if err := rows.Scan(&e.ArchiveName, &kindStr, &processedAt, &e.RowsInserted, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		e.Kind = parseKind(kindStr)
		e.ProcessedAt, _ = time.Parse(time.RFC3339, processedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Forget removes archiveName's ledger entry, for administrative forced
// reprocessing.
func (l *Ledger) Forget(ctx context.Context, archiveName string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM files_processed WHERE archive_name = ?`, archiveName); err != nil {
		return fmt.Errorf("ledger: forget %s: %w", archiveName, err)
	}
	return nil
}

// MaxProcessedDate returns the latest date covered by any recorded
// archive (whatever its rows_added), used by the downloader's "auto" mode.
// It derives the date from the archive name via the supplied classify
// function to avoid importing the parser package here.
func (l *Ledger) MaxProcessedDate(ctx context.Context, classify func(name string) (to string, err error)) (string, error) {
	entries, err := l.ListProcessed(ctx)
	if err != nil {
		return "", err
	}
	var max string
	for _, e := range entries {
		to, err := classify(e.ArchiveName)
		if err != nil {
			continue
		}
		if to > max {
			max = to
		}
	}
	return max, nil
}

func parseKind(s string) quote.Kind {
	switch s {
	case "daily":
		return quote.KindDaily
	case "monthly":
		return quote.KindMonthly
	case "yearly":
		return quote.KindYearly
	default:
		return quote.KindUnknown
	}
}
