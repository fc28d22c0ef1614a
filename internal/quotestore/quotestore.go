// Package quotestore implements the QuoteStore component (spec §4.4):
// bulk insert with batching, range deletes, and read queries, backed by
// SQLite per the §6.2 schema. Batching follows the teacher's accumulate-
// then-flush idiom (clickhouse.BatchClient.AddKline/Flush), adapted from
// an HTTP+gzip batch to one *sql.Tx per batch with a prepared statement.
package quotestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"fiidata/internal/quote"
)

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
	date TEXT NOT NULL,
	ticker TEXT NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	trade_count INTEGER NOT NULL,
	quantity INTEGER NOT NULL,
	PRIMARY KEY(date, ticker)
);
CREATE INDEX IF NOT EXISTS idx_quotes_date ON quotes(date);
CREATE INDEX IF NOT EXISTS idx_quotes_ticker ON quotes(ticker);
`

// BatchThresholds selects the bulk-insert batch size from the approximate
// payload size, per spec §6.4 db_lote_size_{small,medium,large} and
// db_lote_max_bytes.
type BatchThresholds struct {
	Small, Medium, Large int
	MaxBytes             int64
}

// DefaultThresholds mirrors the defaults in internal/appconfig.
var DefaultThresholds = BatchThresholds{Small: 500, Medium: 2000, Large: 5000, MaxBytes: 4_000_000}

// estimatedRowBytes approximates one quote row's on-wire size: roughly the
// COTAHIST line decode's worth of numeric+string data.
const estimatedRowBytes = 96

// BatchSize picks a batch size from the record count and the configured
// thresholds, the explicit "auto-selected by approximate payload bytes"
// requirement of spec §4.4.
func (t BatchThresholds) BatchSize(numRecords int) int {
	total := int64(numRecords) * estimatedRowBytes
	switch {
	case total <= t.MaxBytes/4:
		return t.Small
	case total <= t.MaxBytes/2:
		return t.Medium
	default:
		return t.Large
	}
}

// Store is the QuoteStore component.
type Store struct {
	db         *sql.DB
	thresholds BatchThresholds
}

// Open creates/opens the quotes table on db.
func Open(db *sql.DB, thresholds BatchThresholds) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("quotestore: create schema: %w", err)
	}
	return &Store{db: db, thresholds: thresholds}, nil
}

// BulkInsert inserts records, ignoring primary-key conflicts (idempotent
// re-ingest), batched to bound memory and transaction size. It returns the
// number of rows actually inserted (conflicts are not counted).
func (s *Store) BulkInsert(ctx context.Context, records []quote.Quote) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	batchSize := s.thresholds.BatchSize(len(records))
	var inserted int64

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		n, err := s.insertBatch(ctx, records[start:end])
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (s *Store) insertBatch(ctx context.Context, batch []quote.Quote) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("quotestore: begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO quotes (date, ticker, open, high, low, close, volume, trade_count, quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("quotestore: prepare: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, r := range batch {
		res, err := stmt.ExecContext(ctx, r.Date, r.Ticker,
			toFloat(r.Open), toFloat(r.High), toFloat(r.Low), toFloat(r.Close), toFloat(r.Volume),
			r.TradeCount, r.TradedQuantity)
		if err != nil {
			return inserted, fmt.Errorf("quotestore: insert %s/%s: %w", r.Date, r.Ticker, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			inserted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("quotestore: commit batch: %w", err)
	}
	return inserted, nil
}

// DeleteRange deletes rows with date in [from, to] inclusive, returning
// the number of rows deleted.
func (s *Store) DeleteRange(ctx context.Context, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE date >= ? AND date <= ?`, from, to)
	if err != nil {
		return 0, fmt.Errorf("quotestore: delete_range %s..%s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("quotestore: delete_range rows_affected: %w", err)
	}
	return n, nil
}

// LatestDate returns the most recent date with any row, or "" if empty.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	var max sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM quotes`).Scan(&max); err != nil {
		return "", fmt.Errorf("quotestore: latest_date: %w", err)
	}
	return max.String, nil
}

// ListTickers returns every distinct ticker present in the store.
func (s *Store) ListTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ticker FROM quotes ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("quotestore: list_tickers: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("quotestore: scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Stats returns row count, distinct ticker count, and the date range.
func (s *Store) Stats(ctx context.Context) (quote.Stats, error) {
	var st quote.Stats
	var dateMin, dateMax sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT ticker), MIN(date), MAX(date) FROM quotes`,
	).Scan(&st.Rows, &st.Tickers, &dateMin, &dateMax)
	if err != nil {
		return quote.Stats{}, fmt.Errorf("quotestore: stats: %w", err)
	}
	st.DateMin = dateMin.String
	st.DateMax = dateMax.String
	return st, nil
}

// Query returns rows for ticker in [from, to], ascending by date.
func (s *Store) Query(ctx context.Context, ticker, from, to string) ([]quote.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, ticker, open, high, low, close, volume, trade_count, quantity
		FROM quotes
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, ticker, from, to)
	if err != nil {
		return nil, fmt.Errorf("quotestore: query %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []quote.Quote
	for rows.Next() {
		var q quote.Quote
		var open, high, low, close, volume float64
		if err := rows.Scan(&q.Date, &q.Ticker, &open, &high, &low, &close, &volume, &q.TradeCount, &q.TradedQuantity); err != nil {
			return nil, fmt.Errorf("quotestore: scan row: %w", err)
		}
		q.Open = decimal.NewFromFloat(open)
		q.High = decimal.NewFromFloat(high)
		q.Low = decimal.NewFromFloat(low)
		q.Close = decimal.NewFromFloat(close)
		q.Volume = decimal.NewFromFloat(volume)
		out = append(out, q)
	}
	return out, rows.Err()
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
