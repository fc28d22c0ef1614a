// Package eventstore implements the EventStore component (spec §4.6):
// CRUD over CorporateAction with validation, backed by SQLite per the
// §6.2 corporate_actions schema. Owned by an administrative flow, never
// by the Ingestor.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fiidata/internal/pipeline"
	"fiidata/internal/quote"
)

const schema = `
CREATE TABLE IF NOT EXISTS corporate_actions (
	ticker TEXT NOT NULL,
	effective_date TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('split','reverse_split')),
	factor REAL NOT NULL CHECK(factor > 0),
	recorded_at TEXT NOT NULL,
	PRIMARY KEY(ticker, effective_date, kind)
);
CREATE INDEX IF NOT EXISTS idx_corporate_actions_ticker ON corporate_actions(ticker);
`

// Store is the EventStore component.
type Store struct {
	db *sql.DB
}

// Open creates/opens the corporate_actions table on db.
func Open(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("eventstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// validate normalizes and checks a.Ticker/a.Kind/a.Factor/a.EffectiveDate
// per spec §4.6: factor > 0, kind ∈ {split, reverse_split}, date
// parseable, ticker uppercased.
func validate(a quote.CorporateAction) (quote.CorporateAction, error) {
	a.Ticker = strings.ToUpper(strings.TrimSpace(a.Ticker))
	if a.Ticker == "" {
		return a, pipeline.ValidationError{Row: a.EffectiveDate, Reason: "ticker must not be empty"}
	}
	if !a.Kind.Valid() {
		return a, pipeline.ValidationError{Row: a.Ticker, Reason: fmt.Sprintf("invalid kind %q", a.Kind)}
	}
	if a.Factor.Sign() <= 0 {
		return a, pipeline.ValidationError{Row: a.Ticker, Reason: "factor must be > 0"}
	}
	if _, err := time.Parse("2006-01-02", a.EffectiveDate); err != nil {
		return a, pipeline.ValidationError{Row: a.Ticker, Reason: fmt.Sprintf("unparseable effective_date %q", a.EffectiveDate)}
	}
	return a, nil
}

// Put validates and upserts a single corporate action.
func (s *Store) Put(ctx context.Context, a quote.CorporateAction) error {
	a, err := validate(a)
	if err != nil {
		return err
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO corporate_actions (ticker, effective_date, kind, factor, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ticker, effective_date, kind) DO UPDATE SET
			factor = excluded.factor,
			recorded_at = excluded.recorded_at
	`, a.Ticker, a.EffectiveDate, string(a.Kind), toFloat(a.Factor), a.RecordedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("eventstore: put %s/%s: %w", a.Ticker, a.EffectiveDate, err)
	}
	return nil
}

// Delete removes one (ticker, effective_date, kind) entry.
func (s *Store) Delete(ctx context.Context, ticker, effectiveDate string, kind quote.ActionKind) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM corporate_actions WHERE ticker = ? AND effective_date = ? AND kind = ?`,
		ticker, effectiveDate, string(kind))
	if err != nil {
		return fmt.Errorf("eventstore: delete %s/%s: %w", ticker, effectiveDate, err)
	}
	return nil
}

// List returns corporate actions filtered by ticker (empty = all tickers)
// and by an inclusive effective_date range (empty from/to = unbounded),
// ascending by effective_date.
func (s *Store) List(ctx context.Context, ticker, from, to string) ([]quote.CorporateAction, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	query := `SELECT ticker, effective_date, kind, factor, recorded_at FROM corporate_actions WHERE 1=1`
	var args []any
	if ticker != "" {
		query += ` AND ticker = ?`
		args = append(args, ticker)
	}
	if from != "" {
		query += ` AND effective_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND effective_date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY effective_date ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: list: %w", err)
	}
	defer rows.Close()

	var out []quote.CorporateAction
	for rows.Next() {
		var a quote.CorporateAction
		var kindStr, recordedAt string
		var factor float64
		if err := rows.Scan(&a.Ticker, &a.EffectiveDate, &kindStr, &factor, &recordedAt); err != nil {
			return nil, fmt.Errorf("eventstore: scan: %w", err)
		}
		a.Kind = quote.ActionKind(kindStr)
		a.Factor = decimal.NewFromFloat(factor)
		a.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// importRecord is the wire shape of one element in the spec §6.3 JSON
// event-import array.
type importRecord struct {
	Ticker        string  `json:"ticker"`
	Kind          string  `json:"kind"`
	EffectiveDate string  `json:"effective_date"`
	Factor        float64 `json:"factor"`
}

// BulkImportResult summarizes one BulkImport call.
type BulkImportResult struct {
	Imported int
	Ignored  int // same key, same factor — already present, no-op
	Skipped  []pipeline.ValidationError
}

// BulkImport parses the spec §6.3 JSON array of corporate-action records
// and applies each: unknown fields are rejected, duplicates with the same
// key and factor are ignored, duplicates with a conflicting factor are
// reported and skipped (not applied).
func (s *Store) BulkImport(ctx context.Context, data []byte) (BulkImportResult, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()

	var records []importRecord
	if err := dec.Decode(&records); err != nil {
		return BulkImportResult{}, fmt.Errorf("eventstore: bulk_import decode: %w", err)
	}

	var result BulkImportResult
	for _, rec := range records {
		a := quote.CorporateAction{
			Ticker:        rec.Ticker,
			EffectiveDate: rec.EffectiveDate,
			Kind:          quote.ActionKind(rec.Kind),
			Factor:        decimal.NewFromFloat(rec.Factor),
		}
		a, err := validate(a)
		if err != nil {
			var verr pipeline.ValidationError
			if asValidationError(err, &verr) {
				result.Skipped = append(result.Skipped, verr)
				continue
			}
			return result, err
		}

		existing, err := s.List(ctx, a.Ticker, a.EffectiveDate, a.EffectiveDate)
		if err != nil {
			return result, err
		}
		conflict := false
		alreadyPresent := false
		for _, e := range existing {
			if e.Kind != a.Kind {
				continue
			}
			if e.Factor.Equal(a.Factor) {
				alreadyPresent = true
			} else {
				conflict = true
			}
		}
		if conflict {
			result.Skipped = append(result.Skipped, pipeline.ValidationError{
				Row:    a.Ticker,
				Reason: fmt.Sprintf("conflicting factor for %s/%s/%s", a.Ticker, a.EffectiveDate, a.Kind),
			})
			continue
		}
		if alreadyPresent {
			result.Ignored++
			continue
		}
		if err := s.Put(ctx, a); err != nil {
			return result, err
		}
		result.Imported++
	}
	return result, nil
}

func asValidationError(err error, target *pipeline.ValidationError) bool {
	if verr, ok := err.(pipeline.ValidationError); ok {
		*target = verr
		return true
	}
	return false
}

// fundsDocument is the wire shape of spec §6.3's rename-mapping document.
type fundsDocument struct {
	Funds []json.RawMessage `json:"funds"`
}

// ParseFundsDocument parses the {"funds":[...]} document into
// TickerSeriesSpec values: bare strings become single-ticker series,
// arrays become rename chains (terminal symbol last, already in order).
func ParseFundsDocument(data []byte) ([]quote.TickerSeriesSpec, error) {
	var doc fundsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("eventstore: parse funds document: %w", err)
	}
	out := make([]quote.TickerSeriesSpec, 0, len(doc.Funds))
	for _, raw := range doc.Funds {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			out = append(out, quote.TickerSeriesSpec{strings.ToUpper(strings.TrimSpace(single))})
			continue
		}
		var chain []string
		if err := json.Unmarshal(raw, &chain); err != nil {
			return nil, fmt.Errorf("eventstore: funds entry is neither string nor array: %w", err)
		}
		for i := range chain {
			chain[i] = strings.ToUpper(strings.TrimSpace(chain[i]))
		}
		out = append(out, quote.TickerSeriesSpec(chain))
	}
	return out, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
