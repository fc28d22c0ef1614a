// Package quote defines the core record and archive types shared across
// the ingest pipeline.
package quote

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one (date, ticker) trading record for a fund ticker.
// Immutable once inserted; (Date, Ticker) is the natural primary key.
type Quote struct {
	Date           string // ISO YYYY-MM-DD
	Ticker         string
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal
	TradeCount     int64
	TradedQuantity int64
}

// Kind classifies an archive by its filename pattern.
type Kind int

const (
	KindUnknown Kind = iota
	KindDaily
	KindMonthly
	KindYearly
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindMonthly:
		return "monthly"
	case KindYearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// Archive is one exchange-issued ZIP, classified and date-ranged.
type Archive struct {
	Name string // e.g. COTAHIST_D18032025.ZIP
	Path string // path to the compressed file on disk
	Kind Kind
	From string // ISO date, inclusive
	To   string // ISO date, inclusive
}

// DateRange returns From/To as time.Time in UTC for arithmetic.
func (a Archive) DateRange() (from, to time.Time, err error) {
	from, err = time.Parse("2006-01-02", a.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("archive %s: parse from date: %w", a.Name, err)
	}
	to, err = time.Parse("2006-01-02", a.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("archive %s: parse to date: %w", a.Name, err)
	}
	return from, to, nil
}

// CorporateAction is a split or reverse-split event for a ticker.
type CorporateAction struct {
	Ticker        string
	EffectiveDate string // ISO YYYY-MM-DD
	Kind          ActionKind
	Factor        decimal.Decimal
	RecordedAt    time.Time
}

// ActionKind enumerates corporate action types.
type ActionKind string

const (
	ActionSplit        ActionKind = "split"
	ActionReverseSplit ActionKind = "reverse_split"
)

// Valid reports whether k is one of the two known kinds.
func (k ActionKind) Valid() bool {
	return k == ActionSplit || k == ActionReverseSplit
}

// TickerSeriesSpec is an ordered rename chain ending in the current symbol,
// e.g. ["OLD11", "MID11", "NEW11"].
type TickerSeriesSpec []string

// Terminal returns the last (current) ticker in the chain.
func (s TickerSeriesSpec) Terminal() string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

// AdjustedQuote is one row of an adjustment-engine output series. The
// whole output series is labelled by the terminal (current) ticker of
// the TickerSeriesSpec it was built from; SourceTicker preserves which
// historical symbol this particular row actually came from.
type AdjustedQuote struct {
	Date           string
	Ticker         string // terminal symbol the whole series is labelled by
	SourceTicker   string // symbol this row was recorded under historically
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal
	TradeCount     int64
	TradedQuantity int64
}

// Stats summarizes the QuoteStore's current contents.
type Stats struct {
	Rows    int64
	Tickers int64
	DateMin string
	DateMax string
}

// LedgerVerdict is the three-valued result of asking the FileLedger
// whether an archive has already been processed.
type LedgerVerdict int

const (
	Unseen LedgerVerdict = iota
	Unchanged
	Modified
)

func (v LedgerVerdict) String() string {
	switch v {
	case Unchanged:
		return "unchanged"
	case Modified:
		return "modified"
	default:
		return "unseen"
	}
}

// FileLedgerEntry records which archives have been ingested and under
// which content hash.
type FileLedgerEntry struct {
	ArchiveName  string
	Kind         Kind
	ProcessedAt  time.Time
	RowsInserted int64
	ContentHash  string
}
