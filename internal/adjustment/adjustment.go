// Package adjustment implements the AdjustmentEngine component (spec
// §4.7): it concatenates a TickerSeriesSpec's disjoint historical
// windows into one continuous series and applies back-adjustment for
// any corporate actions recorded against the constituent tickers.
package adjustment

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"fiidata/internal/quote"
)

// earliestDate/latestDate bound an unbounded Query call; dates are
// stored as ISO YYYY-MM-DD text so these sort correctly either way.
const (
	earliestDate = "0000-01-01"
	latestDate   = "9999-12-31"
)

// QuoteSource is the read-side of QuoteStore the engine depends on.
type QuoteSource interface {
	Query(ctx context.Context, ticker, from, to string) ([]quote.Quote, error)
}

// ActionSource is the read-side of EventStore the engine depends on.
type ActionSource interface {
	List(ctx context.Context, ticker, from, to string) ([]quote.CorporateAction, error)
}

// Engine is the AdjustmentEngine component.
type Engine struct {
	quotes  QuoteSource
	actions ActionSource
}

// New builds an Engine over the given stores.
func New(quotes QuoteSource, actions ActionSource) *Engine {
	return &Engine{quotes: quotes, actions: actions}
}

// BuildSeries implements spec §4.7 exactly: concatenate each tᵢ's quote
// window (later ticker wins on overlap), gather every corporate action
// for any tᵢ, and back-adjust walking from the most recent row backward,
// maintaining a cumulative factor that is folded in as each
// effective_date is crossed.
func (e *Engine) BuildSeries(ctx context.Context, spec quote.TickerSeriesSpec) ([]quote.AdjustedQuote, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("adjustment: empty ticker series spec")
	}
	terminal := spec.Terminal()

	merged, err := e.concatenateWindows(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, nil
	}

	actions, err := e.gatherActions(ctx, spec)
	if err != nil {
		return nil, err
	}
	// Descending by effective_date so the backward walk consumes them
	// in the order it crosses them.
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].EffectiveDate > actions[j].EffectiveDate
	})

	out := make([]quote.AdjustedQuote, len(merged))
	factor := decimal.NewFromInt(1)
	actionIdx := 0
	for i := len(merged) - 1; i >= 0; i-- {
		row := merged[i]
		for actionIdx < len(actions) && row.Date < actions[actionIdx].EffectiveDate {
			factor = foldAction(factor, actions[actionIdx])
			actionIdx++
		}
		out[i] = adjustRow(row, terminal, factor)
	}
	return out, nil
}

// concatenateWindows queries each ticker's full history and concatenates
// the windows in spec order; on date overlap the later ticker's row
// wins (spec §4.7 step 1).
func (e *Engine) concatenateWindows(ctx context.Context, spec quote.TickerSeriesSpec) ([]quote.Quote, error) {
	byDate := make(map[string]quote.Quote)
	var order []string
	for _, ticker := range spec {
		rows, err := e.quotes.Query(ctx, ticker, earliestDate, latestDate)
		if err != nil {
			return nil, fmt.Errorf("adjustment: query %s: %w", ticker, err)
		}
		for _, r := range rows {
			if _, exists := byDate[r.Date]; !exists {
				order = append(order, r.Date)
			}
			byDate[r.Date] = r // later ticker in spec order overwrites
		}
	}
	sort.Strings(order)
	// order may contain a date more than once only if appended before an
	// overwrite on the same ticker's own duplicate rows, which cannot
	// happen since QuoteStore's primary key is (date, ticker); dedupe
	// defensively anyway.
	seen := make(map[string]bool, len(order))
	merged := make([]quote.Quote, 0, len(order))
	for _, d := range order {
		if seen[d] {
			continue
		}
		seen[d] = true
		merged = append(merged, byDate[d])
	}
	return merged, nil
}

// gatherActions retrieves every CorporateAction for any ticker in spec.
func (e *Engine) gatherActions(ctx context.Context, spec quote.TickerSeriesSpec) ([]quote.CorporateAction, error) {
	var all []quote.CorporateAction
	for _, ticker := range spec {
		actions, err := e.actions.List(ctx, ticker, "", "")
		if err != nil {
			return nil, fmt.Errorf("adjustment: list actions %s: %w", ticker, err)
		}
		all = append(all, actions...)
	}
	return all, nil
}

// foldAction folds one crossed CorporateAction into the cumulative
// factor: split multiplies, reverse_split divides.
func foldAction(factor decimal.Decimal, a quote.CorporateAction) decimal.Decimal {
	switch a.Kind {
	case quote.ActionSplit:
		return factor.Mul(a.Factor)
	case quote.ActionReverseSplit:
		return factor.Div(a.Factor)
	default:
		return factor
	}
}

// adjustRow scales r's prices by 1/factor and its quantity/volume by
// factor (the inverse direction), labelling the row with terminal while
// preserving its original ticker for provenance.
func adjustRow(r quote.Quote, terminal string, factor decimal.Decimal) quote.AdjustedQuote {
	return quote.AdjustedQuote{
		Date:           r.Date,
		Ticker:         terminal,
		SourceTicker:   r.Ticker,
		Open:           r.Open.Div(factor),
		High:           r.High.Div(factor),
		Low:            r.Low.Div(factor),
		Close:          r.Close.Div(factor),
		Volume:         r.Volume.Mul(factor),
		TradeCount:     r.TradeCount,
		TradedQuantity: int64(decimal.NewFromInt(r.TradedQuantity).Mul(factor).IntPart()),
	}
}
