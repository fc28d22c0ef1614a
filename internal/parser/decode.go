package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fiidata/internal/quote"
)

const (
	fundTickerClassCode = "12"
	marketRecordCode    = "01"
)

var scaleDivisor = decimal.NewFromInt(100)

// substr returns the 1-indexed, inclusive byte range [start, end] of line,
// matching the spec's field-layout notation directly.
func substr(line []byte, start, end int) (string, bool) {
	if start < 1 || end < start || end > len(line) {
		return "", false
	}
	return string(line[start-1 : end]), true
}

// DecodeLine decodes one fixed-width COTAHIST line. It returns
// (quote, true, nil) when the line is a retained fund-ticker market
// record; (zero, false, nil) when the line is legitimately not ours
// (wrong record type or class code — not an error, just not retained);
// and (zero, false, err) when the line claims to be a fund-ticker market
// record but is malformed, which the caller should count as a parse
// warning without aborting the archive.
func DecodeLine(line []byte) (quote.Quote, bool, error) {
	recordType, ok := substr(line, 1, 2)
	if !ok || recordType != marketRecordCode {
		return quote.Quote{}, false, nil
	}
	classCode, ok := substr(line, 11, 12)
	if !ok || classCode != fundTickerClassCode {
		return quote.Quote{}, false, nil
	}

	rawDate, ok := substr(line, 3, 10)
	if !ok {
		return quote.Quote{}, false, fmt.Errorf("line too short for date field")
	}
	d, err := time.Parse("20060102", rawDate)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("malformed date %q: %w", rawDate, err)
	}

	rawTicker, ok := substr(line, 13, 24)
	if !ok {
		return quote.Quote{}, false, fmt.Errorf("line too short for ticker field")
	}
	ticker := strings.TrimSpace(rawTicker)
	if ticker == "" {
		return quote.Quote{}, false, fmt.Errorf("empty ticker")
	}

	open, err := decodeScaledPrice(line, 57, 69)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("open: %w", err)
	}
	high, err := decodeScaledPrice(line, 70, 82)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("high: %w", err)
	}
	low, err := decodeScaledPrice(line, 83, 95)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("low: %w", err)
	}
	closePrice, err := decodeScaledPrice(line, 109, 121)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("close: %w", err)
	}
	volume, err := decodeScaledPrice(line, 171, 188)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("volume: %w", err)
	}
	tradeCount, err := decodeInt(line, 148, 152)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("trade count: %w", err)
	}
	tradedQty, err := decodeInt(line, 153, 170)
	if err != nil {
		return quote.Quote{}, false, fmt.Errorf("traded quantity: %w", err)
	}

	for name, v := range map[string]decimal.Decimal{"open": open, "high": high, "low": low, "close": closePrice, "volume": volume} {
		if v.IsNegative() {
			return quote.Quote{}, false, fmt.Errorf("%s is negative", name)
		}
	}
	if tradeCount < 0 || tradedQty < 0 {
		return quote.Quote{}, false, fmt.Errorf("negative integer field")
	}

	return quote.Quote{
		Date:           d.Format("2006-01-02"),
		Ticker:         ticker,
		Open:           open,
		High:           high,
		Low:            low,
		Close:          closePrice,
		Volume:         volume,
		TradeCount:     tradeCount,
		TradedQuantity: tradedQty,
	}, true, nil
}

func decodeScaledPrice(line []byte, start, end int) (decimal.Decimal, error) {
	raw, ok := substr(line, start, end)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("field out of range")
	}
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("malformed number %q: %w", raw, err)
	}
	return decimal.NewFromInt(n).DivRound(scaleDivisor, 4), nil
}

func decodeInt(line []byte, start, end int) (int64, error) {
	raw, ok := substr(line, start, end)
	if !ok {
		return 0, fmt.Errorf("field out of range")
	}
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed integer %q: %w", raw, err)
	}
	return n, nil
}
