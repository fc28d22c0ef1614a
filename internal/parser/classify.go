// Package parser decodes fixed-width COTAHIST-style quote lines and
// classifies archives by filename, following the teacher's CSV-column
// parsing idiom (install_candles.go's ingestMonth1m) adapted to a
// fixed-width layout instead of comma-separated fields.
package parser

import (
	"fmt"
	"regexp"
	"time"

	"fiidata/internal/calendar"
	"fiidata/internal/quote"
)

var (
	dailyPattern   = regexp.MustCompile(`^COTAHIST_D(\d{2})(\d{2})(\d{4})\.ZIP$`)
	monthlyPattern = regexp.MustCompile(`^COTAHIST_M(\d{2})(\d{4})\.ZIP$`)
	yearlyPattern  = regexp.MustCompile(`^COTAHIST_A(\d{4})\.ZIP$`)
)

// ClassifyArchive derives the archive kind and covered date range from its
// filename, per spec §4.1. oracle resolves the first/last business day of
// a month or year for monthly/yearly archives.
func ClassifyArchive(filename string, oracle calendar.CalendarOracle) (quote.Kind, string, string, error) {
	if m := dailyPattern.FindStringSubmatch(filename); m != nil {
		day, month, year := m[1], m[2], m[3]
		d, err := time.Parse("02012006", day+month+year)
		if err != nil {
			return quote.KindUnknown, "", "", fmt.Errorf("classify %s: %w", filename, err)
		}
		iso := d.Format("2006-01-02")
		return quote.KindDaily, iso, iso, nil
	}
	if m := monthlyPattern.FindStringSubmatch(filename); m != nil {
		month, year := m[1], m[2]
		t, err := time.Parse("012006", month+year)
		if err != nil {
			return quote.KindUnknown, "", "", fmt.Errorf("classify %s: %w", filename, err)
		}
		first, last := calendar.FirstLastBusinessDay(oracle, t.Year(), t.Month())
		return quote.KindMonthly, first.Format("2006-01-02"), last.Format("2006-01-02"), nil
	}
	if m := yearlyPattern.FindStringSubmatch(filename); m != nil {
		var year int
		if _, err := fmt.Sscanf(m[1], "%d", &year); err != nil {
			return quote.KindUnknown, "", "", fmt.Errorf("classify %s: %w", filename, err)
		}
		first, last := calendar.FirstLastBusinessDayOfYear(oracle, year)
		return quote.KindYearly, first.Format("2006-01-02"), last.Format("2006-01-02"), nil
	}
	return quote.KindUnknown, "", "", fmt.Errorf("classify %s: unrecognized filename pattern", filename)
}
