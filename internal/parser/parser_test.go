package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/shopspring/decimal"

	"fiidata/internal/calendar"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func buildLine(recordType, classCode, date, ticker string, open, high, low, close, volume int64, trades, qty int64) string {
	buf := make([]byte, 245)
	for i := range buf {
		buf[i] = ' '
	}
	put := func(start, end int, s string) {
		copy(buf[start-1:end], s)
	}
	putNum := func(start, end int, n int64) {
		s := fmt.Sprintf("%d", n)
		width := end - start + 1
		if len(s) < width {
			s = fmt.Sprintf("%0*d", width, n)
		}
		put(start, end, s)
	}
	put(1, 2, recordType)
	put(3, 10, date)
	put(11, 12, classCode)
	put(13, 24, ticker)
	putNum(57, 69, open)
	putNum(70, 82, high)
	putNum(83, 95, low)
	putNum(109, 121, close)
	putNum(148, 152, trades)
	putNum(153, 170, qty)
	putNum(171, 188, volume)
	return string(buf)
}

func TestDecodeLine_RetainsFundTicker(t *testing.T) {
	line := buildLine("01", "12", "20250318", "ABCD11", 1000, 1000, 1000, 1050, 500000, 10, 100)
	q, ok, err := DecodeLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected line to be retained")
	}
	if q.Date != "2025-03-18" {
		t.Errorf("date = %s, want 2025-03-18", q.Date)
	}
	if q.Ticker != "ABCD11" {
		t.Errorf("ticker = %q, want ABCD11", q.Ticker)
	}
	if !q.Open.Equal(decimalFromFloat(10.00)) {
		t.Errorf("open = %s, want 10.00", q.Open)
	}
	if !q.Close.Equal(decimalFromFloat(10.50)) {
		t.Errorf("close = %s, want 10.50", q.Close)
	}
}

func TestDecodeLine_SkipsWrongClassCode(t *testing.T) {
	line := buildLine("01", "02", "20250318", "PETR4", 1000, 1000, 1000, 1000, 1000, 1, 1)
	_, ok, err := DecodeLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected non-fund-ticker line to be skipped, not retained")
	}
}

func TestDecodeLine_SkipsWrongRecordType(t *testing.T) {
	line := buildLine("99", "12", "20250318", "ABCD11", 1000, 1000, 1000, 1000, 1000, 1, 1)
	_, ok, err := DecodeLine([]byte(line))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected header/trailer line to be skipped")
	}
}

func TestDecodeLine_MalformedDateCountsAsWarning(t *testing.T) {
	line := buildLine("01", "12", "20251399", "ABCD11", 1000, 1000, 1000, 1000, 1000, 1, 1)
	_, ok, err := DecodeLine([]byte(line))
	if ok {
		t.Fatalf("malformed line should not be retained")
	}
	if err == nil {
		t.Fatalf("expected malformed-date error")
	}
}

func TestDecodeLine_EmptyTickerRejected(t *testing.T) {
	line := buildLine("01", "12", "20250318", "", 1000, 1000, 1000, 1000, 1000, 1, 1)
	_, ok, err := DecodeLine([]byte(line))
	if ok || err == nil {
		t.Fatalf("expected empty-ticker to be rejected as malformed")
	}
}

func TestParseReader_RoundTrip(t *testing.T) {
	// K valid fund-ticker lines, J non-matching lines.
	const k, j = 5, 3
	var buf bytes.Buffer
	for i := 0; i < k; i++ {
		buf.WriteString(buildLine("01", "12", "20250318", "ABCD11", 1000, 1000, 1000, 1000, 1000, 1, 1))
		buf.WriteByte('\n')
	}
	for i := 0; i < j; i++ {
		buf.WriteString(buildLine("01", "02", "20250318", "PETR4", 1000, 1000, 1000, 1000, 1000, 1, 1))
		buf.WriteByte('\n')
	}
	res, err := ParseReader(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Records) != k {
		t.Errorf("records = %d, want %d", len(res.Records), k)
	}
	if res.Malformed != 0 {
		t.Errorf("malformed = %d, want 0 (non-matching lines are skipped, not malformed)", res.Malformed)
	}
}

func TestParseFileParallel_MatchesSingleThreaded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "yearly.txt")

	var buf bytes.Buffer
	for i := 0; i < 2500; i++ {
		ticker := fmt.Sprintf("F%04d11", i%50)
		buf.WriteString(buildLine("01", "12", "20250318", ticker, int64(1000+i), int64(1010+i), int64(990+i), int64(1005+i), int64(10000+i), 1, int64(100+i)))
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	single, err := ParseReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("single-threaded parse: %v", err)
	}

	parallel, err := ParseFileParallel(context.Background(), path, 4, 200)
	if err != nil {
		t.Fatalf("parallel parse: %v", err)
	}

	if len(single.Records) != len(parallel.Records) {
		t.Fatalf("record count mismatch: single=%d parallel=%d", len(single.Records), len(parallel.Records))
	}
	sort.Slice(single.Records, func(i, j int) bool {
		return single.Records[i].Ticker+single.Records[i].Date < single.Records[j].Ticker+single.Records[j].Date
	})
	sort.Slice(parallel.Records, func(i, j int) bool {
		return parallel.Records[i].Ticker+parallel.Records[i].Date < parallel.Records[j].Ticker+parallel.Records[j].Date
	})
	for i := range single.Records {
		a, b := single.Records[i], parallel.Records[i]
		same := a.Date == b.Date && a.Ticker == b.Ticker &&
			a.Open.Equal(b.Open) && a.High.Equal(b.High) && a.Low.Equal(b.Low) &&
			a.Close.Equal(b.Close) && a.Volume.Equal(b.Volume) &&
			a.TradeCount == b.TradeCount && a.TradedQuantity == b.TradedQuantity
		if !same {
			t.Fatalf("record %d differs: single=%+v parallel=%+v", i, a, b)
		}
	}
}

func TestClassifyArchive(t *testing.T) {
	oracle := calendar.WeekdayOracle{}

	kind, from, to, err := ClassifyArchive("COTAHIST_D18032025.ZIP", oracle)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if kind.String() != "daily" || from != "2025-03-18" || to != "2025-03-18" {
		t.Errorf("daily classify = %s %s..%s", kind, from, to)
	}

	kind, from, to, err = ClassifyArchive("COTAHIST_M032025.ZIP", oracle)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if kind.String() != "monthly" || from == "" || to == "" {
		t.Errorf("monthly classify = %s %s..%s", kind, from, to)
	}

	kind, from, to, err = ClassifyArchive("COTAHIST_A2025.ZIP", oracle)
	if err != nil {
		t.Fatalf("yearly: %v", err)
	}
	if kind.String() != "yearly" || from != "2025-01-01" {
		t.Errorf("yearly classify = %s %s..%s", kind, from, to)
	}

	if _, _, _, err := ClassifyArchive("bogus.zip", oracle); err == nil {
		t.Errorf("expected error for unrecognized filename")
	}
}
