package downloader

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fiidata/internal/applog"
	"fiidata/internal/calendar"
)

func validZipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("member.txt")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write(bytes.Repeat([]byte("x"), 256)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// TestFetch404IsNotYetPublished covers S5: a 404 surfaces as a permanent,
// not-yet-published failure with no retries beyond the initial probe.
func TestFetch404IsNotYetPublished(t *testing.T) {
	var headHits, getHits int
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			headHits++
		} else {
			getHits++
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	d := newTestDownloader(t, server)
	outcome, err := d.Fetch(context.Background(), "COTAHIST_D01012099.ZIP")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !outcome.PermanentFail || !outcome.NotYetPublished {
		t.Fatalf("outcome = %+v, want permanent+not_yet_published", outcome)
	}
	if headHits != 1 {
		t.Fatalf("head_hits = %d, want 1 (no retries on the HEAD probe)", headHits)
	}
	if getHits != 0 {
		t.Fatalf("get_hits = %d, want 0 (HEAD already settled it)", getHits)
	}
}

// TestFetchSucceedsAndVerifiesZip exercises the happy path end to end.
func TestFetchSucceedsAndVerifiesZip(t *testing.T) {
	payload := validZipBytes(t)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	d := newTestDownloader(t, server)
	outcome, err := d.Fetch(context.Background(), "COTAHIST_D18032025.ZIP")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !outcome.OK {
		t.Fatalf("outcome = %+v, want ok", outcome)
	}
	data, err := os.ReadFile(outcome.Path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if len(data) != len(payload) {
		t.Fatalf("downloaded %d bytes, want %d", len(data), len(payload))
	}
}

// TestFetchRejectsInvalidZip covers post-verification failure: a
// downloaded file that is not a valid ZIP is a permanent failure.
func TestFetchRejectsInvalidZip(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(bytes.Repeat([]byte("not a zip"), 20))
	}))
	defer server.Close()

	d := newTestDownloader(t, server)
	outcome, err := d.Fetch(context.Background(), "COTAHIST_D18032025.ZIP")
	if err == nil {
		t.Fatal("expected integrity error for non-zip payload")
	}
	if !outcome.PermanentFail {
		t.Fatalf("outcome = %+v, want permanent_fail", outcome)
	}
}

func TestPinStoreFirstSeenThenMatch(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadPinStore(filepath.Join(dir, "pins.json"))
	if err != nil {
		t.Fatalf("load pin store: %v", err)
	}
	now := time.Now().UTC()
	status, err := store.Check("example.com", "abc123", 30*24*time.Hour, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != PinFirstSeen {
		t.Fatalf("status = %v, want PinFirstSeen", status)
	}
	status, err = store.Check("example.com", "abc123", 30*24*time.Hour, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != PinMatch {
		t.Fatalf("status = %v, want PinMatch", status)
	}
}

func TestPinStoreMismatchThenRotationAccepted(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadPinStore(filepath.Join(dir, "pins.json"))
	if err != nil {
		t.Fatalf("load pin store: %v", err)
	}
	base := time.Now().UTC()
	if _, err := store.Check("example.com", "abc123", time.Hour, base); err != nil {
		t.Fatalf("check: %v", err)
	}

	status, err := store.Check("example.com", "def456", time.Hour, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != PinMismatch {
		t.Fatalf("status = %v, want PinMismatch (within rotation window)", status)
	}

	status, err = store.Check("example.com", "def456", time.Hour, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status != PinRotatedAccepted {
		t.Fatalf("status = %v, want PinRotatedAccepted (past rotation window)", status)
	}
}

func TestMissingTradingDaysExcludesWeekends(t *testing.T) {
	oracle := calendar.WeekdayOracle{}
	// 2025-03-14 is a Friday; 2025-03-17 is the following Monday.
	last := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	today := time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)
	days := MissingTradingDays(oracle, last, today)
	if len(days) != 1 || !days[0].Equal(today) {
		t.Fatalf("missing_trading_days = %v, want just Monday", days)
	}
}

func newTestDownloader(t *testing.T, server *httptest.Server) *Downloader {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		BaseURL:       server.URL,
		DataDir:       dir,
		MaxRetries:    2,
		BackoffFactor: 2,
		WaitMin:       time.Millisecond,
		WaitMax:       2 * time.Millisecond,
		CertRotation:  30 * 24 * time.Hour,
		PinStorePath:  filepath.Join(dir, "pins.json"),
	}
	d, err := New(cfg, applog.NewNop())
	if err != nil {
		t.Fatalf("new downloader: %v", err)
	}
	d.client = server.Client()
	return d
}
