package eventstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"fiidata/internal/quote"
	"fiidata/internal/sqlitedb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "events.db"), 5)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestPutRejectsNonPositiveFactor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	err := s.Put(ctx, quote.CorporateAction{
		Ticker: "abcd11", EffectiveDate: "2025-01-10",
		Kind: quote.ActionSplit, Factor: decimal.NewFromInt(0),
	})
	if err == nil {
		t.Fatal("expected error for factor <= 0")
	}
}

func TestPutRejectsInvalidKind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	err := s.Put(ctx, quote.CorporateAction{
		Ticker: "ABCD11", EffectiveDate: "2025-01-10",
		Kind: "bonus", Factor: decimal.NewFromInt(2),
	})
	if err == nil {
		t.Fatal("expected error for invalid kind")
	}
}

func TestPutUppercasesTickerAndLists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	err := s.Put(ctx, quote.CorporateAction{
		Ticker: "abcd11", EffectiveDate: "2025-01-10",
		Kind: quote.ActionSplit, Factor: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	actions, err := s.List(ctx, "abcd11", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 1 || actions[0].Ticker != "ABCD11" {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestListFiltersByDateRange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, date := range []string{"2024-01-10", "2025-01-10", "2026-01-10"} {
		if err := s.Put(ctx, quote.CorporateAction{
			Ticker: "ABCD11", EffectiveDate: date,
			Kind: quote.ActionSplit, Factor: decimal.NewFromInt(2),
		}); err != nil {
			t.Fatalf("put %s: %v", date, err)
		}
	}
	actions, err := s.List(ctx, "ABCD11", "2025-01-01", "2025-12-31")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 1 || actions[0].EffectiveDate != "2025-01-10" {
		t.Fatalf("unexpected actions: %+v", actions)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Put(ctx, quote.CorporateAction{
		Ticker: "ABCD11", EffectiveDate: "2025-01-10",
		Kind: quote.ActionSplit, Factor: decimal.NewFromInt(2),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "ABCD11", "2025-01-10", quote.ActionSplit); err != nil {
		t.Fatalf("delete: %v", err)
	}
	actions, err := s.List(ctx, "ABCD11", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("expected no actions after delete, got %+v", actions)
	}
}

func TestBulkImportIgnoresSameFactorDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	payload := []byte(`[
		{"ticker":"ABCD11","kind":"split","effective_date":"2025-01-10","factor":2},
		{"ticker":"ABCD11","kind":"split","effective_date":"2025-01-10","factor":2}
	]`)
	result, err := s.BulkImport(ctx, payload)
	if err != nil {
		t.Fatalf("bulk_import: %v", err)
	}
	if result.Imported != 1 || result.Ignored != 1 || len(result.Skipped) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestBulkImportSkipsConflictingFactorDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	payload := []byte(`[
		{"ticker":"ABCD11","kind":"split","effective_date":"2025-01-10","factor":2},
		{"ticker":"ABCD11","kind":"split","effective_date":"2025-01-10","factor":3}
	]`)
	result, err := s.BulkImport(ctx, payload)
	if err != nil {
		t.Fatalf("bulk_import: %v", err)
	}
	if result.Imported != 1 || result.Ignored != 0 || len(result.Skipped) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	actions, err := s.List(ctx, "ABCD11", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 1 || !actions[0].Factor.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("conflicting factor must not overwrite original: %+v", actions)
	}
}

func TestBulkImportRejectsUnknownFields(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	payload := []byte(`[{"ticker":"ABCD11","kind":"split","effective_date":"2025-01-10","factor":2,"extra":"nope"}]`)
	if _, err := s.BulkImport(ctx, payload); err == nil {
		t.Fatal("expected decode error for unknown field")
	}
}

func TestParseFundsDocument(t *testing.T) {
	payload := []byte(`{"funds":["AAA11",["OLD11","MID11","NEW11"]]}`)
	specs, err := ParseFundsDocument(payload)
	if err != nil {
		t.Fatalf("parse funds: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs = %d, want 2", len(specs))
	}
	if len(specs[0]) != 1 || specs[0].Terminal() != "AAA11" {
		t.Fatalf("single-ticker spec wrong: %+v", specs[0])
	}
	if len(specs[1]) != 3 || specs[1].Terminal() != "NEW11" {
		t.Fatalf("rename chain wrong: %+v", specs[1])
	}
}
