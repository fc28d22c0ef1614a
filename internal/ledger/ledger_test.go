package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"fiidata/internal/quote"
	"fiidata/internal/sqlitedb"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "ledger.db"), 5)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	l, err := Open(db)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return l
}

func TestUnseenThenUnchanged(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	v, err := l.IsProcessed(ctx, "COTAHIST_D18032025.ZIP", "hashA")
	if err != nil {
		t.Fatalf("is_processed: %v", err)
	}
	if v != quote.Unseen {
		t.Fatalf("verdict = %v, want Unseen", v)
	}

	if err := l.Record(ctx, "COTAHIST_D18032025.ZIP", quote.KindDaily, 1, "hashA"); err != nil {
		t.Fatalf("record: %v", err)
	}

	v, err = l.IsProcessed(ctx, "COTAHIST_D18032025.ZIP", "hashA")
	if err != nil {
		t.Fatalf("is_processed (2nd): %v", err)
	}
	if v != quote.Unchanged {
		t.Fatalf("verdict = %v, want Unchanged", v)
	}

	// S1: second run with unchanged hash re-records 0 new rows but
	// processed_at still advances.
	if err := l.Record(ctx, "COTAHIST_D18032025.ZIP", quote.KindDaily, 0, "hashA"); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	entries, err := l.ListProcessed(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].RowsInserted != 0 || entries[0].ContentHash != "hashA" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestModifiedVerdictOnHashChange(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	if err := l.Record(ctx, "COTAHIST_D18032025.ZIP", quote.KindDaily, 1, "hashA"); err != nil {
		t.Fatalf("record: %v", err)
	}

	v, err := l.IsProcessed(ctx, "COTAHIST_D18032025.ZIP", "hashB")
	if err != nil {
		t.Fatalf("is_processed: %v", err)
	}
	if v != quote.Modified {
		t.Fatalf("verdict = %v, want Modified", v)
	}

	if err := l.Record(ctx, "COTAHIST_D18032025.ZIP", quote.KindDaily, 1, "hashB"); err != nil {
		t.Fatalf("record updated hash: %v", err)
	}
	v, _ = l.IsProcessed(ctx, "COTAHIST_D18032025.ZIP", "hashB")
	if v != quote.Unchanged {
		t.Fatalf("verdict after update = %v, want Unchanged", v)
	}
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)
	if err := l.Record(ctx, "COTAHIST_D18032025.ZIP", quote.KindDaily, 1, "hashA"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Forget(ctx, "COTAHIST_D18032025.ZIP"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	v, err := l.IsProcessed(ctx, "COTAHIST_D18032025.ZIP", "hashA")
	if err != nil {
		t.Fatalf("is_processed: %v", err)
	}
	if v != quote.Unseen {
		t.Fatalf("verdict after forget = %v, want Unseen", v)
	}
}
