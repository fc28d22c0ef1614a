// Command events administers the EventStore: put/delete/list a single
// corporate action, or bulk-import a spec §6.3 JSON array. This is the
// administrative flow spec §4.6 describes as "never owned by the
// Ingestor" — a human or a separate job runs this, not the daily
// ingest path.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"fiidata/internal/appconfig"
	"fiidata/internal/eventstore"
	"fiidata/internal/quote"
	"fiidata/internal/sqlitedb"

	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	sub := os.Args[1]
	args := os.Args[2:]

	switch sub {
	case "put":
		runPut(args)
	case "delete":
		runDelete(args)
	case "list":
		runList(args)
	case "import":
		runImport(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: events <put|delete|list|import> [flags]")
}

// openStore opens the EventStore named by fs's already-parsed -db flag.
// Every subcommand carries its own -db flag so each can be invoked
// standalone without a shared pre-parse pass.
func openStore(dbPath string) *eventstore.Store {
	cfg := appconfig.Load(appconfig.EnvProvider{})
	db, err := sqlitedb.Open(dbPath, cfg.DBTimeoutSec)
	if err != nil {
		log.Fatalf("events: open database: %v", err)
	}
	store, err := eventstore.Open(db)
	if err != nil {
		log.Fatalf("events: open event store: %v", err)
	}
	return store
}

func runPut(args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	dbPath := fs.String("db", "./fiidata.db", "path to the sqlite database")
	ticker := fs.String("ticker", "", "fund ticker")
	date := fs.String("date", "", "effective date, YYYY-MM-DD")
	kind := fs.String("kind", "", "split|reverse_split")
	factor := fs.String("factor", "", "factor, e.g. 10 or 0.1")
	fs.Parse(args)
	store := openStore(*dbPath)
	ctx := context.Background()

	f, err := decimal.NewFromString(*factor)
	if err != nil {
		log.Fatalf("events: bad -factor %q: %v", *factor, err)
	}
	a := quote.CorporateAction{
		Ticker:        *ticker,
		EffectiveDate: *date,
		Kind:          quote.ActionKind(*kind),
		Factor:        f,
	}
	if err := store.Put(ctx, a); err != nil {
		log.Fatalf("events: put: %v", err)
	}
	fmt.Printf("recorded %s %s %s factor=%s\n", a.Ticker, a.EffectiveDate, a.Kind, a.Factor)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	dbPath := fs.String("db", "./fiidata.db", "path to the sqlite database")
	ticker := fs.String("ticker", "", "fund ticker")
	date := fs.String("date", "", "effective date, YYYY-MM-DD")
	kind := fs.String("kind", "", "split|reverse_split")
	fs.Parse(args)
	store := openStore(*dbPath)
	ctx := context.Background()

	if err := store.Delete(ctx, *ticker, *date, quote.ActionKind(*kind)); err != nil {
		log.Fatalf("events: delete: %v", err)
	}
	fmt.Printf("deleted %s %s %s\n", *ticker, *date, *kind)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", "./fiidata.db", "path to the sqlite database")
	ticker := fs.String("ticker", "", "fund ticker, empty = all")
	from := fs.String("from", "", "effective_date lower bound, inclusive")
	to := fs.String("to", "", "effective_date upper bound, inclusive")
	fs.Parse(args)
	store := openStore(*dbPath)
	ctx := context.Background()

	actions, err := store.List(ctx, *ticker, *from, *to)
	if err != nil {
		log.Fatalf("events: list: %v", err)
	}
	for _, a := range actions {
		fmt.Printf("%-8s %-10s %-14s factor=%s\n", a.Ticker, a.EffectiveDate, a.Kind, a.Factor)
	}
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", "./fiidata.db", "path to the sqlite database")
	path := fs.String("file", "", "path to a JSON array of corporate-action records")
	fs.Parse(args)
	store := openStore(*dbPath)
	ctx := context.Background()

	if *path == "" {
		log.Fatalf("events: import requires -file")
	}
	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("events: read %s: %v", *path, err)
	}

	result, err := store.BulkImport(ctx, data)
	if err != nil {
		log.Fatalf("events: bulk_import: %v", err)
	}
	fmt.Printf("imported=%d ignored=%d skipped=%d\n", result.Imported, result.Ignored, len(result.Skipped))
	if len(result.Skipped) > 0 {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result.Skipped)
	}
}
