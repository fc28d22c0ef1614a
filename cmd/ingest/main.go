// Command ingest runs the Ingestor over one or more COTAHIST archives,
// wiring the pipeline's singletons the way spec §9's design note
// describes: one Config, one logger, one CalendarOracle, threaded
// through constructors rather than package-level globals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fiidata/internal/appconfig"
	"fiidata/internal/applog"
	"fiidata/internal/calendar"
	"fiidata/internal/ingest"
	"fiidata/internal/ledger"
	"fiidata/internal/quotestore"
	"fiidata/internal/sqlitedb"
)

func main() {
	dbPath := flag.String("db", "./fiidata.db", "path to the sqlite database")
	archiveGlob := flag.String("archives", "./data/*.ZIP", "glob pattern matching archives to process")
	workers := flag.Int("workers", 0, "chunk-parse worker count (0 = auto)")
	flag.Parse()

	logger, err := applog.New()
	if err != nil {
		log.Fatalf("ingest: init logger: %v", err)
	}
	defer logger.Sync()

	cfg := appconfig.Load(appconfig.EnvProvider{})

	paths, err := filepath.Glob(*archiveGlob)
	if err != nil {
		logger.Error(applog.Ingest, "bad archive glob", zap.Error(err), zap.String("glob", *archiveGlob))
		log.Fatalf("ingest: bad archive glob %q: %v", *archiveGlob, err)
	}
	if len(paths) == 0 {
		logger.Warn(applog.Ingest, "no archives matched glob", zap.String("glob", *archiveGlob))
		return
	}

	db, err := sqlitedb.Open(*dbPath, cfg.DBTimeoutSec)
	if err != nil {
		logger.Error(applog.DB, "open database failed", zap.Error(err))
		log.Fatalf("ingest: open database: %v", err)
	}
	defer db.Close()

	fileLedger, err := ledger.Open(db)
	if err != nil {
		logger.Error(applog.DB, "open ledger failed", zap.Error(err))
		log.Fatalf("ingest: open ledger: %v", err)
	}

	thresholds := quotestore.BatchThresholds{
		Small: cfg.LoteSmall, Medium: cfg.LoteMedium, Large: cfg.LoteLarge, MaxBytes: cfg.LoteMaxBytes,
	}
	store, err := quotestore.Open(db, thresholds)
	if err != nil {
		logger.Error(applog.DB, "open quote store failed", zap.Error(err))
		log.Fatalf("ingest: open quote store: %v", err)
	}

	oracle := calendar.WeekdayOracle{}

	var opts []ingest.Option
	if *workers > 0 {
		opts = append(opts, ingest.WithWorkers(*workers))
	}
	ingestor := ingest.New(fileLedger, store, oracle, logger, opts...)

	results, err := ingestor.ProcessAll(context.Background(), paths)
	if err != nil {
		logger.Error(applog.Ingest, "process_all failed", zap.Error(err))
		log.Fatalf("ingest: process_all: %v", err)
	}

	for _, r := range results {
		fmt.Printf("%-32s verdict=%-9s inserted=%-7d malformed=%d skipped=%v\n",
			r.Archive.Name, r.Verdict.String(), r.RowsInserted, r.Malformed, r.Skipped)
	}

	// Non-zero exit only when every attempted archive failed; a partial
	// success still exits zero.
	if len(paths) > 0 && len(results) == 0 {
		logger.Error(applog.Ingest, "all archives failed, none processed successfully")
		os.Exit(1)
	}
}
