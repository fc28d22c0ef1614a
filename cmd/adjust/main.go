// Command adjust builds a back-adjusted time series for one
// TickerSeriesSpec, printing it as JSON — the CLI-accessible shape of
// spec §4.7's AdjustmentEngine.BuildSeries for ad hoc use outside the
// ExportAPI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"

	"fiidata/internal/adjustment"
	"fiidata/internal/appconfig"
	"fiidata/internal/eventstore"
	"fiidata/internal/quote"
	"fiidata/internal/quotestore"
	"fiidata/internal/sqlitedb"
)

func main() {
	dbPath := flag.String("db", "./fiidata.db", "path to the sqlite database")
	series := flag.String("series", "", "comma-separated rename chain, e.g. OLD11,NEW11")
	flag.Parse()

	if *series == "" {
		log.Fatalf("adjust: -series is required")
	}
	var spec quote.TickerSeriesSpec
	for _, t := range strings.Split(*series, ",") {
		t = strings.TrimSpace(strings.ToUpper(t))
		if t != "" {
			spec = append(spec, t)
		}
	}

	cfg := appconfig.Load(appconfig.EnvProvider{})
	db, err := sqlitedb.Open(*dbPath, cfg.DBTimeoutSec)
	if err != nil {
		log.Fatalf("adjust: open database: %v", err)
	}
	defer db.Close()

	thresholds := quotestore.BatchThresholds{
		Small: cfg.LoteSmall, Medium: cfg.LoteMedium, Large: cfg.LoteLarge, MaxBytes: cfg.LoteMaxBytes,
	}
	quotes, err := quotestore.Open(db, thresholds)
	if err != nil {
		log.Fatalf("adjust: open quote store: %v", err)
	}
	actions, err := eventstore.Open(db)
	if err != nil {
		log.Fatalf("adjust: open event store: %v", err)
	}

	engine := adjustment.New(quotes, actions)
	rows, err := engine.BuildSeries(context.Background(), spec)
	if err != nil {
		log.Fatalf("adjust: build_series: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		log.Fatalf("adjust: encode output: %v", err)
	}
}
