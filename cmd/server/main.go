// Command server runs the ExportAPI's read-only HTTP surface (spec
// §4.9), wiring its singletons: one Config, one logger, one Cache,
// threaded through constructors. Modeled
// on the teacher's cmd/server/main.go gin setup and graceful shutdown,
// minus the gRPC/Arrow bridge that has no analogue in this domain.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fiidata/internal/adjustment"
	"fiidata/internal/api"
	"fiidata/internal/appconfig"
	"fiidata/internal/applog"
	"fiidata/internal/cache"
	"fiidata/internal/eventstore"
	"fiidata/internal/quotestore"
	"fiidata/internal/sqlitedb"
)

func main() {
	dbPath := flag.String("db", "./fiidata.db", "path to the sqlite database")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger, err := applog.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := appconfig.Load(appconfig.EnvProvider{})

	db, err := sqlitedb.Open(*dbPath, cfg.DBTimeoutSec)
	if err != nil {
		logger.Error(applog.DB, "open database failed", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	thresholds := quotestore.BatchThresholds{
		Small: cfg.LoteSmall, Medium: cfg.LoteMedium, Large: cfg.LoteLarge, MaxBytes: cfg.LoteMaxBytes,
	}
	store, err := quotestore.Open(db, thresholds)
	if err != nil {
		logger.Error(applog.DB, "open quote store failed", zap.Error(err))
		os.Exit(1)
	}
	actions, err := eventstore.Open(db)
	if err != nil {
		logger.Error(applog.DB, "open event store failed", zap.Error(err))
		os.Exit(1)
	}

	c := cache.New(time.Duration(cfg.CacheTTLSec)*time.Second, cfg.CacheMaxSize)
	cachedStore := quotestore.NewCached(store, c)
	engine := adjustment.New(cachedStore, actions)

	srv := api.New(cachedStore, engine, c, logger)
	httpServer := &http.Server{Addr: *addr, Handler: srv.Router()}

	go func() {
		logger.Info(applog.DB, "starting http server", zap.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(applog.DB, "http server stopped unexpectedly", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(applog.DB, "shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(applog.DB, "graceful shutdown failed", zap.Error(err))
	}
}
