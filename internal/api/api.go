// Package api implements the ExportAPI component (spec §4.9): a thin
// read-only HTTP surface over the QuoteStore and AdjustmentEngine,
// wired with gin the way the teacher's cmd/server/main.go sets up its
// REST routes (a route group, gin.Recovery, gin.H JSON bodies)
// minus the gRPC/Arrow bridge that has no analogue in this domain.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fiidata/internal/adjustment"
	"fiidata/internal/applog"
	"fiidata/internal/cache"
	"fiidata/internal/quote"
)

// QuoteReader is the read-side of QuoteStore the API depends on.
type QuoteReader interface {
	Stats(ctx context.Context) (quote.Stats, error)
	Query(ctx context.Context, ticker, from, to string) ([]quote.Quote, error)
}

// Server bundles the ExportAPI's collaborators and builds a gin.Engine.
type Server struct {
	quotes QuoteReader
	engine *adjustment.Engine
	cache  *cache.Cache
	logger applog.Logger
}

// New builds a Server over its collaborators.
func New(quotes QuoteReader, engine *adjustment.Engine, c *cache.Cache, logger applog.Logger) *Server {
	return &Server{quotes: quotes, engine: engine, cache: c, logger: logger}
}

// Router builds the gin.Engine exposing the four read-only routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/")
	{
		v1.GET("/stats", s.handleStats)
		v1.GET("/quotes", s.handleQuotes)
		v1.GET("/adjusted", s.handleAdjusted)
		v1.GET("/cache/stats", s.handleCacheStats)
	}
	return r
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.quotes.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error(applog.DB, "stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleQuotes(c *gin.Context) {
	ticker := c.Query("ticker")
	from := c.Query("from")
	to := c.Query("to")
	if ticker == "" || from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker, from, and to are required"})
		return
	}
	rows, err := s.quotes.Query(c.Request.Context(), strings.ToUpper(ticker), from, to)
	if err != nil {
		s.logger.Error(applog.DB, "quotes query failed", zap.Error(err), zap.String("ticker", ticker))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "from": from, "to": to, "rows": rows})
}

func (s *Server) handleAdjusted(c *gin.Context) {
	raw := c.Query("series")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "series is required, e.g. series=OLD11,NEW11"})
		return
	}
	var spec quote.TickerSeriesSpec
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(strings.ToUpper(t))
		if t != "" {
			spec = append(spec, t)
		}
	}
	if len(spec) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "series must name at least one ticker"})
		return
	}

	rows, err := s.engine.BuildSeries(c.Request.Context(), spec)
	if err != nil {
		s.logger.Error(applog.Ingest, "adjusted series build failed", zap.Error(err), zap.String("series", raw))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"series": spec, "rows": rows})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats())
}
