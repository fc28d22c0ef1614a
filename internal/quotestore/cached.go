package quotestore

import (
	"context"
	"fmt"

	"fiidata/internal/cache"
	"fiidata/internal/quote"
)

// Cache namespaces owned by QuoteStore (spec §4.4's invalidation list).
const (
	NamespaceLatestDate  = "latest_date"
	NamespaceStats       = "stats"
	NamespaceListTickers = "list_tickers"
)

// Cached wraps Store with the read-side cache decorator spec §9
// describes ("decorator-based caching ... maps to explicit wrapper
// functions around store operations"). Mutating calls invalidate their
// owning namespaces inside the same call that performs the mutation, so
// readers never observe a new value behind a stale cache entry.
type Cached struct {
	*Store
	cache *cache.Cache
}

// NewCached wraps store with c.
func NewCached(store *Store, c *cache.Cache) *Cached {
	return &Cached{Store: store, cache: c}
}

// BulkInsert delegates then invalidates the three read-side namespaces
// within the same call (spec invariant 5 depends on this ordering).
func (c *Cached) BulkInsert(ctx context.Context, records []quote.Quote) (int64, error) {
	n, err := c.Store.BulkInsert(ctx, records)
	c.invalidateReadNamespaces()
	return n, err
}

// DeleteRange delegates then invalidates, same contract as BulkInsert.
func (c *Cached) DeleteRange(ctx context.Context, from, to string) (int64, error) {
	n, err := c.Store.DeleteRange(ctx, from, to)
	c.invalidateReadNamespaces()
	return n, err
}

func (c *Cached) invalidateReadNamespaces() {
	c.cache.Invalidate(NamespaceLatestDate)
	c.cache.Invalidate(NamespaceStats)
	c.cache.Invalidate(NamespaceListTickers)
}

// LatestDate is cache-wrapped: check cache, populate on miss.
func (c *Cached) LatestDate(ctx context.Context) (string, error) {
	const key = "latest_date"
	if v, ok := c.cache.Get(NamespaceLatestDate, key); ok {
		return v.(string), nil
	}
	d, err := c.Store.LatestDate(ctx)
	if err != nil {
		return "", err
	}
	c.cache.Put(NamespaceLatestDate, key, d)
	return d, nil
}

// Stats is cache-wrapped.
func (c *Cached) Stats(ctx context.Context) (quote.Stats, error) {
	const key = "stats"
	if v, ok := c.cache.Get(NamespaceStats, key); ok {
		return v.(quote.Stats), nil
	}
	st, err := c.Store.Stats(ctx)
	if err != nil {
		return quote.Stats{}, fmt.Errorf("cached stats: %w", err)
	}
	c.cache.Put(NamespaceStats, key, st)
	return st, nil
}

// ListTickers is cache-wrapped.
func (c *Cached) ListTickers(ctx context.Context) ([]string, error) {
	const key = "list_tickers"
	if v, ok := c.cache.Get(NamespaceListTickers, key); ok {
		return v.([]string), nil
	}
	tickers, err := c.Store.ListTickers(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Put(NamespaceListTickers, key, tickers)
	return tickers, nil
}
