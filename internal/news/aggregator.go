package news

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type cacheEntry struct {
	articles  []Article
	fetchedAt time.Time
}

// Aggregator fronts the primary and fallback sources with a per-query
// in-memory cache. Every primary call spends one quota unit; when the
// quota is exhausted the aggregator degrades to the fallback without
// surfacing an error.
type Aggregator struct {
	primary  Source
	fallback Source
	quota    *QuotaCounter
	cacheTTL time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewAggregator wires the aggregator. primary may be nil when no API
// key is configured; the fallback then serves everything.
func NewAggregator(primary, fallback Source, quota *QuotaCounter, cacheTTL time.Duration, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		primary:  primary,
		fallback: fallback,
		quota:    quota,
		cacheTTL: cacheTTL,
		log:      log.With().Str("component", "news").Logger(),
		cache:    make(map[string]cacheEntry),
	}
}

// SymbolNews returns recent headlines for one ticker.
func (a *Aggregator) SymbolNews(ctx context.Context, symbol string, max int) ([]Article, error) {
	return a.search(ctx, symbol+" stock", max)
}

// MarketHeadlines returns broad-market headlines used by the catalyst
// scan.
func (a *Aggregator) MarketHeadlines(ctx context.Context, max int) ([]Article, error) {
	return a.search(ctx, "stock market", max)
}

// QuotaRemaining reports the unused primary allowance for today, or -1
// when no metered primary is configured.
func (a *Aggregator) QuotaRemaining() int {
	if a.quota == nil {
		return -1
	}
	return a.quota.Remaining()
}

func (a *Aggregator) search(ctx context.Context, query string, max int) ([]Article, error) {
	key := strings.ToLower(query)

	a.mu.Lock()
	entry, ok := a.cache[key]
	a.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < a.cacheTTL {
		return entry.articles, nil
	}

	articles, err := a.fetch(ctx, query, max)
	if err != nil {
		// A stale entry beats no entry during an outage
		if ok {
			a.log.Warn().Err(err).Str("query", query).Msg("News fetch failed, serving stale cache")
			return entry.articles, nil
		}
		return nil, err
	}

	a.mu.Lock()
	a.cache[key] = cacheEntry{articles: articles, fetchedAt: time.Now()}
	a.mu.Unlock()

	return articles, nil
}

func (a *Aggregator) fetch(ctx context.Context, query string, max int) ([]Article, error) {
	if a.primary != nil && (a.quota == nil || a.quota.TrySpend()) {
		articles, err := a.primary.Search(ctx, query, max)
		if err == nil {
			return articles, nil
		}
		a.log.Warn().Err(err).
			Str("source", a.primary.Name()).
			Str("query", query).
			Msg("Primary news source failed, trying fallback")
	}

	if a.fallback == nil {
		return nil, fmt.Errorf("no news source available for query %q", query)
	}

	articles, err := a.fallback.Search(ctx, query, max)
	if err != nil {
		return nil, fmt.Errorf("fallback news source failed: %w", err)
	}
	return articles, nil
}
