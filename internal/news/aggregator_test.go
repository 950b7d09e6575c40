package news

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name     string
	articles []Article
	err      error
	calls    int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(_ context.Context, _ string, _ int) ([]Article, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.articles, nil
}

func headline(title string) []Article {
	return []Article{{Title: title, Source: "test", PublishedAt: time.Now()}}
}

func newQuota(t *testing.T, limit int) *QuotaCounter {
	t.Helper()
	q, err := NewQuotaCounter(filepath.Join(t.TempDir(), "quota.json"), limit)
	require.NoError(t, err)
	return q
}

func TestAggregatorPrefersPrimary(t *testing.T) {
	primary := &fakeSource{name: "primary", articles: headline("from primary")}
	fallback := &fakeSource{name: "fallback", articles: headline("from fallback")}
	agg := NewAggregator(primary, fallback, newQuota(t, 10), time.Hour, zerolog.Nop())

	articles, err := agg.SymbolNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	assert.Equal(t, "from primary", articles[0].Title)
	assert.Equal(t, 0, fallback.calls)
}

func TestAggregatorFallsBackWhenQuotaExhausted(t *testing.T) {
	primary := &fakeSource{name: "primary", articles: headline("from primary")}
	fallback := &fakeSource{name: "fallback", articles: headline("from fallback")}
	agg := NewAggregator(primary, fallback, newQuota(t, 1), time.Hour, zerolog.Nop())

	_, err := agg.SymbolNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)

	articles, err := agg.SymbolNews(context.Background(), "TSLA", 5)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", articles[0].Title)
	assert.Equal(t, 1, primary.calls)
}

func TestAggregatorFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeSource{name: "primary", err: fmt.Errorf("rate limited")}
	fallback := &fakeSource{name: "fallback", articles: headline("from fallback")}
	agg := NewAggregator(primary, fallback, newQuota(t, 10), time.Hour, zerolog.Nop())

	articles, err := agg.SymbolNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", articles[0].Title)
}

func TestAggregatorCachesPerQuery(t *testing.T) {
	primary := &fakeSource{name: "primary", articles: headline("cached")}
	agg := NewAggregator(primary, nil, newQuota(t, 10), time.Hour, zerolog.Nop())

	_, err := agg.SymbolNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	_, err = agg.SymbolNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)

	// A different symbol is a different cache key
	_, err = agg.SymbolNews(context.Background(), "TSLA", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
}

func TestAggregatorServesStaleOnOutage(t *testing.T) {
	primary := &fakeSource{name: "primary", articles: headline("first")}
	agg := NewAggregator(primary, nil, newQuota(t, 10), time.Nanosecond, zerolog.Nop())

	_, err := agg.SymbolNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)

	primary.err = fmt.Errorf("down")
	time.Sleep(time.Millisecond)

	articles, err := agg.SymbolNews(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	assert.Equal(t, "first", articles[0].Title)
}

func TestQuotaCounterPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.json")

	q, err := NewQuotaCounter(path, 3)
	require.NoError(t, err)
	assert.True(t, q.TrySpend())
	assert.True(t, q.TrySpend())

	q2, err := NewQuotaCounter(path, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, q2.Remaining())
	assert.True(t, q2.TrySpend())
	assert.False(t, q2.TrySpend())
}
