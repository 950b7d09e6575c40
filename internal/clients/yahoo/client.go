// Package yahoo implements the market-data adapter against the Yahoo
// Finance JSON APIs (quote, chart and quoteSummary endpoints).
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/vigil/internal/market"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// earningsCacheTTL bounds how long a calendar lookup is reused.
const earningsCacheTTL = 24 * time.Hour

type earningsEntry struct {
	dates     []time.Time
	fetchedAt time.Time
}

// Client is a Yahoo Finance market-data client. All requests share a
// token-bucket limiter so burst scans do not trip upstream throttling.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
	log     zerolog.Logger

	minAvgVolume    float64
	minDollarVolume float64

	mu       sync.Mutex
	earnings map[string]earningsEntry
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API host, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient creates a Yahoo Finance client. minAvgVolume and
// minDollarVolume are the liquidity floors applied by CheckLiquidity.
func NewClient(log zerolog.Logger, minAvgVolume, minDollarVolume float64, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:         rate.NewLimiter(rate.Every(500*time.Millisecond), 4),
		baseURL:         "https://query1.finance.yahoo.com",
		log:             log.With().Str("client", "yahoo").Logger(),
		minAvgVolume:    minAvgVolume,
		minDollarVolume: minDollarVolume,
		earnings:        make(map[string]earningsEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []map[string]interface{} `json:"result"`
		Error  interface{}              `json:"error"`
	} `json:"quoteResponse"`
}

// GetQuote fetches a point-in-time snapshot for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*market.Quote, error) {
	info, err := c.getQuoteInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote info: %w", err)
	}

	price := getFloat64OrZero(info, "regularMarketPrice")
	if price <= 0 {
		return nil, fmt.Errorf("no valid price for %s", symbol)
	}

	beta := getFloat64OrZero(info, "beta")
	if beta == 0 {
		beta = 1.0
	}

	return &market.Quote{
		Symbol:        symbol,
		Price:         price,
		Open:          getFloat64OrZero(info, "regularMarketOpen"),
		High:          getFloat64OrZero(info, "regularMarketDayHigh"),
		Low:           getFloat64OrZero(info, "regularMarketDayLow"),
		Close:         price,
		Volume:        getFloat64OrZero(info, "regularMarketVolume"),
		AvgVolume:     getFloat64OrZero(info, "averageDailyVolume3Month"),
		MarketCap:     getFloat64OrZero(info, "marketCap"),
		ChangePct:     getFloat64OrZero(info, "regularMarketChangePercent"),
		PreviousClose: getFloat64OrZero(info, "regularMarketPreviousClose"),
		Beta:          beta,
		Sector:        getString(info, "sector", ""),
		Industry:      getString(info, "industry", ""),
	}, nil
}

// CheckLiquidity reports whether the symbol clears both the average
// share-volume floor and the dollar-volume floor.
func (c *Client) CheckLiquidity(ctx context.Context, symbol string) (bool, error) {
	q, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return false, err
	}
	if q.AvgVolume < c.minAvgVolume {
		return false, nil
	}
	if q.AvgVolume*q.Price < c.minDollarVolume {
		return false, nil
	}
	return true, nil
}

// GetOHLCV fetches a bar series via the chart API. period follows Yahoo
// range syntax (1d, 5d, 1mo, 3mo, 6mo, 1y...) and interval the bar size
// (1m, 5m, 1d...). Null bars are dropped.
func (c *Client) GetOHLCV(ctx context.Context, symbol, period, interval string) (*market.OHLCV, error) {
	params := url.Values{}
	params.Add("range", period)
	params.Add("interval", interval)

	body, err := c.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart data: %w", err)
	}

	var result struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []float64 `json:"open"`
						High   []float64 `json:"high"`
						Low    []float64 `json:"low"`
						Close  []float64 `json:"close"`
						Volume []float64 `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"chart"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse chart response: %w", err)
	}
	if result.Chart.Error != nil {
		return nil, fmt.Errorf("chart API error: %v", result.Chart.Error)
	}
	if len(result.Chart.Result) == 0 || len(result.Chart.Result[0].Indicators.Quote) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("No chart data returned")
		return &market.OHLCV{Symbol: symbol}, nil
	}

	chart := result.Chart.Result[0]
	quote := chart.Indicators.Quote[0]

	out := &market.OHLCV{Symbol: symbol}
	for i := range chart.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			continue
		}
		// Yahoo returns zeroed bars for halted sessions
		if quote.Open[i] == 0 && quote.High[i] == 0 && quote.Low[i] == 0 && quote.Close[i] == 0 {
			continue
		}
		vol := 0.0
		if i < len(quote.Volume) {
			vol = quote.Volume[i]
		}
		out.Dates = append(out.Dates, time.Unix(chart.Timestamp[i], 0))
		out.Opens = append(out.Opens, quote.Open[i])
		out.Highs = append(out.Highs, quote.High[i])
		out.Lows = append(out.Lows, quote.Low[i])
		out.Closes = append(out.Closes, quote.Close[i])
		out.Volumes = append(out.Volumes, vol)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("period", period).
		Int("bars", out.Len()).
		Msg("Fetched OHLCV")

	return out, nil
}

// EarningsWithin reports whether the symbol has an earnings date inside
// the next `days` days. Calendar lookups are cached for 24h and the
// check fails open: a fetch error reports false so a calendar outage
// never blocks the pipeline by itself.
func (c *Client) EarningsWithin(ctx context.Context, symbol string, days int) (bool, error) {
	dates, err := c.earningsDates(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Earnings lookup failed, failing open")
		return false, nil
	}

	now := time.Now()
	horizon := now.AddDate(0, 0, days)
	for _, d := range dates {
		if d.After(now.Add(-24*time.Hour)) && d.Before(horizon) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) earningsDates(ctx context.Context, symbol string) ([]time.Time, error) {
	c.mu.Lock()
	entry, ok := c.earnings[symbol]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < earningsCacheTTL {
		return entry.dates, nil
	}

	params := url.Values{}
	params.Add("modules", "calendarEvents")

	body, err := c.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params)
	if err != nil {
		return nil, err
	}

	var result struct {
		QuoteSummary struct {
			Result []struct {
				CalendarEvents struct {
					Earnings struct {
						EarningsDate []struct {
							Raw int64 `json:"raw"`
						} `json:"earningsDate"`
					} `json:"earnings"`
				} `json:"calendarEvents"`
			} `json:"result"`
			Error interface{} `json:"error"`
		} `json:"quoteSummary"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse calendar response: %w", err)
	}
	if result.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("quoteSummary API error: %v", result.QuoteSummary.Error)
	}

	var dates []time.Time
	if len(result.QuoteSummary.Result) > 0 {
		for _, d := range result.QuoteSummary.Result[0].CalendarEvents.Earnings.EarningsDate {
			if d.Raw > 0 {
				dates = append(dates, time.Unix(d.Raw, 0))
			}
		}
	}

	c.mu.Lock()
	c.earnings[symbol] = earningsEntry{dates: dates, fetchedAt: time.Now()}
	c.mu.Unlock()

	return dates, nil
}

func (c *Client) getQuoteInfo(ctx context.Context, symbol string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Add("symbols", symbol)
	params.Add("fields", "symbol,regularMarketPrice,regularMarketOpen,regularMarketDayHigh,"+
		"regularMarketDayLow,regularMarketVolume,averageDailyVolume3Month,marketCap,"+
		"regularMarketChangePercent,regularMarketPreviousClose,beta,sector,industry")

	body, err := c.get(ctx, "/v7/finance/quote", params)
	if err != nil {
		return nil, err
	}

	var result quoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}
	if result.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("quote API error: %v", result.QuoteResponse.Error)
	}
	if len(result.QuoteResponse.Result) == 0 {
		return nil, fmt.Errorf("no quote data returned for symbol %s", symbol)
	}

	return result.QuoteResponse.Result[0], nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo API returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func getFloat64OrZero(m map[string]interface{}, key string) float64 {
	if val, ok := m[key]; ok && val != nil {
		switch v := val.(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
	}
	return 0
}

func getString(m map[string]interface{}, key, defaultVal string) string {
	if val, ok := m[key]; ok && val != nil {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}
