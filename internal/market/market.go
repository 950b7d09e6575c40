// Package market defines the abstract market-data edge: quotes, OHLCV
// history, liquidity checks and the corporate earnings calendar. Concrete
// adapters live under internal/clients.
package market

import (
	"context"
	"time"
)

// Quote is a point-in-time snapshot for one symbol.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	AvgVolume     float64 `json:"avg_volume"`
	MarketCap     float64 `json:"market_cap"`
	ChangePct     float64 `json:"change_pct"`
	PreviousClose float64 `json:"previous_close"`
	Beta          float64 `json:"beta"`
	Sector        string  `json:"sector"`
	Industry      string  `json:"industry"`
}

// OHLCV is a daily (or intraday) bar series, oldest first. The parallel
// slices always have equal length.
type OHLCV struct {
	Symbol  string
	Dates   []time.Time
	Opens   []float64
	Highs   []float64
	Lows    []float64
	Closes  []float64
	Volumes []float64
}

// Len returns the number of bars.
func (o *OHLCV) Len() int {
	if o == nil {
		return 0
	}
	return len(o.Closes)
}

// Data is the market adapter used by every phase.
type Data interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetOHLCV(ctx context.Context, symbol, period, interval string) (*OHLCV, error)
	CheckLiquidity(ctx context.Context, symbol string) (bool, error)
}

// EarningsCalendar answers proximity queries against the corporate
// calendar. Implementations are fail-open: lookup failures report false.
type EarningsCalendar interface {
	EarningsWithin(ctx context.Context, symbol string, days int) (bool, error)
}
