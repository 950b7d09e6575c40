// Package domain holds the core types shared by every phase of the engine.
// The domain layer is pure: no infrastructure dependencies, no IO.
package domain

import "time"

// CandidateSource identifies which phase 0 scanner surfaced a candidate.
type CandidateSource string

const (
	SourceWatchlist    CandidateSource = "watchlist"
	SourceVolumeSpike  CandidateSource = "volume_spike"
	SourceGap          CandidateSource = "gap"
	SourceNewsCatalyst CandidateSource = "news_catalyst"
)

// Tier classifies a candidate by market capitalization.
type Tier string

const (
	TierLarge   Tier = "tier1_large"
	TierMid     Tier = "tier2_mid"
	TierUnknown Tier = "unknown"
)

// Candidate is a ticker surfaced by the phase 0 buzz factory.
// Candidates live in memory only; they are either dropped by the filters
// or handed to the screener.
type Candidate struct {
	Symbol     string
	Source     CandidateSource
	BuzzScore  float64
	Reason     string
	DetectedAt time.Time
	Tier       Tier
	MarketCap  float64
	News       string // optional embedded news text for prompt construction
}

// Direction is the trade direction suggested by the AI layers.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRO"
)

// ScreenerResult is the phase 1 cheap-AI triage output for one candidate.
type ScreenerResult struct {
	Symbol     string    `json:"symbol"`
	Score      float64   `json:"score"` // 0-10
	Summary    string    `json:"summary"`
	Bias       Direction `json:"bias"`
	Confidence float64   `json:"confidence"` // 0-1
	Passed     bool      `json:"passed"`
	Timestamp  time.Time `json:"timestamp"`
}

// RiskMetrics are the quantitative measures computed in phase 2 and
// consumed by phases 2 through 4.
type RiskMetrics struct {
	Symbol      string  `json:"symbol"`
	Beta        float64 `json:"beta"`
	Vol20d      float64 `json:"vol_20d"` // annualized, percent
	Vol60d      float64 `json:"vol_60d"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	VaR95       float64 `json:"var_95"`  // percent
	CVaR95      float64 `json:"cvar_95"` // percent
}

// Verdict is the judge's adjudication of a candidate.
type Verdict string

const (
	VerdictApprove Verdict = "APROVAR"
	VerdictReject  Verdict = "REJEITAR"
	VerdictWait    Verdict = "AGUARDAR"
)

// SizeHint scales the base position size. Unknown hints map to NORMAL.
type SizeHint string

const (
	SizeNormal  SizeHint = "NORMAL"
	SizeReduced SizeHint = "REDUZIDO"
	SizeMinimum SizeHint = "MÍNIMO"
)

// Multiplier returns the sizing multiplier for the hint.
func (h SizeHint) Multiplier() float64 {
	switch h {
	case SizeReduced:
		return 0.5
	case SizeMinimum:
		return 0.25
	default:
		return 1.0
	}
}

// TradeDecision is the phase 3 output. Approved decisions must satisfy the
// business rules (score, risk/reward, stop side); violations are coerced to
// REJEITAR at parse time, never surfaced as errors.
type TradeDecision struct {
	Symbol        string    `json:"symbol"`
	Verdict       Verdict   `json:"verdict"`
	FinalScore    float64   `json:"final_score"`
	Direction     Direction `json:"direction"`
	Entry         float64   `json:"entry"`
	Stop          float64   `json:"stop"`
	TP1           float64   `json:"tp1"`
	TP2           float64   `json:"tp2"`
	RiskReward    float64   `json:"risk_reward"`
	SizeHint      SizeHint  `json:"size_hint"`
	Justification string    `json:"justification"`
	Alerts        []string  `json:"alerts"`
	ValidityHours float64   `json:"validity_hours"`
	Timestamp     time.Time `json:"timestamp"`
}

// Approved reports whether the decision is an approval.
func (d *TradeDecision) Approved() bool {
	return d.Verdict == VerdictApprove
}

// PositionSize is the phase 4 sizing result for one approved decision.
type PositionSize struct {
	Symbol        string   `json:"symbol"`
	Shares        int      `json:"shares"`
	PositionValue float64  `json:"position_value"`
	RiskAmount    float64  `json:"risk_amount"`
	RiskPercent   float64  `json:"risk_percent"`
	Multipliers   []string `json:"multipliers"` // applied multipliers, for the audit trail
	Reason        string   `json:"reason"`
}

// Position is an open position tracked by the state core and supervised
// by the guardian.
type Position struct {
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      int       `json:"quantity"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	BackupStop    float64   `json:"backup_stop"` // locally tracked fail-safe stop
	EntryTime     time.Time `json:"entry_time"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Sector        string    `json:"sector"`
}

// MarketValue returns the position's current market value, falling back to
// the entry price when no current price has been observed yet.
func (p *Position) MarketValue() float64 {
	price := p.CurrentPrice
	if price == 0 {
		price = p.EntryPrice
	}
	return price * float64(p.Quantity)
}

// PnL computes realized profit for an exit at the given price.
func (p *Position) PnL(exitPrice float64) float64 {
	if p.Direction == DirectionShort {
		return (p.EntryPrice - exitPrice) * float64(p.Quantity)
	}
	return (exitPrice - p.EntryPrice) * float64(p.Quantity)
}

// DailyStats tracks the engine's performance within one trading session.
type DailyStats struct {
	Date            string  `json:"date"` // YYYY-MM-DD
	StartingCapital float64 `json:"starting_capital"`
	CurrentCapital  float64 `json:"current_capital"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	TradesCount     int     `json:"trades_count"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
}

// SystemState is the engine lifecycle state.
type SystemState string

const (
	StateRunning     SystemState = "RUNNING"
	StatePaused      SystemState = "PAUSED"
	StateKilled      SystemState = "KILLED"
	StateMaintenance SystemState = "MAINTENANCE"
)

// CapitalSnapshot is one entry of the bounded capital-history ring.
type CapitalSnapshot struct {
	Date          string  `json:"date"`
	Capital       float64 `json:"capital"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PoisonPillEventType classifies an overnight corporate or regulatory event.
type PoisonPillEventType string

const (
	EventMA         PoisonPillEventType = "M&A"
	EventTender     PoisonPillEventType = "tender"
	EventEarnings   PoisonPillEventType = "earnings"
	EventFDA        PoisonPillEventType = "fda"
	EventSEC        PoisonPillEventType = "sec"
	EventBankruptcy PoisonPillEventType = "bankruptcy"
	EventContract   PoisonPillEventType = "contract"
	EventInsider    PoisonPillEventType = "insider"
	EventGapUp      PoisonPillEventType = "gap_up"
	EventGapDown    PoisonPillEventType = "gap_down"
)

// Impact qualifies the expected direction of an event's effect.
type Impact string

const (
	ImpactPositive  Impact = "positive"
	ImpactNegative  Impact = "negative"
	ImpactUncertain Impact = "uncertain"
)

// Magnitude qualifies the expected size of an event's effect.
type Magnitude string

const (
	MagnitudeLow     Magnitude = "low"
	MagnitudeMedium  Magnitude = "medium"
	MagnitudeHigh    Magnitude = "high"
	MagnitudeExtreme Magnitude = "extreme"
)

// RecommendedAction is the poison-pill scanner's suggested response.
type RecommendedAction string

const (
	ActionHold   RecommendedAction = "HOLD"
	ActionReview RecommendedAction = "REVIEW"
	ActionReduce RecommendedAction = "REDUCE"
	ActionExit   RecommendedAction = "EXIT"
)

// PoisonPillEvent is a corporate or regulatory event flagged by the
// overnight scanner.
type PoisonPillEvent struct {
	Symbol            string              `json:"symbol"`
	EventType         PoisonPillEventType `json:"event_type"`
	Headline          string              `json:"headline"`
	Impact            Impact              `json:"impact"`
	Magnitude         Magnitude           `json:"magnitude"`
	RecommendedAction RecommendedAction   `json:"recommended_action"`
	Source            string              `json:"source"`
	Timestamp         time.Time           `json:"timestamp"`
}

// Critical reports whether the event warrants immediate attention.
func (e *PoisonPillEvent) Critical() bool {
	return e.Magnitude == MagnitudeHigh || e.Magnitude == MagnitudeExtreme
}
