package domain

import "time"

// Severity ranks alerts for routing and display.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityWarning   Severity = "WARNING"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// AlertKind discriminates the alert variants carried on the fan-out channel.
type AlertKind string

const (
	AlertKindPrice      AlertKind = "price"
	AlertKindNews       AlertKind = "news"
	AlertKindPoisonPill AlertKind = "poison_pill"
)

// Alert is the envelope delivered to every registered handler. Exactly one
// of Price, News, PoisonPill is set, matching Kind.
type Alert struct {
	ID         string           `json:"id"`
	Kind       AlertKind        `json:"kind"`
	Severity   Severity         `json:"severity"`
	Symbol     string           `json:"symbol"`
	Message    string           `json:"message"`
	Timestamp  time.Time        `json:"timestamp"`
	Price      *PriceAlert      `json:"price,omitempty"`
	News       *NewsAlert       `json:"news,omitempty"`
	PoisonPill *PoisonPillEvent `json:"poison_pill,omitempty"`
}

// PriceAlert is emitted by the watchdog on flash moves and stop/TP crossings.
type PriceAlert struct {
	CurrentPrice float64 `json:"current_price"`
	ChangePct    float64 `json:"change_pct"`
	WindowSecs   int     `json:"window_secs"`
	MarketWide   bool    `json:"market_wide"` // VIX/SPY confirmed a market-wide move
	Trigger      string  `json:"trigger"`     // flash_crash, flash_spike, stop_violation, tp_reached
}

// NewsImpact classifies a headline's expected effect on an open position.
type NewsImpact string

const (
	NewsImpactPositive NewsImpact = "positive"
	NewsImpactNeutral  NewsImpact = "neutral"
	NewsImpactNegative NewsImpact = "negative"
	NewsImpactCritical NewsImpact = "critical"
)

// NewsAction is the sentinel's suggested response to a classified headline.
type NewsAction string

const (
	NewsActionHold         NewsAction = "HOLD"
	NewsActionMonitor      NewsAction = "MONITOR"
	NewsActionConsiderExit NewsAction = "CONSIDER_EXIT"
	NewsActionExitNow      NewsAction = "EXIT_NOW"
)

// NewsAlert is emitted by the sentinel when a novel headline classifies as
// negative or critical for an open position.
type NewsAlert struct {
	Headline   string     `json:"headline"`
	Summary    string     `json:"summary"`
	Impact     NewsImpact `json:"impact"`
	Action     NewsAction `json:"action"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
}

// ExitAssessment is the judge's verdict on whether critical news
// warrants closing a held position.
type ExitAssessment struct {
	Impact         NewsImpact `json:"impact"`
	Recommendation NewsAction `json:"recommendation"`
	Justification  string     `json:"justification"`
}

// AlertHandler receives fan-out alerts. Handlers must not block the guardian
// loops; slow consumers are invoked on their own goroutine and errors are
// swallowed and logged by the dispatcher.
type AlertHandler func(Alert)
