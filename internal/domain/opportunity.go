package domain

import "time"

// Opportunity is a detected Dutch book: both asks together cost less than the
// guaranteed $1.00 payout. Value object; created by the detector, consumed by
// the risk manager and executor, never persisted beyond the decision path.
type Opportunity struct {
	ID           string
	MarketID     string
	YesTokenID   string
	NoTokenID    string
	YesAsk       float64
	NoAsk        float64
	YesAskSize   float64
	NoAskSize    float64
	CombinedCost float64 // YesAsk + NoAsk
	ProfitFrac   float64 // (1 - CombinedCost) / CombinedCost
	DetectedAt   time.Time
}

// RejectReason is a stable code for why the risk manager declined an
// opportunity. Codes are surfaced in logs, notifications, and the audit log.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectBreakerPaused    RejectReason = "breaker_paused"
	RejectSessionDrawdown  RejectReason = "session_drawdown"
	RejectDailyDrawdown    RejectReason = "daily_drawdown"
	RejectMonthlyDrawdown  RejectReason = "monthly_drawdown"
	RejectVolatilityKill   RejectReason = "volatility_kill"
	RejectTimeToResolution RejectReason = "time_to_resolution"
	RejectLowVolume        RejectReason = "volume_60s"
	RejectZScore           RejectReason = "zscore_3min"
	RejectRSIOverbought    RejectReason = "rsi_overbought"
	RejectMarketBusy       RejectReason = "market_in_flight"
	RejectSizeTooSmall     RejectReason = "size_below_minimum"
	RejectExposureCap      RejectReason = "exposure_reserved"
)

// RiskDecision is the risk manager's verdict on a single opportunity.
// Approved decisions carry a USD size and per-leg share count and imply that
// the market and exposure reservations have been taken; the executor must
// settle them through RecordOutcome.
type RiskDecision struct {
	Opportunity Opportunity
	Approved    bool
	SizeUSD     float64 // total cost across both legs at detection prices
	Shares      float64 // identical share count per leg
	Reason      RejectReason
	Detail      string // human-readable explanation
	DecidedAt   time.Time
}
