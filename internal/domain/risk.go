package domain

import "time"

// BreakerTrip identifies which circuit breaker condition is active.
type BreakerTrip string

const (
	TripNone              BreakerTrip = ""
	TripConsecutiveLosses BreakerTrip = "consecutive_losses"
	TripSessionDrawdown   BreakerTrip = "session_drawdown"
	TripDailyDrawdown     BreakerTrip = "daily_drawdown"
	TripMonthlyDrawdown   BreakerTrip = "monthly_drawdown"
	TripVolatility        BreakerTrip = "volatility_kill"
)

// RiskState is a read-only snapshot of the risk manager's counters, taken
// under its lock. Used for logging, notifications, and the audit trail.
type RiskState struct {
	Balance             float64
	ConsecutiveLosses   int
	SessionPnL          float64
	DailyPnL            float64
	MonthlyPnL          float64
	SessionStartBalance float64
	DailyStartBalance   float64
	MonthlyStartBalance float64
	ReservedUSD         float64
	InFlightMarkets     int
	Trip                BreakerTrip
	PausedUntil         time.Time // zero when not paused
	TakenAt             time.Time
}

// Paused reports whether new approvals are blocked at time now.
func (s RiskState) Paused(now time.Time) bool {
	if s.Trip == TripMonthlyDrawdown {
		return true // requires manual re-arm
	}
	return !s.PausedUntil.IsZero() && now.Before(s.PausedUntil)
}

// MarketStats are the rolling per-market statistics feeding the optional
// pre-trade filters. Fields are zero/NaN-free: a filter whose input is not
// yet available (Samples too low) is skipped, not failed.
type MarketStats struct {
	Std1Min     float64 // 1-minute standard deviation of mid price
	ZScore3Min  float64 // distance from 3-minute mean in std devs
	RSI8        float64 // RSI over the last 8 price moves
	Volume60s   float64 // USD volume in the last 60 seconds
	Samples     int
	LastUpdated time.Time
}
