// Package risk gates detected opportunities through circuit breakers,
// pre-trade filters, and position sizing, and tracks account state across
// session, day, and month.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

// Params are the risk manager's tunables. Percent fields are whole percents
// (0.8 means 0.8%). Optional filters are disabled at zero.
type Params struct {
	RiskPerTradePct float64
	StopLossPct     float64
	PositionCapPct  float64
	MaxPositionUSD  float64

	ConsecutiveLossesPause int
	ConsecutiveLossPause   time.Duration
	SessionDrawdownPct     float64
	SessionPause           time.Duration
	DailyDrawdownPct       float64
	MonthlyDrawdownPct     float64

	MinSecondsUntilResolution float64
	VolatilitySkip1MinStd     float64
	MinVolume60sUSD           float64
	MaxZScore3Min             float64
	MaxRSIOverbought          float64

	MinShares   float64
	MinOrderUSD float64
}

// StatsProvider supplies rolling market statistics for the optional filters.
type StatsProvider interface {
	Stats(marketID string, now time.Time) (domain.MarketStats, bool)
}

// Manager owns the account counters, reservations, and breaker state. One
// mutex guards everything: Evaluate approves at most one opportunity at a
// time, so a reservation taken here is the per-market mutual exclusion the
// executor relies on.
type Manager struct {
	params Params
	stats  StatsProvider
	logger *slog.Logger

	// OnTrip, when set before use, is called outside the lock whenever a
	// breaker trips.
	OnTrip func(trip domain.BreakerTrip, state domain.RiskState)

	now func() time.Time // injectable clock

	mu                  sync.Mutex
	balance             float64
	consecutiveLosses   int
	sessionStartBalance float64
	dailyStartBalance   float64
	monthlyStartBalance float64
	dayAnchor           time.Time // UTC midnight of current day
	monthAnchor         time.Time // first of current month, UTC
	reserved            map[string]float64
	trip                domain.BreakerTrip
	pausedUntil         time.Time
}

// NewManager creates a Manager with the given starting balance.
func NewManager(params Params, startingBalance float64, stats StatsProvider, logger *slog.Logger) *Manager {
	m := &Manager{
		params:   params,
		stats:    stats,
		logger:   logger.With(slog.String("component", "risk")),
		now:      time.Now,
		balance:  startingBalance,
		reserved: make(map[string]float64),
	}
	now := m.now().UTC()
	m.sessionStartBalance = startingBalance
	m.dailyStartBalance = startingBalance
	m.monthlyStartBalance = startingBalance
	m.dayAnchor = now.Truncate(24 * time.Hour)
	m.monthAnchor = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return m
}

// Evaluate runs the full approval pipeline for one opportunity: breaker
// state, pre-trade filters in fixed order, then sizing. An approved decision
// has already taken the market reservation and exposure; the caller must
// settle it through RecordOutcome.
func (m *Manager) Evaluate(opp domain.Opportunity, market domain.Market) domain.RiskDecision {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollover(now)
	m.maybeResume(now)

	decision := domain.RiskDecision{Opportunity: opp, DecidedAt: now}

	if m.pausedLocked(now) {
		decision.Reason = rejectForTrip(m.trip)
		decision.Detail = fmt.Sprintf("paused until %s (%s)", m.pausedUntil.Format(time.RFC3339), m.trip)
		if m.trip == domain.TripMonthlyDrawdown {
			decision.Detail = "monthly drawdown breaker requires manual re-arm"
		}
		return decision
	}

	// The volatility kill is a breaker, not a filter. It is checked with the
	// pause state, ahead of the per-market eligibility checks.
	if reason, detail := m.volatilityKill(opp.MarketID, now); reason != domain.RejectNone {
		decision.Reason = reason
		decision.Detail = detail
		return decision
	}

	if secs := market.SecondsToResolution(now); secs < m.params.MinSecondsUntilResolution {
		decision.Reason = domain.RejectTimeToResolution
		decision.Detail = fmt.Sprintf("%.0fs to resolution, need %.0fs", secs, m.params.MinSecondsUntilResolution)
		return decision
	}

	if reason, detail := m.statsFilters(opp.MarketID, now); reason != domain.RejectNone {
		decision.Reason = reason
		decision.Detail = detail
		return decision
	}

	if _, busy := m.reserved[opp.MarketID]; busy {
		decision.Reason = domain.RejectMarketBusy
		return decision
	}

	shares, sizeUSD, reason, detail := m.size(opp)
	if reason != domain.RejectNone {
		decision.Reason = reason
		decision.Detail = detail
		return decision
	}

	m.reserved[opp.MarketID] = sizeUSD

	decision.Approved = true
	decision.Shares = shares
	decision.SizeUSD = sizeUSD
	return decision
}

// size computes the per-leg share count from the fixed-fractional model:
// risk budget over stop distance, with the final notional never exceeding
// the smallest of the risk budget, the position cap, and the absolute
// maximum, then bounded by the resting ask sizes and unreserved balance.
func (m *Manager) size(opp domain.Opportunity) (shares, sizeUSD float64, reason domain.RejectReason, detail string) {
	entry := opp.CombinedCost
	riskBudget := m.balance * m.params.RiskPerTradePct / 100
	stopDistance := entry * m.params.StopLossPct / 100
	if stopDistance <= 0 {
		return 0, 0, domain.RejectSizeTooSmall, "zero stop distance"
	}
	shares = riskBudget / stopDistance

	capUSD := math.Min(riskBudget, m.balance*m.params.PositionCapPct/100)
	if m.params.MaxPositionUSD > 0 {
		capUSD = math.Min(capUSD, m.params.MaxPositionUSD)
	}
	shares = math.Min(shares, capUSD/entry)

	// Never size beyond what is resting at the ask on the thinner side.
	shares = math.Min(shares, math.Min(opp.YesAskSize, opp.NoAskSize))

	var reservedTotal float64
	for _, r := range m.reserved {
		reservedTotal += r
	}
	headroom := m.balance - reservedTotal
	if headroom <= 0 {
		return 0, 0, domain.RejectExposureCap, "balance fully reserved"
	}
	shares = math.Min(shares, headroom/entry)

	shares = math.Floor(shares)
	sizeUSD = shares * entry

	if shares < m.params.MinShares || sizeUSD < m.params.MinOrderUSD {
		return 0, 0, domain.RejectSizeTooSmall,
			fmt.Sprintf("%.0f shares ($%.2f) below minimum", shares, sizeUSD)
	}
	return shares, sizeUSD, domain.RejectNone, ""
}

// volatilityKill rejects entries while the 1-minute mid-price standard
// deviation is above the configured ceiling.
func (m *Manager) volatilityKill(marketID string, now time.Time) (domain.RejectReason, string) {
	if m.stats == nil || m.params.VolatilitySkip1MinStd <= 0 {
		return domain.RejectNone, ""
	}
	stats, ok := m.stats.Stats(marketID, now)
	if !ok {
		return domain.RejectNone, ""
	}
	if stats.Std1Min > m.params.VolatilitySkip1MinStd {
		return domain.RejectVolatilityKill,
			fmt.Sprintf("1min std %.4f > %.4f", stats.Std1Min, m.params.VolatilitySkip1MinStd)
	}
	return domain.RejectNone, ""
}

// statsFilters runs the optional volume, z-score, and RSI filters. A filter
// whose statistic is not yet available is skipped.
func (m *Manager) statsFilters(marketID string, now time.Time) (domain.RejectReason, string) {
	if m.stats == nil {
		return domain.RejectNone, ""
	}
	stats, ok := m.stats.Stats(marketID, now)
	if !ok {
		return domain.RejectNone, ""
	}

	if m.params.MinVolume60sUSD > 0 && stats.Volume60s < m.params.MinVolume60sUSD {
		return domain.RejectLowVolume,
			fmt.Sprintf("60s volume $%.0f < $%.0f", stats.Volume60s, m.params.MinVolume60sUSD)
	}
	if m.params.MaxZScore3Min > 0 && math.Abs(stats.ZScore3Min) > m.params.MaxZScore3Min {
		return domain.RejectZScore,
			fmt.Sprintf("3min zscore %.2f beyond %.2f", stats.ZScore3Min, m.params.MaxZScore3Min)
	}
	if m.params.MaxRSIOverbought > 0 && stats.RSI8 > m.params.MaxRSIOverbought {
		return domain.RejectRSIOverbought,
			fmt.Sprintf("RSI %.1f > %.1f", stats.RSI8, m.params.MaxRSIOverbought)
	}
	return domain.RejectNone, ""
}

// RecordOutcome settles an approved decision: releases the reservation,
// applies P&L, updates the loss streak, and trips breakers. BothFilled
// counts as a win and resets the streak; PartialFill counts toward the
// streak because it leaves unhedged exposure; NoFill is neutral.
func (m *Manager) RecordOutcome(result domain.ExecutionResult) {
	now := m.now()

	m.mu.Lock()
	delete(m.reserved, result.Decision.Opportunity.MarketID)

	m.rollover(now)

	pnl := result.RealizedPnL
	m.balance += pnl

	switch result.Outcome {
	case domain.OutcomeBothFilled:
		m.consecutiveLosses = 0
	case domain.OutcomePartialFill:
		m.consecutiveLosses++
	case domain.OutcomeNoFill:
		// neutral
	}

	tripped := m.checkBreakers(now)
	state := m.stateLocked(now)
	m.mu.Unlock()

	m.logger.Info("outcome recorded",
		slog.String("market_id", result.Decision.Opportunity.MarketID),
		slog.String("outcome", string(result.Outcome)),
		slog.Float64("pnl", pnl),
		slog.Float64("balance", state.Balance),
		slog.Int("loss_streak", state.ConsecutiveLosses))

	if tripped != domain.TripNone && m.OnTrip != nil {
		m.OnTrip(tripped, state)
	}
}

// ApplyPnL adjusts the balance outside the execution path, e.g. when a held
// position resolves.
func (m *Manager) ApplyPnL(pnl float64) {
	now := m.now()
	m.mu.Lock()
	m.rollover(now)
	m.balance += pnl
	tripped := m.checkBreakers(now)
	state := m.stateLocked(now)
	m.mu.Unlock()

	if tripped != domain.TripNone && m.OnTrip != nil {
		m.OnTrip(tripped, state)
	}
}

// InFlight reports whether the market currently holds a reservation.
func (m *Manager) InFlight(marketID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reserved[marketID]
	return ok
}

// RearmMonthly clears a monthly drawdown trip. Operator action only.
func (m *Manager) RearmMonthly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trip != domain.TripMonthlyDrawdown {
		return
	}
	m.trip = domain.TripNone
	m.pausedUntil = time.Time{}
	m.monthlyStartBalance = m.balance
	m.logger.Warn("monthly drawdown breaker manually re-armed")
}

// State returns a snapshot of the manager's counters.
func (m *Manager) State() domain.RiskState {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(now)
	return m.stateLocked(now)
}

// --------------------------------------------------------------------------
// Internal, all called with m.mu held.
// --------------------------------------------------------------------------

func (m *Manager) stateLocked(now time.Time) domain.RiskState {
	var reservedTotal float64
	for _, r := range m.reserved {
		reservedTotal += r
	}
	return domain.RiskState{
		Balance:             m.balance,
		ConsecutiveLosses:   m.consecutiveLosses,
		SessionPnL:          m.balance - m.sessionStartBalance,
		DailyPnL:            m.balance - m.dailyStartBalance,
		MonthlyPnL:          m.balance - m.monthlyStartBalance,
		SessionStartBalance: m.sessionStartBalance,
		DailyStartBalance:   m.dailyStartBalance,
		MonthlyStartBalance: m.monthlyStartBalance,
		ReservedUSD:         reservedTotal,
		InFlightMarkets:     len(m.reserved),
		Trip:                m.trip,
		PausedUntil:         m.pausedUntil,
		TakenAt:             now,
	}
}

func (m *Manager) pausedLocked(now time.Time) bool {
	return m.stateLocked(now).Paused(now)
}

// rollover re-baselines the daily and monthly counters at UTC boundaries. A
// daily drawdown pause ends at the boundary; the monthly breaker survives it.
func (m *Manager) rollover(now time.Time) {
	utc := now.UTC()
	day := utc.Truncate(24 * time.Hour)
	if day.After(m.dayAnchor) {
		m.dayAnchor = day
		m.dailyStartBalance = m.balance
		if m.trip == domain.TripDailyDrawdown {
			m.trip = domain.TripNone
			m.pausedUntil = time.Time{}
		}
	}
	month := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
	if month.After(m.monthAnchor) {
		m.monthAnchor = month
		m.monthlyStartBalance = m.balance
	}
}

// maybeResume clears an expired pause. Consecutive-loss resumes reset the
// streak; session resumes re-baseline the session from the current balance.
func (m *Manager) maybeResume(now time.Time) {
	if m.trip == domain.TripNone || m.trip == domain.TripMonthlyDrawdown {
		return
	}
	if m.pausedUntil.IsZero() || now.Before(m.pausedUntil) {
		return
	}
	switch m.trip {
	case domain.TripConsecutiveLosses:
		m.consecutiveLosses = 0
	case domain.TripSessionDrawdown:
		m.sessionStartBalance = m.balance
	}
	m.trip = domain.TripNone
	m.pausedUntil = time.Time{}
	m.logger.Info("breaker pause expired, trading resumed")
}

// checkBreakers trips the most severe applicable breaker and returns it, or
// TripNone. Monthly outranks daily outranks session outranks losses.
func (m *Manager) checkBreakers(now time.Time) domain.BreakerTrip {
	if m.trip != domain.TripNone {
		return domain.TripNone // already tripped
	}

	ddPct := func(start float64) float64 {
		if start <= 0 {
			return 0
		}
		return (start - m.balance) / start * 100
	}

	switch {
	case m.params.MonthlyDrawdownPct > 0 && ddPct(m.monthlyStartBalance) >= m.params.MonthlyDrawdownPct:
		m.trip = domain.TripMonthlyDrawdown
		m.pausedUntil = time.Time{} // manual re-arm only
	case m.params.DailyDrawdownPct > 0 && ddPct(m.dailyStartBalance) >= m.params.DailyDrawdownPct:
		m.trip = domain.TripDailyDrawdown
		m.pausedUntil = m.dayAnchor.Add(24 * time.Hour) // next UTC midnight
	case m.params.SessionDrawdownPct > 0 && ddPct(m.sessionStartBalance) >= m.params.SessionDrawdownPct:
		m.trip = domain.TripSessionDrawdown
		m.pausedUntil = now.Add(m.params.SessionPause)
	case m.params.ConsecutiveLossesPause > 0 && m.consecutiveLosses >= m.params.ConsecutiveLossesPause:
		m.trip = domain.TripConsecutiveLosses
		m.pausedUntil = now.Add(m.params.ConsecutiveLossPause)
	default:
		return domain.TripNone
	}

	m.logger.Warn("circuit breaker tripped",
		slog.String("trip", string(m.trip)),
		slog.Time("paused_until", m.pausedUntil),
		slog.Float64("balance", m.balance))
	return m.trip
}

func rejectForTrip(trip domain.BreakerTrip) domain.RejectReason {
	switch trip {
	case domain.TripSessionDrawdown:
		return domain.RejectSessionDrawdown
	case domain.TripDailyDrawdown:
		return domain.RejectDailyDrawdown
	case domain.TripMonthlyDrawdown:
		return domain.RejectMonthlyDrawdown
	default:
		return domain.RejectBreakerPaused
	}
}
