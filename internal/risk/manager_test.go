package risk

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

type fixedStats struct {
	stats domain.MarketStats
	ok    bool
}

func (f fixedStats) Stats(marketID string, now time.Time) (domain.MarketStats, bool) {
	return f.stats, f.ok
}

func testParams() Params {
	return Params{
		RiskPerTradePct: 0.8,
		StopLossPct:     5.0,
		PositionCapPct:  25.0,
		MaxPositionUSD:  100,

		ConsecutiveLossesPause: 5,
		ConsecutiveLossPause:   30 * time.Minute,
		SessionDrawdownPct:     4.0,
		SessionPause:           time.Hour,
		DailyDrawdownPct:       8.0,
		MonthlyDrawdownPct:     20.0,

		MinSecondsUntilResolution: 90,
		VolatilitySkip1MinStd:     0.028,
		MaxZScore3Min:             2.5,
		MaxRSIOverbought:          80,

		MinShares:   5,
		MinOrderUSD: 1,
	}
}

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:           "opp-1",
		MarketID:     "m1",
		YesAsk:       0.45,
		NoAsk:        0.50,
		YesAskSize:   500,
		NoAskSize:    500,
		CombinedCost: 0.95,
		ProfitFrac:   (1 - 0.95) / 0.95,
	}
}

func testMarket() domain.Market {
	// Far enough out that neither the real clock nor the fake test clocks
	// come near resolution.
	return domain.Market{
		ID:      "m1",
		EndDate: time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestManager(stats StatsProvider) *Manager {
	return NewManager(testParams(), 1000, stats, slog.Default())
}

func resultFor(decision domain.RiskDecision, outcome domain.ExecutionOutcome, pnl float64) domain.ExecutionResult {
	return domain.ExecutionResult{
		Decision:    decision,
		Outcome:     outcome,
		RealizedPnL: pnl,
	}
}

func TestEvaluateApprovesAndSizes(t *testing.T) {
	m := newTestManager(nil)

	decision := m.Evaluate(testOpportunity(), testMarket())
	if !decision.Approved {
		t.Fatalf("rejected: %s (%s)", decision.Reason, decision.Detail)
	}

	// risk budget 1000 * 0.8% = $8; the notional may not exceed it, so
	// the position is floor(8 / 0.95) = 8 shares at $7.60.
	if decision.Shares != 8 {
		t.Fatalf("shares = %v, want 8", decision.Shares)
	}
	if decision.SizeUSD != 8*0.95 {
		t.Fatalf("size = %v, want %v", decision.SizeUSD, 8*0.95)
	}
}

func TestEvaluateSizeRespectsEveryCap(t *testing.T) {
	cases := []struct {
		name    string
		balance float64
		tweak   func(*Params)
	}{
		{"defaults", 1000, func(p *Params) {}},
		{"small balance", 120, func(p *Params) { p.RiskPerTradePct = 10 }},
		{"wide risk", 1000, func(p *Params) { p.RiskPerTradePct = 40 }},
		{"tight cap", 5000, func(p *Params) { p.PositionCapPct = 1 }},
		{"low absolute max", 20000, func(p *Params) {
			p.RiskPerTradePct = 10
			p.MaxPositionUSD = 50
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams()
			tc.tweak(&params)
			m := NewManager(params, tc.balance, nil, slog.Default())

			decision := m.Evaluate(testOpportunity(), testMarket())
			if !decision.Approved {
				t.Fatalf("rejected: %s (%s)", decision.Reason, decision.Detail)
			}

			bound := math.Min(tc.balance*params.RiskPerTradePct/100,
				tc.balance*params.PositionCapPct/100)
			if params.MaxPositionUSD > 0 {
				bound = math.Min(bound, params.MaxPositionUSD)
			}
			if decision.SizeUSD > bound {
				t.Fatalf("size $%.2f exceeds bound $%.2f", decision.SizeUSD, bound)
			}
		})
	}
}

func TestEvaluateCapsAtAskSize(t *testing.T) {
	m := newTestManager(nil)
	opp := testOpportunity()
	opp.NoAskSize = 6 // thinner side

	decision := m.Evaluate(opp, testMarket())
	if !decision.Approved {
		t.Fatalf("rejected: %s", decision.Reason)
	}
	if decision.Shares != 6 {
		t.Fatalf("shares = %v, want 6 (thin ask)", decision.Shares)
	}
}

func TestEvaluateRejectsTinySize(t *testing.T) {
	m := newTestManager(nil)
	opp := testOpportunity()
	opp.YesAskSize = 2 // below MinShares

	decision := m.Evaluate(opp, testMarket())
	if decision.Approved {
		t.Fatalf("expected rejection for tiny size")
	}
	if decision.Reason != domain.RejectSizeTooSmall {
		t.Fatalf("reason = %s, want %s", decision.Reason, domain.RejectSizeTooSmall)
	}
}

func TestEvaluateRejectsNearResolution(t *testing.T) {
	m := newTestManager(nil)
	market := testMarket()
	market.EndDate = time.Now().Add(30 * time.Second)

	decision := m.Evaluate(testOpportunity(), market)
	if decision.Approved {
		t.Fatalf("expected rejection near resolution")
	}
	if decision.Reason != domain.RejectTimeToResolution {
		t.Fatalf("reason = %s, want %s", decision.Reason, domain.RejectTimeToResolution)
	}
}

func TestVolatilityKillPrecedesResolutionFilter(t *testing.T) {
	m := newTestManager(fixedStats{stats: domain.MarketStats{Std1Min: 0.05}, ok: true})
	market := testMarket()
	market.EndDate = time.Now().Add(30 * time.Second)

	// Both the volatility kill and the resolution filter would reject here;
	// the breaker must win.
	decision := m.Evaluate(testOpportunity(), market)
	if decision.Approved {
		t.Fatalf("expected rejection")
	}
	if decision.Reason != domain.RejectVolatilityKill {
		t.Fatalf("reason = %s, want %s", decision.Reason, domain.RejectVolatilityKill)
	}
}

func TestEvaluateConcurrentSingleApproval(t *testing.T) {
	m := newTestManager(nil)

	const callers = 16
	var (
		wg       sync.WaitGroup
		approved atomic.Int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Evaluate(testOpportunity(), testMarket()).Approved {
				approved.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := approved.Load(); got != 1 {
		t.Fatalf("approved = %d, want exactly 1", got)
	}
	if !m.InFlight("m1") {
		t.Fatalf("winning approval must hold the market reservation")
	}
}

func TestEvaluateReservationBlocksSecondApproval(t *testing.T) {
	m := newTestManager(nil)

	first := m.Evaluate(testOpportunity(), testMarket())
	if !first.Approved {
		t.Fatalf("first evaluation rejected: %s", first.Reason)
	}
	if !m.InFlight("m1") {
		t.Fatalf("approved market must be in flight")
	}

	second := m.Evaluate(testOpportunity(), testMarket())
	if second.Approved {
		t.Fatalf("second evaluation must be rejected while in flight")
	}
	if second.Reason != domain.RejectMarketBusy {
		t.Fatalf("reason = %s, want %s", second.Reason, domain.RejectMarketBusy)
	}

	m.RecordOutcome(resultFor(first, domain.OutcomeNoFill, 0))
	if m.InFlight("m1") {
		t.Fatalf("reservation must be released after the outcome")
	}
}

func TestStatsFilters(t *testing.T) {
	cases := []struct {
		name   string
		stats  domain.MarketStats
		reason domain.RejectReason
	}{
		{"volatility", domain.MarketStats{Std1Min: 0.05}, domain.RejectVolatilityKill},
		{"zscore", domain.MarketStats{ZScore3Min: -3.0}, domain.RejectZScore},
		{"rsi", domain.MarketStats{RSI8: 92}, domain.RejectRSIOverbought},
		{"clean", domain.MarketStats{Std1Min: 0.01, RSI8: 50}, domain.RejectNone},
	}
	for _, tc := range cases {
		m := newTestManager(fixedStats{stats: tc.stats, ok: true})
		decision := m.Evaluate(testOpportunity(), testMarket())
		if tc.reason == domain.RejectNone {
			if !decision.Approved {
				t.Fatalf("%s: rejected: %s", tc.name, decision.Reason)
			}
			continue
		}
		if decision.Approved || decision.Reason != tc.reason {
			t.Fatalf("%s: reason = %s, want %s", tc.name, decision.Reason, tc.reason)
		}
	}
}

func TestStatsUnavailableSkipsFilters(t *testing.T) {
	m := newTestManager(fixedStats{ok: false})
	if decision := m.Evaluate(testOpportunity(), testMarket()); !decision.Approved {
		t.Fatalf("missing stats must not reject: %s", decision.Reason)
	}
}

func TestConsecutiveLossesTripAndResume(t *testing.T) {
	m := newTestManager(nil)
	var tripped domain.BreakerTrip
	m.OnTrip = func(trip domain.BreakerTrip, state domain.RiskState) { tripped = trip }

	// Future dates so the first rollover moves the constructor's anchors
	// onto the fake clock.
	base := time.Date(2100, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		d := m.Evaluate(testOpportunity(), testMarket())
		if !d.Approved {
			t.Fatalf("loss %d: rejected: %s", i, d.Reason)
		}
		m.RecordOutcome(resultFor(d, domain.OutcomePartialFill, -1))
	}
	if tripped != domain.TripConsecutiveLosses {
		t.Fatalf("tripped = %s, want %s", tripped, domain.TripConsecutiveLosses)
	}

	clock = base.Add(10 * time.Minute)
	if d := m.Evaluate(testOpportunity(), testMarket()); d.Approved {
		t.Fatalf("must stay paused inside the pause window")
	}

	clock = base.Add(31 * time.Minute)
	d := m.Evaluate(testOpportunity(), testMarket())
	if !d.Approved {
		t.Fatalf("pause expired, expected approval: %s (%s)", d.Reason, d.Detail)
	}
	if got := m.State().ConsecutiveLosses; got != 0 {
		t.Fatalf("loss streak = %d after resume, want 0", got)
	}
}

func TestWinResetsLossStreak(t *testing.T) {
	m := newTestManager(nil)

	for i := 0; i < 3; i++ {
		d := m.Evaluate(testOpportunity(), testMarket())
		m.RecordOutcome(resultFor(d, domain.OutcomePartialFill, -1))
	}
	d := m.Evaluate(testOpportunity(), testMarket())
	m.RecordOutcome(resultFor(d, domain.OutcomeBothFilled, 2))

	if got := m.State().ConsecutiveLosses; got != 0 {
		t.Fatalf("loss streak = %d after a win, want 0", got)
	}
}

func TestDailyDrawdownPausesUntilUTCMidnight(t *testing.T) {
	m := newTestManager(nil)

	base := time.Date(2100, 1, 10, 15, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	d := m.Evaluate(testOpportunity(), testMarket())
	if !d.Approved {
		t.Fatalf("rejected: %s", d.Reason)
	}
	m.RecordOutcome(resultFor(d, domain.OutcomePartialFill, -100)) // 10% of 1000

	state := m.State()
	if state.Trip != domain.TripDailyDrawdown {
		t.Fatalf("trip = %s, want %s", state.Trip, domain.TripDailyDrawdown)
	}
	wantResume := time.Date(2100, 1, 11, 0, 0, 0, 0, time.UTC)
	if !state.PausedUntil.Equal(wantResume) {
		t.Fatalf("paused until %v, want %v", state.PausedUntil, wantResume)
	}

	clock = base.Add(2 * time.Hour)
	if d := m.Evaluate(testOpportunity(), testMarket()); d.Approved {
		t.Fatalf("must stay paused until midnight")
	}

	clock = wantResume.Add(time.Minute)
	if d := m.Evaluate(testOpportunity(), testMarket()); !d.Approved {
		t.Fatalf("new UTC day, expected approval: %s (%s)", d.Reason, d.Detail)
	}
}

func TestMonthlyDrawdownRequiresManualRearm(t *testing.T) {
	m := newTestManager(nil)

	base := time.Date(2100, 1, 10, 15, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	d := m.Evaluate(testOpportunity(), testMarket())
	m.RecordOutcome(resultFor(d, domain.OutcomePartialFill, -250)) // 25% of 1000

	if m.State().Trip != domain.TripMonthlyDrawdown {
		t.Fatalf("trip = %s, want %s", m.State().Trip, domain.TripMonthlyDrawdown)
	}

	// Even into the next month, the monthly breaker stays engaged.
	clock = time.Date(2100, 2, 2, 9, 0, 0, 0, time.UTC)
	if d := m.Evaluate(testOpportunity(), testMarket()); d.Approved {
		t.Fatalf("monthly trip must survive the month boundary")
	}

	m.RearmMonthly()
	if d := m.Evaluate(testOpportunity(), testMarket()); !d.Approved {
		t.Fatalf("re-armed, expected approval: %s (%s)", d.Reason, d.Detail)
	}
}

func TestApplyPnLMovesBalance(t *testing.T) {
	m := newTestManager(nil)

	m.ApplyPnL(25)
	if got := m.State().Balance; got != 1025 {
		t.Fatalf("balance = %v, want 1025", got)
	}
}
