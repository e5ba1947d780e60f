package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pairarb/pairarb/internal/config"
	"github.com/pairarb/pairarb/internal/detector"
	"github.com/pairarb/pairarb/internal/domain"
	"github.com/pairarb/pairarb/internal/executor"
	"github.com/pairarb/pairarb/internal/feed"
	"github.com/pairarb/pairarb/internal/ledger"
	"github.com/pairarb/pairarb/internal/notify"
	"github.com/pairarb/pairarb/internal/platform/polymarket"
	"github.com/pairarb/pairarb/internal/registry"
	"github.com/pairarb/pairarb/internal/risk"
)

// instanceLockKey guards against two bots trading the same account. The lock
// is held for the process lifetime and released on shutdown.
const instanceLockKey = "pairarb:instance"

// TradeMode runs the full pipeline: catalog refresh, market-data feed,
// detection, risk evaluation, execution, and settlement.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Bool("dry_run", a.cfg.DryRun))

	unlock, err := deps.LockManager.Acquire(ctx, instanceLockKey, 0)
	if err != nil {
		return fmt.Errorf("trade mode: acquire instance lock: %w", err)
	}
	defer unlock()

	reg := registry.New(deps.Gamma, deps.MarketStore, deps.MarketCache, a.registryOptions(), a.logger)
	hub := feed.NewHub(reg, deps.BookPublisher,
		a.cfg.Feed.StalenessWindow.Duration, a.cfg.Feed.UpdateBuffer, a.logger)

	tracker := risk.NewTracker()
	hub.OnApply = tracker.ObserveBook

	pool := feed.NewPool(a.cfg.Polymarket.WsHost, hub, func(print domain.TradePrint) {
		if market, _, ok := reg.Lookup(print.TokenID); ok {
			tracker.RecordTrade(market.ID, print)
		}
	}, a.logger)

	reg.OnChange(func(snap *registry.Snapshot) {
		hub.SetMarkets(snapshotMarketIDs(snap))
		pool.Assign(snap.Shards)
	})

	manager := risk.NewManager(riskParams(a.cfg), a.cfg.Trading.StartingBalance, tracker, a.logger)
	manager.OnTrip = func(trip domain.BreakerTrip, state domain.RiskState) {
		a.onBreakerTrip(ctx, deps, trip, state)
	}

	det := detector.New(hub, reg, manager, detector.Options{
		MinProfitThreshold: a.cfg.Trading.MinProfitThreshold,
		SweepInterval:      a.cfg.Trading.SweepInterval.Duration,
		Cooldown:           time.Duration(a.cfg.Trading.CooldownSec) * time.Second,
	}, a.logger)

	led := ledger.New(deps.FillStore, deps.PositionStore, a.logger)
	if err := led.Replay(ctx); err != nil {
		return fmt.Errorf("trade mode: replay ledger: %w", err)
	}

	var gateway executor.Gateway
	if a.cfg.DryRun {
		gateway = executor.NewSimGateway(hub, reg)
	} else {
		gateway = executor.NewClobGateway(deps.Clob, deps.Signer, deps.RateLimiter, a.cfg.Trading.OrderRatePerSec)
	}

	decisions := make(chan domain.RiskDecision, 16)
	exec := executor.New(gateway, deps.OrderStore, hub, decisions, executor.Options{
		Timeout:     a.cfg.Trading.ExecutionTimeout.Duration,
		CancelGrace: a.cfg.Trading.CancelGrace.Duration,
	}, a.logger)
	exec.OnResult = func(result domain.ExecutionResult) {
		a.onExecutionResult(ctx, deps, manager, led, result)
	}

	watcher := ledger.NewWatcher(led, gammaResolutionSource{deps.Gamma}, time.Minute, a.logger)
	watcher.OnResolved = func(pos domain.Position, wasHedged bool) {
		a.onPositionResolved(ctx, deps, manager, pos, wasHedged)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.Run(ctx) })
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return det.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })

	// Bridge: opportunities through risk evaluation into the execution queue.
	g.Go(func() error {
		defer close(decisions)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp, ok := <-det.Opportunities():
				if !ok {
					return nil
				}
				market, found := reg.Market(opp.MarketID)
				if !found {
					continue
				}
				decision := manager.Evaluate(opp, market)
				if !decision.Approved {
					a.logger.DebugContext(ctx, "opportunity rejected",
						slog.String("market_id", opp.MarketID),
						slog.String("reason", string(decision.Reason)),
						slog.String("detail", decision.Detail),
					)
					// Transient suppressions would flood the audit trail.
					if decision.Reason != domain.RejectMarketBusy {
						a.audit(ctx, deps, "rejection", map[string]any{
							"market_id":   opp.MarketID,
							"reason":      string(decision.Reason),
							"detail":      decision.Detail,
							"profit_frac": opp.ProfitFrac,
						})
					}
					continue
				}
				a.audit(ctx, deps, "approval", map[string]any{
					"market_id": opp.MarketID,
					"size_usd":  decision.SizeUSD,
					"shares":    decision.Shares,
				})
				select {
				case decisions <- decision:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	return g.Wait()
}

// ScanMode runs detection only: the catalog, the feed, and the detector, with
// every opportunity logged instead of traded. No database is required.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	reg := registry.New(deps.Gamma, deps.MarketStore, deps.MarketCache, a.registryOptions(), a.logger)
	hub := feed.NewHub(reg, deps.BookPublisher,
		a.cfg.Feed.StalenessWindow.Duration, a.cfg.Feed.UpdateBuffer, a.logger)
	pool := feed.NewPool(a.cfg.Polymarket.WsHost, hub, nil, a.logger)

	reg.OnChange(func(snap *registry.Snapshot) {
		hub.SetMarkets(snapshotMarketIDs(snap))
		pool.Assign(snap.Shards)
	})

	det := detector.New(hub, reg, noInFlight{}, detector.Options{
		MinProfitThreshold: a.cfg.Trading.MinProfitThreshold,
		SweepInterval:      a.cfg.Trading.SweepInterval.Duration,
		Cooldown:           time.Duration(a.cfg.Trading.CooldownSec) * time.Second,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.Run(ctx) })
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return det.Run(ctx) })

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp, ok := <-det.Opportunities():
				if !ok {
					return nil
				}
				a.logger.InfoContext(ctx, "opportunity",
					slog.String("market_id", opp.MarketID),
					slog.Float64("yes_ask", opp.YesAsk),
					slog.Float64("no_ask", opp.NoAsk),
					slog.Float64("combined", opp.CombinedCost),
					slog.Float64("profit_frac", opp.ProfitFrac),
				)
				a.publishSignal(ctx, deps, "opportunities", opp)
			}
		}
	})

	return g.Wait()
}

// onExecutionResult settles one execution: risk counters first, then the
// ledger, then notifications and the audit trail.
func (a *App) onExecutionResult(ctx context.Context, deps *Dependencies, manager *risk.Manager, led *ledger.Ledger, result domain.ExecutionResult) {
	manager.RecordOutcome(result)

	if err := led.Record(ctx, result); err != nil {
		a.logger.ErrorContext(ctx, "ledger record failed",
			slog.String("market_id", result.Decision.Opportunity.MarketID),
			slog.String("error", err.Error()),
		)
	}

	marketID := result.Decision.Opportunity.MarketID
	a.audit(ctx, deps, "execution", map[string]any{
		"market_id":    marketID,
		"outcome":      string(result.Outcome),
		"realized_pnl": result.RealizedPnL,
		"unhedged":     result.Unhedged,
		"yes_filled":   result.Yes.FilledSize,
		"no_filled":    result.No.FilledSize,
	})
	a.publishSignal(ctx, deps, "trades", result)

	title := fmt.Sprintf("Execution %s", result.Outcome)
	msg := fmt.Sprintf("market %s\noutcome %s\npnl %.4f USD\nunhedged %t",
		marketID, result.Outcome, result.RealizedPnL, result.Unhedged)
	if err := deps.Notifier.Notify(ctx, notify.EventTradeCompleted, title, msg); err != nil {
		a.logger.WarnContext(ctx, "trade notification failed", slog.String("error", err.Error()))
	}
}

// onBreakerTrip records a circuit-breaker trip and alerts the operator.
func (a *App) onBreakerTrip(ctx context.Context, deps *Dependencies, trip domain.BreakerTrip, state domain.RiskState) {
	a.logger.WarnContext(ctx, "circuit breaker tripped",
		slog.String("trip", string(trip)),
		slog.Float64("balance", state.Balance),
		slog.Time("paused_until", state.PausedUntil),
	)

	a.audit(ctx, deps, "breaker_trip", map[string]any{
		"trip":         string(trip),
		"balance":      state.Balance,
		"paused_until": state.PausedUntil,
	})
	a.publishSignal(ctx, deps, "breakers", state)

	msg := fmt.Sprintf("breaker %s\nbalance %.2f USD\npaused until %s",
		trip, state.Balance, state.PausedUntil.Format(time.RFC3339))
	if err := deps.Notifier.Notify(ctx, notify.EventBreakerTripped, "Circuit breaker tripped", msg); err != nil {
		a.logger.WarnContext(ctx, "breaker notification failed", slog.String("error", err.Error()))
	}
}

// onPositionResolved handles market settlement. Hedged positions already
// realized their locked profit at execution time; only unhedged remainders
// move the risk balance here.
func (a *App) onPositionResolved(ctx context.Context, deps *Dependencies, manager *risk.Manager, pos domain.Position, wasHedged bool) {
	if !wasHedged {
		manager.ApplyPnL(pos.RealizedPnL)
	}

	a.audit(ctx, deps, "settlement", map[string]any{
		"market_id":    pos.MarketID,
		"realized_pnl": pos.RealizedPnL,
		"hedged":       wasHedged,
	})
}

// audit writes to the audit store when one is wired. Failures are logged and
// swallowed; the audit trail never blocks trading.
func (a *App) audit(ctx context.Context, deps *Dependencies, event string, detail map[string]any) {
	if deps.AuditStore == nil {
		return
	}
	if err := deps.AuditStore.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// publishSignal mirrors an event onto the signal bus as JSON, both as a
// pub/sub message and a durable stream entry for external consumers.
func (a *App) publishSignal(ctx context.Context, deps *Dependencies, channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		a.logger.WarnContext(ctx, "signal marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := deps.SignalBus.Publish(ctx, channel, data); err != nil {
		a.logger.WarnContext(ctx, "signal publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := deps.SignalBus.StreamAppend(ctx, "stream:"+channel, data); err != nil {
		a.logger.WarnContext(ctx, "signal stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (a *App) registryOptions() registry.Options {
	return registry.Options{
		RefreshInterval:        a.cfg.Registry.RefreshInterval.Duration,
		MinLiquidityUSD:        a.cfg.Registry.MinLiquidityUSD,
		MaxDaysUntilResolution: a.cfg.Registry.MaxDaysUntilResolution,
		PageSize:               a.cfg.Registry.PageSize,
		MaxMarkets:             a.cfg.Registry.MaxMarkets,
		NumShards:              a.cfg.Feed.NumConnections,
		MarketsPerShard:        a.cfg.Feed.MarketsPerConnection,
	}
}

func riskParams(cfg *config.Config) risk.Params {
	return risk.Params{
		RiskPerTradePct: cfg.Risk.RiskPerTradePct,
		StopLossPct:     cfg.Risk.StopLossPct,
		PositionCapPct:  cfg.Risk.PositionCapPct,
		MaxPositionUSD:  cfg.Trading.MaxPositionSize,

		ConsecutiveLossesPause: cfg.Risk.ConsecutiveLossesPause,
		ConsecutiveLossPause:   time.Duration(cfg.Risk.ConsecutiveLossPauseMinute) * time.Minute,
		SessionDrawdownPct:     cfg.Risk.SessionDrawdownPct,
		SessionPause:           time.Duration(cfg.Risk.SessionPauseMinutes) * time.Minute,
		DailyDrawdownPct:       cfg.Risk.DailyDrawdownPct,
		MonthlyDrawdownPct:     cfg.Risk.MonthlyDrawdownPct,

		MinSecondsUntilResolution: float64(cfg.Risk.MinSecondsUntilResolution),
		VolatilitySkip1MinStd:     cfg.Risk.VolatilitySkip1MinStd,
		MinVolume60sUSD:           cfg.Risk.MinVolume60sUSD,
		MaxZScore3Min:             cfg.Risk.MaxZScore3Min,
		MaxRSIOverbought:          cfg.Risk.MaxRSIOverbought,

		MinShares:   cfg.Trading.MinOrderShares,
		MinOrderUSD: cfg.Trading.MinOrderUSD,
	}
}

func snapshotMarketIDs(snap *registry.Snapshot) []string {
	ids := make([]string, 0, len(snap.Markets))
	for id := range snap.Markets {
		ids = append(ids, id)
	}
	return ids
}

// gammaResolutionSource adapts the Gamma client to the settlement watcher.
type gammaResolutionSource struct {
	gamma *polymarket.GammaClient
}

func (s gammaResolutionSource) Resolution(ctx context.Context, marketID string) (ledger.Resolution, error) {
	res, err := s.gamma.GetMarketResolution(ctx, marketID)
	if err != nil {
		return ledger.Resolution{}, err
	}
	return ledger.Resolution{Closed: res.Closed, YesWon: res.YesWon}, nil
}

// noInFlight is the scan-mode stand-in for the risk manager's in-flight
// check.
type noInFlight struct{}

func (noInFlight) InFlight(string) bool { return false }
