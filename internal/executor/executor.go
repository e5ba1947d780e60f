// Package executor turns approved risk decisions into paired orders: both
// legs of the Dutch book submitted together, time-boxed, and reconciled to a
// single outcome.
package executor

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pairarb/pairarb/internal/domain"
)

// fillEpsilon absorbs float noise when comparing filled size to order size.
const fillEpsilon = 1e-6

// Options tune paired execution.
type Options struct {
	Timeout       time.Duration // total budget per execution
	CancelGrace   time.Duration // extra wait for fills racing a cancel
	PollInterval  time.Duration
	MaxConcurrent int // simultaneous executions across markets
}

// Executor consumes approved decisions and runs paired executions against
// the gateway. Results are delivered to the OnResult callback; the caller
// wires that to the ledger, the risk manager, and notifications.
type Executor struct {
	gateway   Gateway
	orders    domain.OrderStore // may be nil
	books     BookSource
	decisions <-chan domain.RiskDecision
	opts      Options
	dedup     *Dedup
	logger    *slog.Logger

	// OnResult must be set before Run.
	OnResult func(domain.ExecutionResult)
}

// New creates an Executor.
func New(gateway Gateway, orders domain.OrderStore, books BookSource, decisions <-chan domain.RiskDecision, opts Options, logger *slog.Logger) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 3 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return &Executor{
		gateway:   gateway,
		orders:    orders,
		books:     books,
		decisions: decisions,
		opts:      opts,
		dedup:     NewDedup(2 * time.Minute),
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Run processes decisions until the context is cancelled. Executions for
// different markets run concurrently up to the configured limit; the risk
// manager's reservations guarantee one execution per market.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrent)

	cleanup := time.NewTicker(30 * time.Second)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()

		case <-cleanup.C:
			e.dedup.Cleanup()

		case decision, ok := <-e.decisions:
			if !ok {
				return g.Wait()
			}
			if !decision.Approved {
				continue
			}
			if e.dedup.IsDuplicate(decision.Opportunity.ID) {
				e.logger.Debug("duplicate opportunity, skipping",
					slog.String("opportunity_id", decision.Opportunity.ID))
				continue
			}
			d := decision
			g.Go(func() error {
				result := e.Execute(gctx, d)
				if e.OnResult != nil {
					e.OnResult(result)
				}
				return nil
			})
		}
	}
}

// Execute runs one paired execution to a terminal outcome. It always
// returns a result, even on context cancellation, so the reservation taken
// at approval can be settled.
func (e *Executor) Execute(ctx context.Context, decision domain.RiskDecision) domain.ExecutionResult {
	opp := decision.Opportunity
	started := time.Now()
	log := e.logger.With(
		slog.String("market_id", opp.MarketID),
		slog.String("opportunity_id", opp.ID))

	log.Info("executing pair",
		slog.Float64("shares", decision.Shares),
		slog.Float64("yes_ask", opp.YesAsk),
		slog.Float64("no_ask", opp.NoAsk))

	yesOrder := e.buildOrder(opp.MarketID, opp.YesTokenID, domain.TokenSideYes, opp.YesAsk, decision.Shares)
	noOrder := e.buildOrder(opp.MarketID, opp.NoTokenID, domain.TokenSideNo, opp.NoAsk, decision.Shares)

	execCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var yes, no domain.LegResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		yes = e.runLeg(execCtx, yesOrder, log)
	}()
	go func() {
		defer wg.Done()
		no = e.runLeg(execCtx, noOrder, log)
	}()
	wg.Wait()

	result := domain.ExecutionResult{
		Decision:    decision,
		Yes:         yes,
		No:          no,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}

	yesFull := yes.FilledSize >= decision.Shares-fillEpsilon
	noFull := no.FilledSize >= decision.Shares-fillEpsilon
	switch {
	case yesFull && noFull:
		result.Outcome = domain.OutcomeBothFilled
		cost := yes.AvgPrice*yes.FilledSize + no.AvgPrice*no.FilledSize
		hedged := math.Min(yes.FilledSize, no.FilledSize)
		result.RealizedPnL = hedged - cost
	case yes.FilledSize <= fillEpsilon && no.FilledSize <= fillEpsilon:
		result.Outcome = domain.OutcomeNoFill
	default:
		result.Outcome = domain.OutcomePartialFill
		result.Unhedged = math.Abs(yes.FilledSize-no.FilledSize) > fillEpsilon
	}

	log.Info("execution complete",
		slog.String("outcome", string(result.Outcome)),
		slog.Float64("yes_filled", yes.FilledSize),
		slog.Float64("no_filled", no.FilledSize),
		slog.Float64("pnl", result.RealizedPnL),
		slog.Bool("unhedged", result.Unhedged),
		slog.Duration("elapsed", result.CompletedAt.Sub(started)))

	return result
}

func (e *Executor) buildOrder(marketID, tokenID string, side domain.TokenSide, price, shares float64) domain.Order {
	return domain.Order{
		ID:          uuid.NewString(),
		MarketID:    marketID,
		TokenID:     tokenID,
		Side:        side,
		Price:       price,
		Size:        shares,
		Status:      domain.OrderStatusPending,
		SubmittedAt: time.Now(),
	}
}

// runLeg places one order and drives it to a terminal state: filled, a
// terminal rejection, or cancelled at the deadline. Transport failures get
// exactly one retry, and only if the book still crosses at the leg's price.
func (e *Executor) runLeg(ctx context.Context, order domain.Order, log *slog.Logger) domain.LegResult {
	leg := domain.LegResult{Order: order}

	result, err := e.gateway.PlaceOrder(ctx, order)
	if err != nil || result.Status == domain.OrderStatusRejected {
		retryable := err == nil && result.Retryable
		if err != nil {
			retryable = ctx.Err() == nil
			leg.Err = err.Error()
		} else {
			leg.Err = result.Message
		}
		if !retryable || !e.stillCrossing(order) {
			log.Warn("leg placement failed",
				slog.String("side", string(order.Side)),
				slog.String("error", leg.Err))
			return leg
		}

		log.Warn("leg placement failed, retrying once",
			slog.String("side", string(order.Side)),
			slog.String("error", leg.Err))
		result, err = e.gateway.PlaceOrder(ctx, order)
		if err != nil {
			leg.Err = err.Error()
			return leg
		}
		if result.Status == domain.OrderStatusRejected {
			leg.Err = result.Message
			return leg
		}
		leg.Err = ""
	}

	if result.OrderID != "" {
		order.ID = result.OrderID
		leg.Order.ID = result.OrderID
	}
	order.Status = result.Status
	e.persistOrder(order)

	final := e.await(ctx, order.ID, result)
	e.finishOrder(order.ID, final)

	leg.FilledSize = final.FilledSize
	leg.AvgPrice = final.FilledPrice
	if leg.AvgPrice == 0 && leg.FilledSize > 0 {
		leg.AvgPrice = order.Price
	}
	leg.Filled = final.FilledSize >= order.Size-fillEpsilon
	leg.Order.Status = final.Status
	leg.Order.FilledSize = final.FilledSize
	return leg
}

// await polls until the order reaches a terminal state or the execution
// deadline passes, then cancels and gives racing fills the grace window to
// surface.
func (e *Executor) await(ctx context.Context, orderID string, last domain.OrderResult) domain.OrderResult {
	for !last.Status.Terminal() {
		select {
		case <-ctx.Done():
			return e.cancelAndReconcile(orderID, last)
		case <-time.After(e.opts.PollInterval):
		}

		status, err := e.gateway.OrderStatus(ctx, orderID)
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelAndReconcile(orderID, last)
			}
			continue // transient poll failure, keep the last known state
		}
		last = status
	}
	return last
}

// cancelAndReconcile cancels the order on a fresh context and takes one
// final status read after the grace period. A fill that landed during
// cancellation is counted, not discarded.
func (e *Executor) cancelAndReconcile(orderID string, last domain.OrderResult) domain.OrderResult {
	graceCtx, cancel := context.WithTimeout(context.Background(), e.opts.CancelGrace)
	defer cancel()

	if err := e.gateway.CancelOrder(graceCtx, orderID); err != nil {
		e.logger.Warn("cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	}

	if status, err := e.gateway.OrderStatus(graceCtx, orderID); err == nil {
		last = status
	}
	if !last.Status.Terminal() {
		last.Status = domain.OrderStatusCancelled
		if last.FilledSize > 0 {
			last.Status = domain.OrderStatusPartial
		}
	}
	return last
}

// stillCrossing checks the current book before a retry: the leg's limit
// price must still reach the resting ask.
func (e *Executor) stillCrossing(order domain.Order) bool {
	if e.books == nil {
		return false
	}
	snap, ok := e.books.Fresh(order.MarketID, time.Now())
	if !ok {
		return false
	}
	ask := snap.YesAsk
	if order.Side == domain.TokenSideNo {
		ask = snap.NoAsk
	}
	return ask.Price > 0 && order.Price >= ask.Price
}

func (e *Executor) persistOrder(order domain.Order) {
	if e.orders == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.orders.Create(ctx, order); err != nil {
		e.logger.Warn("order persist failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()))
	}
}

func (e *Executor) finishOrder(orderID string, final domain.OrderResult) {
	if e.orders == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.orders.UpdateStatus(ctx, orderID, final.Status, final.FilledSize); err != nil {
		e.logger.Warn("order status update failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	}
}
