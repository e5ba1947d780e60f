// Package detector watches consolidated book snapshots for Dutch books:
// markets where buying both outcomes costs less than the $1.00 payout.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairarb/pairarb/internal/domain"
)

// Books is the slice of the feed hub the detector reads.
type Books interface {
	Fresh(marketID string, now time.Time) (domain.BookSnapshot, bool)
	Updates() <-chan string
	MarketIDs() []string
}

// Markets resolves market metadata for detected opportunities.
type Markets interface {
	Market(id string) (domain.Market, bool)
}

// InFlight reports whether an execution is already running for a market.
// The risk manager implements this; checking it here keeps obviously
// doomed candidates out of the evaluation queue.
type InFlight interface {
	InFlight(marketID string) bool
}

// Options tune detection.
type Options struct {
	MinProfitThreshold float64       // margin (1 - combined cost) must strictly exceed this
	SweepInterval      time.Duration // full catalog rescan period
	Cooldown           time.Duration // per-market re-emission guard
}

// Detector scans snapshots and emits opportunities. Event driven off the
// hub's update channel, with a periodic sweep as a safety net for updates
// the bounded channel dropped.
type Detector struct {
	books    Books
	markets  Markets
	inFlight InFlight
	opts     Options
	logger   *slog.Logger

	out chan domain.Opportunity

	mu       sync.Mutex
	lastEmit map[string]time.Time
}

// New creates a Detector.
func New(books Books, markets Markets, inFlight InFlight, opts Options, logger *slog.Logger) *Detector {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 2 * time.Second
	}
	return &Detector{
		books:    books,
		markets:  markets,
		inFlight: inFlight,
		opts:     opts,
		logger:   logger.With(slog.String("component", "detector")),
		out:      make(chan domain.Opportunity, 64),
		lastEmit: make(map[string]time.Time),
	}
}

// Opportunities is the stream of detected Dutch books.
func (d *Detector) Opportunities() <-chan domain.Opportunity {
	return d.out
}

// Run drains hub updates and sweeps the whole catalog every interval.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case marketID := <-d.books.Updates():
			d.check(ctx, marketID, time.Now())
		case <-ticker.C:
			now := time.Now()
			for _, id := range d.books.MarketIDs() {
				d.check(ctx, id, now)
			}
		}
	}
}

// check evaluates one market and emits at most one opportunity.
func (d *Detector) check(ctx context.Context, marketID string, now time.Time) {
	snap, ok := d.books.Fresh(marketID, now)
	if !ok {
		return // no data yet, or stale
	}

	opp, ok := d.Scan(marketID, snap, now)
	if !ok {
		return
	}

	if d.inFlight != nil && d.inFlight.InFlight(marketID) {
		return
	}
	if !d.armCooldown(marketID, now) {
		return
	}

	d.logger.Info("opportunity detected",
		slog.String("market_id", marketID),
		slog.Float64("combined_cost", opp.CombinedCost),
		slog.Float64("profit_frac", opp.ProfitFrac),
		slog.Float64("yes_ask", opp.YesAsk),
		slog.Float64("no_ask", opp.NoAsk))

	select {
	case d.out <- opp:
	case <-ctx.Done():
	}
}

// Scan applies the arbitrage condition to one snapshot. The margin per
// share pair must strictly exceed the threshold; a combined cost sitting
// exactly at the boundary does not qualify. Both asks must carry size.
func (d *Detector) Scan(marketID string, snap domain.BookSnapshot, now time.Time) (domain.Opportunity, bool) {
	combined := snap.CombinedAsk()
	if combined <= 0 || combined >= 1.0 {
		return domain.Opportunity{}, false
	}
	if snap.YesAsk.Size <= 0 || snap.NoAsk.Size <= 0 {
		return domain.Opportunity{}, false
	}

	margin := 1.0 - combined
	if margin <= d.opts.MinProfitThreshold {
		return domain.Opportunity{}, false
	}

	market, ok := d.markets.Market(marketID)
	if !ok {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		ID:           uuid.NewString(),
		MarketID:     marketID,
		YesTokenID:   market.YesTokenID,
		NoTokenID:    market.NoTokenID,
		YesAsk:       snap.YesAsk.Price,
		NoAsk:        snap.NoAsk.Price,
		YesAskSize:   snap.YesAsk.Size,
		NoAskSize:    snap.NoAsk.Size,
		CombinedCost: combined,
		ProfitFrac:   margin / combined,
		DetectedAt:   now,
	}, true
}

// armCooldown reports whether the market is past its cooldown and, if so,
// stamps it.
func (d *Detector) armCooldown(marketID string, now time.Time) bool {
	if d.opts.Cooldown <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastEmit[marketID]; ok && now.Sub(last) < d.opts.Cooldown {
		return false
	}
	d.lastEmit[marketID] = now
	return true
}
