package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

// Resolution is the settlement state of a market.
type Resolution struct {
	Closed bool
	YesWon bool
}

// ResolutionSource answers whether a market has resolved. The Gamma client
// backs this in production.
type ResolutionSource interface {
	Resolution(ctx context.Context, marketID string) (Resolution, error)
}

// Watcher polls open positions for market resolution and settles them.
type Watcher struct {
	ledger   *Ledger
	source   ResolutionSource
	interval time.Duration
	logger   *slog.Logger

	// OnResolved, when set, observes each settled position. The app applies
	// unhedged settlement P&L to the risk manager here.
	OnResolved func(pos domain.Position, wasHedged bool)
}

// NewWatcher creates a Watcher.
func NewWatcher(ledger *Ledger, source ResolutionSource, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watcher{
		ledger:   ledger,
		source:   source,
		interval: interval,
		logger:   logger.With(slog.String("component", "resolution_watcher")),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watcher) sweep(ctx context.Context) {
	for _, pos := range w.ledger.Open() {
		res, err := w.source.Resolution(ctx, pos.MarketID)
		if err != nil {
			w.logger.Debug("resolution check failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()))
			continue
		}
		if !res.Closed {
			continue
		}

		wasHedged := pos.Hedged()
		settled, err := w.ledger.MarkResolved(ctx, pos.MarketID, res.YesWon, time.Now())
		if err != nil {
			w.logger.Warn("settlement failed",
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()))
			continue
		}
		if w.OnResolved != nil {
			w.OnResolved(settled, wasHedged)
		}
	}
}
