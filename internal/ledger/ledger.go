// Package ledger keeps the position books. Fills are the source of truth:
// append-only rows from which every per-market aggregate can be rebuilt, so
// a restart never loses or invents exposure.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairarb/pairarb/internal/domain"
)

// Ledger owns the in-memory position aggregates backed by the fill and
// position stores. All mutation goes through ApplyFill or MarkResolved.
type Ledger struct {
	fills     domain.FillStore
	positions domain.PositionStore
	logger    *slog.Logger

	mu       sync.Mutex
	byMarket map[string]*domain.Position
}

// New creates a Ledger. Call Replay before use to rebuild state from the
// fill history.
func New(fills domain.FillStore, positions domain.PositionStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		fills:     fills,
		positions: positions,
		logger:    logger.With(slog.String("component", "ledger")),
		byMarket:  make(map[string]*domain.Position),
	}
}

// Replay rebuilds all position aggregates from the append-only fill history
// and reconciles the position store. Closed positions stay closed: replay
// only reconstructs open exposure.
func (l *Ledger) Replay(ctx context.Context) error {
	fills, err := l.fills.ListAll(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("ledger: replay: list fills: %w", err)
	}

	// Resolved positions keep their stored P&L; their fills are skipped.
	closedList, err := l.positions.ListClosed(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("ledger: replay: list closed positions: %w", err)
	}
	closed := make(map[string]struct{}, len(closedList))
	for _, p := range closedList {
		closed[p.MarketID] = struct{}{}
	}

	l.mu.Lock()
	l.byMarket = make(map[string]*domain.Position)
	for _, f := range fills {
		if _, done := closed[f.MarketID]; done {
			continue
		}
		l.applyLocked(f)
	}
	rebuilt := make([]domain.Position, 0, len(l.byMarket))
	for _, p := range l.byMarket {
		rebuilt = append(rebuilt, *p)
	}
	l.mu.Unlock()

	for _, p := range rebuilt {
		if err := l.positions.Upsert(ctx, p); err != nil {
			return fmt.Errorf("ledger: replay: upsert position %s: %w", p.MarketID, err)
		}
	}

	l.logger.Info("ledger replayed",
		slog.Int("fills", len(fills)),
		slog.Int("open_positions", len(rebuilt)))
	return nil
}

// Record extracts the fills from a finished execution and applies them.
func (l *Ledger) Record(ctx context.Context, result domain.ExecutionResult) error {
	for _, leg := range []domain.LegResult{result.Yes, result.No} {
		if leg.FilledSize <= 0 {
			continue
		}
		fill := domain.Fill{
			ID:       uuid.NewString(),
			OrderID:  leg.Order.ID,
			MarketID: leg.Order.MarketID,
			TokenID:  leg.Order.TokenID,
			Side:     leg.Order.Side,
			Price:    leg.AvgPrice,
			Size:     leg.FilledSize,
			FilledAt: result.CompletedAt,
		}
		if err := l.ApplyFill(ctx, fill); err != nil {
			return err
		}
	}
	return nil
}

// ApplyFill persists one fill and folds it into the market's aggregate.
func (l *Ledger) ApplyFill(ctx context.Context, fill domain.Fill) error {
	if err := l.fills.Insert(ctx, fill); err != nil {
		return fmt.Errorf("ledger: insert fill: %w", err)
	}

	l.mu.Lock()
	pos := l.applyLocked(fill)
	snapshot := *pos
	l.mu.Unlock()

	if err := l.positions.Upsert(ctx, snapshot); err != nil {
		return fmt.Errorf("ledger: upsert position: %w", err)
	}
	return nil
}

// applyLocked folds a fill into the aggregate. Caller holds l.mu.
func (l *Ledger) applyLocked(fill domain.Fill) *domain.Position {
	pos, ok := l.byMarket[fill.MarketID]
	if !ok {
		pos = &domain.Position{
			ID:       uuid.NewString(),
			MarketID: fill.MarketID,
			Status:   domain.PositionStatusOpen,
			OpenedAt: fill.FilledAt,
		}
		l.byMarket[fill.MarketID] = pos
	}
	if fill.Side == domain.TokenSideYes {
		pos.YesShares += fill.Size
	} else {
		pos.NoShares += fill.Size
	}
	pos.CostBasis += fill.Cost()
	if fill.FilledAt.Before(pos.OpenedAt) {
		pos.OpenedAt = fill.FilledAt
	}
	return pos
}

// MarkResolved settles a position at market resolution: winning shares pay
// $1.00 each, losing shares pay nothing. Returns the closed position.
func (l *Ledger) MarkResolved(ctx context.Context, marketID string, yesWon bool, at time.Time) (domain.Position, error) {
	l.mu.Lock()
	pos, ok := l.byMarket[marketID]
	if !ok {
		l.mu.Unlock()
		return domain.Position{}, fmt.Errorf("ledger: market %s: %w", marketID, domain.ErrNotFound)
	}

	payout := pos.NoShares
	if yesWon {
		payout = pos.YesShares
	}
	pos.RealizedPnL = payout - pos.CostBasis
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &at
	snapshot := *pos
	delete(l.byMarket, marketID)
	l.mu.Unlock()

	if err := l.positions.Upsert(ctx, snapshot); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: close position: %w", err)
	}

	l.logger.Info("position resolved",
		slog.String("market_id", marketID),
		slog.Bool("yes_won", yesWon),
		slog.Float64("payout", payout),
		slog.Float64("realized_pnl", snapshot.RealizedPnL))
	return snapshot, nil
}

// Position returns the open aggregate for a market.
func (l *Ledger) Position(marketID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.byMarket[marketID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Open returns all open positions.
func (l *Ledger) Open() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.byMarket))
	for _, p := range l.byMarket {
		out = append(out, *p)
	}
	return out
}
