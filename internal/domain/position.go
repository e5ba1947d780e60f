package domain

import "time"

// Fill is one observed execution against our orders. Fills are append-only;
// positions are aggregates recomputable from the fill history at any time.
type Fill struct {
	ID       string
	OrderID  string
	MarketID string
	TokenID  string
	Side     TokenSide
	Price    float64
	Size     float64
	FilledAt time.Time
}

// Cost returns the USD cost of the fill.
func (f Fill) Cost() float64 {
	return f.Price * f.Size
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is the per-market aggregate of all fills: net exposure on each
// outcome token, cost basis, and realized P&L once the market resolves or the
// position is fully offset.
type Position struct {
	ID          string
	MarketID    string
	YesShares   float64
	NoShares    float64
	CostBasis   float64 // total USD paid across all fills
	RealizedPnL float64
	Status      PositionStatus
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// Hedged reports whether YES and NO exposure match, i.e. the payout at
// resolution is size x $1.00 regardless of outcome.
func (p Position) Hedged() bool {
	return p.YesShares == p.NoShares
}

// LockedPnL is the guaranteed profit for a fully hedged position: the matched
// share count pays $1.00 each at resolution against the cost basis of those
// shares. Returns 0 for unhedged positions, whose P&L depends on the outcome.
func (p Position) LockedPnL() float64 {
	if !p.Hedged() || p.YesShares == 0 {
		return 0
	}
	return p.YesShares - p.CostBasis
}
