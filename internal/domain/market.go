package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Market is a binary-outcome Polymarket prediction market. The catalog is
// refreshed periodically by the registry and is immutable during a trading
// decision.
type Market struct {
	ID           string
	Question     string
	Slug         string
	ConditionID  string
	YesTokenID   string // ERC-1155 token ID (76-digit string)
	NoTokenID    string
	LiquidityUSD float64
	Volume24hUSD float64
	EndDate      time.Time
	NegRisk      bool
	Status       MarketStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SecondsToResolution returns the number of seconds until the market's end
// date, negative when the market has already passed it.
func (m Market) SecondsToResolution(now time.Time) float64 {
	return m.EndDate.Sub(now).Seconds()
}

// Active reports whether the market is currently tradeable.
func (m Market) Active() bool {
	return m.Status == MarketStatusActive
}

// TokenSide identifies which leg of a binary market a token represents.
type TokenSide string

const (
	TokenSideYes TokenSide = "yes"
	TokenSideNo  TokenSide = "no"
)

// TokenRef resolves a token ID back to its market and side. The registry
// maintains this index for the feed hub.
type TokenRef struct {
	MarketID string
	Side     TokenSide
}
