package domain

import "time"

// Quote is a single side of book top: best price and the size resting there.
type Quote struct {
	Price float64
	Size  float64
}

// BookSnapshot is the consolidated top-of-book for one market: best bid/ask
// for both outcome tokens plus the ordering metadata the hub uses to reject
// out-of-order updates. Owned by the feed hub; readers always receive a value
// copy, never a shared pointer.
type BookSnapshot struct {
	MarketID  string
	YesBid    Quote
	YesAsk    Quote
	NoBid     Quote
	NoAsk     Quote
	Seq       int64 // monotonic per market, exchange timestamp in ms
	UpdatedAt time.Time
}

// Stale reports whether the snapshot is older than the given window at time
// now. A zero UpdatedAt (no data received yet) is always stale.
func (b BookSnapshot) Stale(now time.Time, window time.Duration) bool {
	if b.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(b.UpdatedAt) > window
}

// CombinedAsk returns yesAsk + noAsk, or 0 when either side has no ask.
func (b BookSnapshot) CombinedAsk() float64 {
	if b.YesAsk.Price <= 0 || b.NoAsk.Price <= 0 {
		return 0
	}
	return b.YesAsk.Price + b.NoAsk.Price
}

// SideUpdate is one token's book top as decoded from a feed message, before
// the hub merges it into the market snapshot.
type SideUpdate struct {
	TokenID   string
	BestBid   Quote
	BestAsk   Quote
	Seq       int64
	Timestamp time.Time
}

// TradePrint is one observed trade on a token, used for rolling volume and
// momentum statistics.
type TradePrint struct {
	TokenID   string
	Price     float64
	Size      float64
	Timestamp time.Time
}
