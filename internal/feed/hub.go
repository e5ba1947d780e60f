// Package feed consolidates real-time market data from the WebSocket
// connection pool into per-market top-of-book snapshots.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

// Resolver maps a token ID to its market and side. The registry's current
// snapshot satisfies this.
type Resolver interface {
	Lookup(tokenID string) (domain.Market, domain.TokenSide, bool)
}

// slot holds the live snapshot for one market. Each token is written by
// exactly one connection, so the per-side sequence check needs no CAS loop;
// readers always load a complete immutable snapshot value.
type slot struct {
	snap   atomic.Pointer[domain.BookSnapshot]
	yesSeq atomic.Int64
	noSeq  atomic.Int64
	mu     sync.Mutex // serializes merges of the two sides
}

// Hub owns the consolidated book state. Connections push SideUpdates in,
// the detector reads snapshots out and drains the update channel.
type Hub struct {
	resolver  Resolver
	publisher domain.BookPublisher // optional
	logger    *slog.Logger

	staleness time.Duration

	mu    sync.RWMutex
	slots map[string]*slot

	updates chan string // market IDs with fresh data
	dropped atomic.Int64

	lastPublish time.Time

	// OnApply, when set before the pool starts, observes every merged
	// snapshot. Used to feed the rolling market statistics.
	OnApply func(marketID string, snap domain.BookSnapshot)
}

// NewHub creates a Hub. publisher may be nil.
func NewHub(resolver Resolver, publisher domain.BookPublisher, staleness time.Duration, buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Hub{
		resolver:  resolver,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "feed_hub")),
		staleness: staleness,
		slots:     make(map[string]*slot),
		updates:   make(chan string, buffer),
	}
}

// SetMarkets installs the market set for the given IDs, carrying over
// existing snapshots for markets that remain and dropping the rest.
func (h *Hub) SetMarkets(marketIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := make(map[string]*slot, len(marketIDs))
	for _, id := range marketIDs {
		if s, ok := h.slots[id]; ok {
			next[id] = s
		} else {
			next[id] = &slot{}
		}
	}
	h.slots = next
}

// Apply merges one token's top of book into its market snapshot. Updates
// older than what the slot already holds for that side are rejected.
func (h *Hub) Apply(update domain.SideUpdate) {
	market, side, ok := h.resolver.Lookup(update.TokenID)
	if !ok {
		return // token left the catalog between subscribe and now
	}

	h.mu.RLock()
	s, ok := h.slots[market.ID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	seq := &s.yesSeq
	if side == domain.TokenSideNo {
		seq = &s.noSeq
	}
	if prev := seq.Load(); prev != 0 && update.Seq <= prev {
		return // out of order or duplicate
	}
	seq.Store(update.Seq)

	s.mu.Lock()
	next := domain.BookSnapshot{MarketID: market.ID}
	if cur := s.snap.Load(); cur != nil {
		next = *cur
	}
	if side == domain.TokenSideYes {
		next.YesBid = mergeQuote(next.YesBid, update.BestBid)
		next.YesAsk = mergeQuote(next.YesAsk, update.BestAsk)
	} else {
		next.NoBid = mergeQuote(next.NoBid, update.BestBid)
		next.NoAsk = mergeQuote(next.NoAsk, update.BestAsk)
	}
	if update.Seq > next.Seq {
		next.Seq = update.Seq
	}
	next.UpdatedAt = update.Timestamp
	if now := time.Now(); next.UpdatedAt.After(now) {
		next.UpdatedAt = now
	}
	s.snap.Store(&next)
	s.mu.Unlock()

	if h.OnApply != nil {
		h.OnApply(market.ID, next)
	}
	h.notify(market.ID)
}

// mergeQuote overlays an incoming top-of-book quote on the stored one.
// Incremental price updates carry a price but no resting size; the last
// known size is kept so a stream of price changes between full book frames
// does not blind size-gated consumers. A priceless update clears the side.
func mergeQuote(prev, next domain.Quote) domain.Quote {
	if next.Price <= 0 {
		return next
	}
	if next.Size <= 0 && prev.Size > 0 {
		next.Size = prev.Size
	}
	return next
}

// notify pushes the market ID onto the update channel without blocking the
// connection read loop. Drops are counted; the periodic sweep catches
// anything the detector missed.
func (h *Hub) notify(marketID string) {
	select {
	case h.updates <- marketID:
	default:
		h.dropped.Add(1)
	}
}

// Updates is the stream of market IDs whose snapshot just changed.
func (h *Hub) Updates() <-chan string {
	return h.updates
}

// Dropped returns the number of update notifications discarded because the
// channel was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Get returns a copy of the current snapshot for a market.
func (h *Hub) Get(marketID string) (domain.BookSnapshot, bool) {
	h.mu.RLock()
	s, ok := h.slots[marketID]
	h.mu.RUnlock()
	if !ok {
		return domain.BookSnapshot{}, false
	}
	snap := s.snap.Load()
	if snap == nil {
		return domain.BookSnapshot{}, false
	}
	return *snap, true
}

// Fresh returns the snapshot only when it is within the staleness window.
func (h *Hub) Fresh(marketID string, now time.Time) (domain.BookSnapshot, bool) {
	snap, ok := h.Get(marketID)
	if !ok || snap.Stale(now, h.staleness) {
		return domain.BookSnapshot{}, false
	}
	return snap, true
}

// MarketIDs returns the IDs of all markets the hub currently tracks.
func (h *Hub) MarketIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.slots))
	for id := range h.slots {
		ids = append(ids, id)
	}
	return ids
}

// Run publishes changed snapshots to the book publisher once per second so
// out-of-process readers see current tops without subscribing to the feed.
// Returns immediately when no publisher is configured.
func (h *Hub) Run(ctx context.Context) error {
	if h.publisher == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.publishChanged(ctx)
		}
	}
}

func (h *Hub) publishChanged(ctx context.Context) {
	since := h.lastPublish
	h.lastPublish = time.Now()

	h.mu.RLock()
	slots := make([]*slot, 0, len(h.slots))
	for _, s := range h.slots {
		slots = append(slots, s)
	}
	h.mu.RUnlock()

	for _, s := range slots {
		snap := s.snap.Load()
		if snap == nil || !snap.UpdatedAt.After(since) {
			continue
		}
		if err := h.publisher.PublishTop(ctx, *snap); err != nil {
			h.logger.Debug("publish top failed",
				slog.String("market_id", snap.MarketID),
				slog.String("error", err.Error()))
			return
		}
	}
}
