// Package registry maintains the tradeable market catalog: it polls the
// Gamma API, filters markets down to the eligible set, and exposes lookup
// indexes plus shard assignments for the feed connections.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

// Lister is the slice of the Gamma client the registry needs.
type Lister interface {
	ListActiveMarkets(ctx context.Context, limit, offset int) ([]domain.Market, error)
}

// Options tune catalog refresh and eligibility.
type Options struct {
	RefreshInterval        time.Duration
	MinLiquidityUSD        float64
	MaxDaysUntilResolution int
	PageSize               int
	MaxMarkets             int
	NumShards              int
	MarketsPerShard        int
}

// Snapshot is one immutable version of the catalog. The registry swaps in a
// new snapshot on every refresh; readers keep whatever version they grabbed.
type Snapshot struct {
	Version int64
	Markets map[string]domain.Market // by market ID
	Tokens  map[string]domain.TokenRef
	Shards  [][]string // token IDs per feed connection
	TakenAt time.Time
}

// Registry polls Gamma and keeps the current catalog snapshot. Persistence
// and cache writes are best effort; the in-memory snapshot is authoritative
// for trading decisions.
type Registry struct {
	gamma  Lister
	store  domain.MarketStore
	cache  domain.MarketCache
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	current *Snapshot
	version int64

	// onChange is invoked after each refresh that changed shard membership.
	onChange func(*Snapshot)
}

// New creates a Registry. store and cache may be nil (scan mode without
// persistence).
func New(gamma Lister, store domain.MarketStore, cache domain.MarketCache, opts Options, logger *slog.Logger) *Registry {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.MaxMarkets <= 0 {
		opts.MaxMarkets = opts.NumShards * opts.MarketsPerShard
	}
	return &Registry{
		gamma:  gamma,
		store:  store,
		cache:  cache,
		opts:   opts,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// OnChange registers the callback invoked with each new snapshot. Must be
// called before Run.
func (r *Registry) OnChange(fn func(*Snapshot)) {
	r.onChange = fn
}

// Current returns the latest snapshot, or nil before the first refresh.
func (r *Registry) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Lookup resolves a token ID to its market and side using the current
// snapshot.
func (r *Registry) Lookup(tokenID string) (domain.Market, domain.TokenSide, bool) {
	snap := r.Current()
	if snap == nil {
		return domain.Market{}, "", false
	}
	ref, ok := snap.Tokens[tokenID]
	if !ok {
		return domain.Market{}, "", false
	}
	m, ok := snap.Markets[ref.MarketID]
	return m, ref.Side, ok
}

// Market returns a market by ID from the current snapshot.
func (r *Registry) Market(id string) (domain.Market, bool) {
	snap := r.Current()
	if snap == nil {
		return domain.Market{}, false
	}
	m, ok := snap.Markets[id]
	return m, ok
}

// Run refreshes the catalog immediately and then on every tick until ctx is
// cancelled. The initial refresh must succeed; later failures keep the
// previous snapshot and are logged.
func (r *Registry) Run(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		return fmt.Errorf("registry: initial refresh: %w", err)
	}

	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("catalog refresh failed, keeping previous snapshot",
					slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh fetches all market pages, applies the eligibility filter, and
// swaps in a new snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	now := time.Now()

	var eligible []domain.Market
	for offset := 0; offset < r.opts.MaxMarkets*4; offset += r.opts.PageSize {
		page, err := r.gamma.ListActiveMarkets(ctx, r.opts.PageSize, offset)
		if err != nil {
			return err
		}
		for _, m := range page {
			if r.Eligible(m, now) {
				eligible = append(eligible, m)
			}
		}
		if len(page) < r.opts.PageSize || len(eligible) >= r.opts.MaxMarkets {
			break
		}
	}

	// Deterministic order, highest liquidity first, so the shard layout is
	// stable across refreshes with unchanged membership.
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].LiquidityUSD != eligible[j].LiquidityUSD {
			return eligible[i].LiquidityUSD > eligible[j].LiquidityUSD
		}
		return eligible[i].ID < eligible[j].ID
	})
	if len(eligible) > r.opts.MaxMarkets {
		eligible = eligible[:r.opts.MaxMarkets]
	}

	snap := r.buildSnapshot(eligible, now)

	changed := r.swap(snap)

	r.persist(ctx, eligible)

	r.logger.Info("catalog refreshed",
		slog.Int("markets", len(eligible)),
		slog.Int("shards", len(snap.Shards)),
		slog.Int64("version", snap.Version),
		slog.Bool("membership_changed", changed))

	if changed && r.onChange != nil {
		r.onChange(snap)
	}
	return nil
}

// Eligible applies the market filter: active status, binary token pair,
// order book enabled at the venue, enough liquidity, and a resolution date
// that is in the future but inside the allowed horizon.
func (r *Registry) Eligible(m domain.Market, now time.Time) bool {
	if !m.Active() {
		return false
	}
	if m.YesTokenID == "" || m.NoTokenID == "" {
		return false
	}
	if m.LiquidityUSD < r.opts.MinLiquidityUSD {
		return false
	}
	if m.EndDate.IsZero() || !m.EndDate.After(now) {
		return false
	}
	horizon := time.Duration(r.opts.MaxDaysUntilResolution) * 24 * time.Hour
	return m.EndDate.Sub(now) <= horizon
}

func (r *Registry) buildSnapshot(markets []domain.Market, now time.Time) *Snapshot {
	r.mu.Lock()
	r.version++
	version := r.version
	r.mu.Unlock()

	snap := &Snapshot{
		Version: version,
		Markets: make(map[string]domain.Market, len(markets)),
		Tokens:  make(map[string]domain.TokenRef, len(markets)*2),
		TakenAt: now,
	}

	perShard := r.opts.MarketsPerShard
	if perShard <= 0 {
		perShard = 250
	}

	var shard []string
	for _, m := range markets {
		snap.Markets[m.ID] = m
		snap.Tokens[m.YesTokenID] = domain.TokenRef{MarketID: m.ID, Side: domain.TokenSideYes}
		snap.Tokens[m.NoTokenID] = domain.TokenRef{MarketID: m.ID, Side: domain.TokenSideNo}

		shard = append(shard, m.YesTokenID, m.NoTokenID)
		if len(shard) >= perShard*2 {
			snap.Shards = append(snap.Shards, shard)
			shard = nil
		}
	}
	if len(shard) > 0 {
		snap.Shards = append(snap.Shards, shard)
	}
	return snap
}

// swap installs the new snapshot and reports whether shard membership
// differs from the previous one.
func (r *Registry) swap(snap *Snapshot) bool {
	r.mu.Lock()
	prev := r.current
	r.current = snap
	r.mu.Unlock()

	if prev == nil {
		return true
	}
	if len(prev.Markets) != len(snap.Markets) {
		return true
	}
	for id := range snap.Markets {
		if _, ok := prev.Markets[id]; !ok {
			return true
		}
	}
	return false
}

// persist writes the catalog to Postgres and Redis. Failures are logged,
// never fatal: the snapshot already serves reads.
func (r *Registry) persist(ctx context.Context, markets []domain.Market) {
	if r.store != nil {
		if err := r.store.UpsertBatch(ctx, markets); err != nil {
			r.logger.Warn("market store upsert failed", slog.String("error", err.Error()))
		}
	}
	if r.cache != nil {
		for _, m := range markets {
			if err := r.cache.Set(ctx, m); err != nil {
				r.logger.Warn("market cache set failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()))
				break
			}
		}
	}
}
