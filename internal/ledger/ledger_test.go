package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memFillStore struct {
	mu    sync.Mutex
	fills []domain.Fill
}

func (s *memFillStore) Insert(ctx context.Context, fill domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, fill)
	return nil
}

func (s *memFillStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.MarketID == marketID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memFillStore) ListAll(ctx context.Context, opts domain.ListOpts) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Fill, len(s.fills))
	copy(out, s.fills)
	return out, nil
}

type memPositionStore struct {
	mu       sync.Mutex
	byMarket map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{byMarket: make(map[string]domain.Position)}
}

func (s *memPositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMarket[pos.MarketID] = pos
	return nil
}

func (s *memPositionStore) GetByMarket(ctx context.Context, marketID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byMarket[marketID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.listByStatus(domain.PositionStatusOpen), nil
}

func (s *memPositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.listByStatus(domain.PositionStatusClosed), nil
}

func (s *memPositionStore) listByStatus(status domain.PositionStatus) []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.byMarket {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

func (s *memPositionStore) SumRealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, p := range s.byMarket {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			sum += p.RealizedPnL
		}
	}
	return sum, nil
}

func fillAt(marketID string, side domain.TokenSide, price, size float64, at time.Time) domain.Fill {
	return domain.Fill{
		ID:       marketID + "-" + string(side) + at.Format("150405.000"),
		OrderID:  "ord-" + string(side),
		MarketID: marketID,
		TokenID:  "tok-" + string(side),
		Side:     side,
		Price:    price,
		Size:     size,
		FilledAt: at,
	}
}

func bothFilledResult(marketID string, shares float64) domain.ExecutionResult {
	now := time.Now()
	return domain.ExecutionResult{
		Outcome: domain.OutcomeBothFilled,
		Yes: domain.LegResult{
			Order:      domain.Order{ID: "ord-yes", MarketID: marketID, TokenID: "tok-yes", Side: domain.TokenSideYes},
			Filled:     true,
			FilledSize: shares,
			AvgPrice:   0.45,
		},
		No: domain.LegResult{
			Order:      domain.Order{ID: "ord-no", MarketID: marketID, TokenID: "tok-no", Side: domain.TokenSideNo},
			Filled:     true,
			FilledSize: shares,
			AvgPrice:   0.50,
		},
		CompletedAt: now,
	}
}

func TestRecordBothLegs(t *testing.T) {
	fills := &memFillStore{}
	positions := newMemPositionStore()
	l := New(fills, positions, testLogger())

	if err := l.Record(context.Background(), bothFilledResult("mkt-1", 100)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(fills.fills) != 2 {
		t.Fatalf("recorded %d fills, want 2", len(fills.fills))
	}
	pos, ok := l.Position("mkt-1")
	if !ok {
		t.Fatal("no aggregate for mkt-1")
	}
	if pos.YesShares != 100 || pos.NoShares != 100 {
		t.Fatalf("shares yes=%f no=%f, want 100/100", pos.YesShares, pos.NoShares)
	}
	if math.Abs(pos.CostBasis-95) > 1e-9 {
		t.Fatalf("cost basis = %f, want 95", pos.CostBasis)
	}
	if !pos.Hedged() {
		t.Fatal("equal fills not hedged")
	}
	if math.Abs(pos.LockedPnL()-5) > 1e-9 {
		t.Fatalf("locked pnl = %f, want 5", pos.LockedPnL())
	}

	stored, err := positions.GetByMarket(context.Background(), "mkt-1")
	if err != nil {
		t.Fatalf("position not persisted: %v", err)
	}
	if stored.Status != domain.PositionStatusOpen {
		t.Fatalf("persisted status = %s", stored.Status)
	}
}

func TestRecordSkipsEmptyLeg(t *testing.T) {
	fills := &memFillStore{}
	l := New(fills, newMemPositionStore(), testLogger())

	result := bothFilledResult("mkt-1", 100)
	result.No.FilledSize = 0
	result.Outcome = domain.OutcomePartialFill
	result.Unhedged = true

	if err := l.Record(context.Background(), result); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(fills.fills) != 1 {
		t.Fatalf("recorded %d fills, want only the filled leg", len(fills.fills))
	}
	pos, _ := l.Position("mkt-1")
	if pos.Hedged() {
		t.Fatal("one-sided position reported hedged")
	}
}

func TestApplyFillAggregates(t *testing.T) {
	l := New(&memFillStore{}, newMemPositionStore(), testLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, f := range []domain.Fill{
		fillAt("mkt-1", domain.TokenSideYes, 0.45, 60, base.Add(time.Minute)),
		fillAt("mkt-1", domain.TokenSideYes, 0.46, 40, base.Add(2*time.Minute)),
		fillAt("mkt-1", domain.TokenSideNo, 0.50, 100, base),
	} {
		if err := l.ApplyFill(context.Background(), f); err != nil {
			t.Fatalf("ApplyFill: %v", err)
		}
	}

	pos, ok := l.Position("mkt-1")
	if !ok {
		t.Fatal("no aggregate")
	}
	if pos.YesShares != 100 || pos.NoShares != 100 {
		t.Fatalf("shares yes=%f no=%f", pos.YesShares, pos.NoShares)
	}
	wantCost := 0.45*60 + 0.46*40 + 0.50*100
	if math.Abs(pos.CostBasis-wantCost) > 1e-9 {
		t.Fatalf("cost basis = %f, want %f", pos.CostBasis, wantCost)
	}
	if !pos.OpenedAt.Equal(base) {
		t.Fatalf("OpenedAt = %v, want earliest fill %v", pos.OpenedAt, base)
	}
}

func TestReplaySkipsClosedMarkets(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fills := &memFillStore{fills: []domain.Fill{
		fillAt("mkt-open", domain.TokenSideYes, 0.45, 100, base),
		fillAt("mkt-open", domain.TokenSideNo, 0.50, 100, base),
		fillAt("mkt-done", domain.TokenSideYes, 0.30, 50, base),
	}}
	positions := newMemPositionStore()
	closedAt := base.Add(time.Hour)
	positions.byMarket["mkt-done"] = domain.Position{
		ID:          "pos-done",
		MarketID:    "mkt-done",
		YesShares:   50,
		CostBasis:   15,
		RealizedPnL: 35,
		Status:      domain.PositionStatusClosed,
		ClosedAt:    &closedAt,
	}

	l := New(fills, positions, testLogger())
	if err := l.Replay(context.Background()); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if _, ok := l.Position("mkt-done"); ok {
		t.Fatal("closed market rebuilt as open")
	}
	pos, ok := l.Position("mkt-open")
	if !ok {
		t.Fatal("open market not rebuilt")
	}
	if pos.YesShares != 100 || pos.NoShares != 100 {
		t.Fatalf("rebuilt shares yes=%f no=%f", pos.YesShares, pos.NoShares)
	}

	// Replays are idempotent: state is rebuilt from scratch each time.
	if err := l.Replay(context.Background()); err != nil {
		t.Fatalf("second Replay: %v", err)
	}
	pos, _ = l.Position("mkt-open")
	if pos.YesShares != 100 {
		t.Fatalf("second replay doubled shares: %f", pos.YesShares)
	}
	if done, err := positions.GetByMarket(context.Background(), "mkt-done"); err != nil || done.RealizedPnL != 35 {
		t.Fatalf("closed position disturbed: %+v, %v", done, err)
	}
}

func TestMarkResolved(t *testing.T) {
	positions := newMemPositionStore()
	l := New(&memFillStore{}, positions, testLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Unhedged exposure: 100 YES, 40 NO, cost 65.
	for _, f := range []domain.Fill{
		fillAt("mkt-1", domain.TokenSideYes, 0.45, 100, base),
		fillAt("mkt-1", domain.TokenSideNo, 0.50, 40, base),
	} {
		if err := l.ApplyFill(context.Background(), f); err != nil {
			t.Fatalf("ApplyFill: %v", err)
		}
	}

	resolvedAt := base.Add(24 * time.Hour)
	settled, err := l.MarkResolved(context.Background(), "mkt-1", true, resolvedAt)
	if err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	// YES won: 100 shares pay $1 against $65 cost.
	if math.Abs(settled.RealizedPnL-35) > 1e-9 {
		t.Fatalf("realized pnl = %f, want 35", settled.RealizedPnL)
	}
	if settled.Status != domain.PositionStatusClosed || settled.ClosedAt == nil {
		t.Fatalf("settled position not closed: %+v", settled)
	}
	if _, ok := l.Position("mkt-1"); ok {
		t.Fatal("resolved market still open in ledger")
	}
	if len(l.Open()) != 0 {
		t.Fatalf("Open() returned %d positions", len(l.Open()))
	}

	stored, err := positions.GetByMarket(context.Background(), "mkt-1")
	if err != nil || stored.Status != domain.PositionStatusClosed {
		t.Fatalf("closed position not persisted: %+v, %v", stored, err)
	}
}

func TestMarkResolvedNoWins(t *testing.T) {
	l := New(&memFillStore{}, newMemPositionStore(), testLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := l.ApplyFill(context.Background(), fillAt("mkt-1", domain.TokenSideYes, 0.45, 100, base)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	settled, err := l.MarkResolved(context.Background(), "mkt-1", false, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}
	// All YES, NO won: total loss of the cost basis.
	if math.Abs(settled.RealizedPnL-(-45)) > 1e-9 {
		t.Fatalf("realized pnl = %f, want -45", settled.RealizedPnL)
	}
}

func TestMarkResolvedUnknownMarket(t *testing.T) {
	l := New(&memFillStore{}, newMemPositionStore(), testLogger())
	if _, err := l.MarkResolved(context.Background(), "nope", true, time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkResolved unknown market: %v", err)
	}
}

type fakeResolutionSource struct {
	byMarket map[string]Resolution
}

func (f *fakeResolutionSource) Resolution(ctx context.Context, marketID string) (Resolution, error) {
	res, ok := f.byMarket[marketID]
	if !ok {
		return Resolution{}, domain.ErrNotFound
	}
	return res, nil
}

func TestWatcherSettlesResolvedPositions(t *testing.T) {
	l := New(&memFillStore{}, newMemPositionStore(), testLogger())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// mkt-hedged is fully hedged, mkt-lopsided is not, mkt-live stays open.
	for _, f := range []domain.Fill{
		fillAt("mkt-hedged", domain.TokenSideYes, 0.45, 100, base),
		fillAt("mkt-hedged", domain.TokenSideNo, 0.50, 100, base),
		fillAt("mkt-lopsided", domain.TokenSideYes, 0.45, 100, base),
		fillAt("mkt-live", domain.TokenSideYes, 0.45, 10, base),
	} {
		if err := l.ApplyFill(context.Background(), f); err != nil {
			t.Fatalf("ApplyFill: %v", err)
		}
	}

	source := &fakeResolutionSource{byMarket: map[string]Resolution{
		"mkt-hedged":   {Closed: true, YesWon: true},
		"mkt-lopsided": {Closed: true, YesWon: false},
		"mkt-live":     {Closed: false},
	}}
	w := NewWatcher(l, source, time.Minute, testLogger())

	type settlement struct {
		pos       domain.Position
		wasHedged bool
	}
	settled := make(map[string]settlement)
	w.OnResolved = func(pos domain.Position, wasHedged bool) {
		settled[pos.MarketID] = settlement{pos, wasHedged}
	}

	w.sweep(context.Background())

	if len(settled) != 2 {
		t.Fatalf("settled %d positions, want 2", len(settled))
	}
	hedged, ok := settled["mkt-hedged"]
	if !ok || !hedged.wasHedged {
		t.Fatalf("hedged settlement missing or misflagged: %+v", hedged)
	}
	if math.Abs(hedged.pos.RealizedPnL-5) > 1e-9 {
		t.Fatalf("hedged pnl = %f, want 5", hedged.pos.RealizedPnL)
	}
	lopsided, ok := settled["mkt-lopsided"]
	if !ok || lopsided.wasHedged {
		t.Fatalf("lopsided settlement missing or misflagged: %+v", lopsided)
	}
	if math.Abs(lopsided.pos.RealizedPnL-(-45)) > 1e-9 {
		t.Fatalf("lopsided pnl = %f, want -45", lopsided.pos.RealizedPnL)
	}
	if _, ok := l.Position("mkt-live"); !ok {
		t.Fatal("unresolved market was settled")
	}
}
