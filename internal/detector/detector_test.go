package detector

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

type fakeBooks struct {
	snaps   map[string]domain.BookSnapshot
	updates chan string
}

func (b *fakeBooks) Fresh(marketID string, now time.Time) (domain.BookSnapshot, bool) {
	snap, ok := b.snaps[marketID]
	if !ok || snap.Stale(now, 5*time.Second) {
		return domain.BookSnapshot{}, false
	}
	return snap, true
}

func (b *fakeBooks) Updates() <-chan string { return b.updates }

func (b *fakeBooks) MarketIDs() []string {
	ids := make([]string, 0, len(b.snaps))
	for id := range b.snaps {
		ids = append(ids, id)
	}
	return ids
}

type fakeMarkets map[string]domain.Market

func (m fakeMarkets) Market(id string) (domain.Market, bool) {
	market, ok := m[id]
	return market, ok
}

type fakeInFlight map[string]bool

func (f fakeInFlight) InFlight(marketID string) bool { return f[marketID] }

func bookAt(marketID string, yesAsk, noAsk float64, at time.Time) domain.BookSnapshot {
	return domain.BookSnapshot{
		MarketID:  marketID,
		YesAsk:    domain.Quote{Price: yesAsk, Size: 200},
		NoAsk:     domain.Quote{Price: noAsk, Size: 200},
		UpdatedAt: at,
	}
}

func newTestDetector(threshold float64, cooldown time.Duration) *Detector {
	markets := fakeMarkets{
		"m1": {ID: "m1", YesTokenID: "yes-1", NoTokenID: "no-1"},
	}
	books := &fakeBooks{snaps: map[string]domain.BookSnapshot{}, updates: make(chan string, 8)}
	return New(books, markets, fakeInFlight{}, Options{
		MinProfitThreshold: threshold,
		Cooldown:           cooldown,
	}, slog.Default())
}

func TestScanEmitsDutchBook(t *testing.T) {
	d := newTestDetector(0.005, 0)
	now := time.Now()

	opp, ok := d.Scan("m1", bookAt("m1", 0.45, 0.50, now), now)
	if !ok {
		t.Fatalf("expected opportunity at combined 0.95")
	}
	if opp.CombinedCost != 0.95 {
		t.Fatalf("combined = %v, want 0.95", opp.CombinedCost)
	}
	wantProfit := (1.0 - 0.95) / 0.95
	if math.Abs(opp.ProfitFrac-wantProfit) > 1e-12 {
		t.Fatalf("profit = %v, want %v", opp.ProfitFrac, wantProfit)
	}
	if opp.YesTokenID != "yes-1" || opp.NoTokenID != "no-1" {
		t.Fatalf("token IDs not carried from market: %+v", opp)
	}
}

func TestScanThresholdIsStrict(t *testing.T) {
	// combined = 0.5 leaves an exact margin of 0.5; a threshold of exactly
	// 0.5 must not emit, anything below it must.
	now := time.Now()
	snap := bookAt("m1", 0.25, 0.25, now)

	d := newTestDetector(0.5, 0)
	if _, ok := d.Scan("m1", snap, now); ok {
		t.Fatalf("margin exactly at threshold must not emit")
	}

	d = newTestDetector(0.25, 0)
	if _, ok := d.Scan("m1", snap, now); !ok {
		t.Fatalf("margin above threshold must emit")
	}
}

func TestScanThresholdGatesOnMarginNotRatio(t *testing.T) {
	// Asks summing to 0.9375 leave a margin of exactly 0.0625 (both exact
	// binary fractions). The return on cost (0.0625/0.9375 = 0.0667) sits
	// above the threshold, so a ratio gate would emit here; the margin gate
	// must not.
	now := time.Now()
	snap := bookAt("m1", 0.4375, 0.5, now)

	d := newTestDetector(0.0625, 0)
	if opp, ok := d.Scan("m1", snap, now); ok {
		t.Fatalf("combined cost at 1 - threshold emitted %+v", opp)
	}

	snap = bookAt("m1", 0.4375, 0.484375, now)
	if _, ok := d.Scan("m1", snap, now); !ok {
		t.Fatalf("margin strictly above threshold must emit")
	}
}

func TestScanRejectsFairAndInvalidBooks(t *testing.T) {
	d := newTestDetector(0.005, 0)
	now := time.Now()

	cases := []struct {
		name string
		snap domain.BookSnapshot
	}{
		{"combined above one", bookAt("m1", 0.60, 0.55, now)},
		{"combined exactly one", bookAt("m1", 0.50, 0.50, now)},
		{"missing no ask", bookAt("m1", 0.45, 0, now)},
		{"missing yes ask", bookAt("m1", 0, 0.45, now)},
	}
	for _, tc := range cases {
		if _, ok := d.Scan("m1", tc.snap, now); ok {
			t.Fatalf("%s: expected no opportunity", tc.name)
		}
	}
}

func TestScanRequiresAskSize(t *testing.T) {
	d := newTestDetector(0.005, 0)
	now := time.Now()

	snap := bookAt("m1", 0.45, 0.50, now)
	snap.YesAsk.Size = 0
	if _, ok := d.Scan("m1", snap, now); ok {
		t.Fatalf("zero yes ask size must not emit")
	}
}

func TestCheckSkipsInFlightMarkets(t *testing.T) {
	d := newTestDetector(0.005, 0)
	d.inFlight = fakeInFlight{"m1": true}
	books := d.books.(*fakeBooks)
	books.snaps["m1"] = bookAt("m1", 0.45, 0.50, time.Now())

	d.check(t.Context(), "m1", time.Now())

	select {
	case opp := <-d.Opportunities():
		t.Fatalf("in-flight market emitted %+v", opp)
	default:
	}
}

func TestCheckHonorsCooldown(t *testing.T) {
	d := newTestDetector(0.005, 2*time.Second)
	books := d.books.(*fakeBooks)
	books.snaps["m1"] = bookAt("m1", 0.45, 0.50, time.Now())

	now := time.Now()
	d.check(t.Context(), "m1", now)
	d.check(t.Context(), "m1", now.Add(time.Second)) // inside cooldown
	d.check(t.Context(), "m1", now.Add(3*time.Second))

	var got int
	for {
		select {
		case <-d.Opportunities():
			got++
			continue
		default:
		}
		break
	}
	if got != 2 {
		t.Fatalf("emitted %d opportunities, want 2", got)
	}
}

func TestCheckIgnoresStaleBooks(t *testing.T) {
	d := newTestDetector(0.005, 0)
	books := d.books.(*fakeBooks)
	books.snaps["m1"] = bookAt("m1", 0.45, 0.50, time.Now().Add(-time.Minute))

	d.check(t.Context(), "m1", time.Now())

	select {
	case opp := <-d.Opportunities():
		t.Fatalf("stale book emitted %+v", opp)
	default:
	}
}
