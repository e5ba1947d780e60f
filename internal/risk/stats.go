package risk

import (
	"math"
	"sync"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

const (
	statsWindow   = 3 * time.Minute
	volumeWindow  = 60 * time.Second
	stdWindow     = 60 * time.Second
	rsiPeriod     = 8
	minStdSamples = 10
)

type pricePoint struct {
	at  time.Time
	mid float64
}

type tradePoint struct {
	at  time.Time
	usd float64
}

type series struct {
	prices []pricePoint // pruned to statsWindow
	trades []tradePoint // pruned to volumeWindow
}

// Tracker keeps rolling per-market statistics for the pre-trade filters:
// 1-minute volatility, 3-minute z-score, RSI, and 60-second traded volume.
// Inputs arrive from the feed hub (mid prices) and the trade stream.
type Tracker struct {
	mu     sync.Mutex
	series map[string]*series
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{series: make(map[string]*series)}
}

// RecordMid appends a YES-side mid price sample for the market.
func (t *Tracker) RecordMid(marketID string, mid float64, at time.Time) {
	if mid <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(marketID)
	s.prices = append(s.prices, pricePoint{at: at, mid: mid})
	prunePrices(s, at)
}

// ObserveBook derives the YES mid from a merged snapshot. Intended as the
// hub's OnApply hook.
func (t *Tracker) ObserveBook(marketID string, snap domain.BookSnapshot) {
	if snap.YesBid.Price <= 0 || snap.YesAsk.Price <= 0 {
		return
	}
	mid := (snap.YesBid.Price + snap.YesAsk.Price) / 2
	t.RecordMid(marketID, mid, snap.UpdatedAt)
}

// RecordTrade accumulates USD volume from one trade print.
func (t *Tracker) RecordTrade(marketID string, print domain.TradePrint) {
	usd := print.Price * print.Size
	if usd <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.get(marketID)
	s.trades = append(s.trades, tradePoint{at: print.Timestamp, usd: usd})
	pruneTrades(s, print.Timestamp)
}

// Stats computes the current rolling statistics for a market. The bool is
// false when no samples exist at all.
func (t *Tracker) Stats(marketID string, now time.Time) (domain.MarketStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.series[marketID]
	if !ok {
		return domain.MarketStats{}, false
	}
	prunePrices(s, now)
	pruneTrades(s, now)

	stats := domain.MarketStats{
		Samples:     len(s.prices),
		LastUpdated: now,
	}

	for _, tr := range s.trades {
		stats.Volume60s += tr.usd
	}

	if len(s.prices) == 0 {
		return stats, true
	}

	// 1-minute standard deviation.
	var recent []float64
	cutoff := now.Add(-stdWindow)
	for _, p := range s.prices {
		if !p.at.Before(cutoff) {
			recent = append(recent, p.mid)
		}
	}
	if len(recent) >= minStdSamples {
		stats.Std1Min = stddev(recent)
	}

	// 3-minute z-score of the latest mid.
	all := make([]float64, len(s.prices))
	for i, p := range s.prices {
		all[i] = p.mid
	}
	if len(all) >= minStdSamples {
		mean := mean(all)
		sd := stddev(all)
		if sd > 0 {
			stats.ZScore3Min = (all[len(all)-1] - mean) / sd
		}
	}

	// RSI over the last rsiPeriod moves.
	if len(all) > rsiPeriod {
		stats.RSI8 = rsi(all[len(all)-rsiPeriod-1:])
	}

	return stats, true
}

func (t *Tracker) get(marketID string) *series {
	s, ok := t.series[marketID]
	if !ok {
		s = &series{}
		t.series[marketID] = s
	}
	return s
}

// Prints can arrive out of order, so pruning filters the whole slice
// rather than trimming a sorted prefix. The cutoff is anchored at the
// newest sample held so a late straggler can never un-expire anything.

func prunePrices(s *series, now time.Time) {
	cutoff := newestPrice(s, now).Add(-statsWindow)
	kept := s.prices[:0]
	for _, p := range s.prices {
		if !p.at.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	s.prices = kept
}

func pruneTrades(s *series, now time.Time) {
	cutoff := newestTrade(s, now).Add(-volumeWindow)
	kept := s.trades[:0]
	for _, tr := range s.trades {
		if !tr.at.Before(cutoff) {
			kept = append(kept, tr)
		}
	}
	s.trades = kept
}

func newestPrice(s *series, now time.Time) time.Time {
	for _, p := range s.prices {
		if p.at.After(now) {
			now = p.at
		}
	}
	return now
}

func newestTrade(s *series, now time.Time) time.Time {
	for _, tr := range s.trades {
		if tr.at.After(now) {
			now = tr.at
		}
	}
	return now
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// rsi computes the relative strength index over the moves between
// consecutive samples. 100 for all-gains, 0 for all-losses, 50 when flat.
func rsi(xs []float64) float64 {
	var gains, losses float64
	for i := 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if gains+losses == 0 {
		return 50
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
