package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
	"github.com/pairarb/pairarb/internal/platform/polymarket"
)

// TradeSink receives last-trade prints for the rolling market statistics.
type TradeSink func(domain.TradePrint)

// Pool runs one WebSocket connection per catalog shard. Each connection
// subscribes to its shard's token IDs and pushes decoded updates into the
// hub. When the registry reassigns shards, the pool tears down all
// connections and dials fresh ones; the server resends full book snapshots
// on subscribe, so no state is lost.
type Pool struct {
	wsURL   string
	hub     *Hub
	onTrade TradeSink
	logger  *slog.Logger

	mu     sync.Mutex
	stop   context.CancelFunc
	wg     sync.WaitGroup
	assign chan [][]string
}

// NewPool creates a Pool. onTrade may be nil.
func NewPool(wsURL string, hub *Hub, onTrade TradeSink, logger *slog.Logger) *Pool {
	return &Pool{
		wsURL:   wsURL,
		hub:     hub,
		onTrade: onTrade,
		logger:  logger.With(slog.String("component", "feed_pool")),
		assign:  make(chan [][]string, 1),
	}
}

// Assign hands the pool a new shard layout. Safe to call from the registry's
// refresh goroutine; a pending unconsumed layout is replaced.
func (p *Pool) Assign(shards [][]string) {
	for {
		select {
		case p.assign <- shards:
			return
		case <-p.assign:
		}
	}
}

// Run applies shard assignments until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	defer p.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case shards := <-p.assign:
			p.restart(ctx, shards)
		}
	}
}

// restart replaces the running connections with one per shard.
func (p *Pool) restart(ctx context.Context, shards [][]string) {
	p.shutdown()

	connCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.stop = cancel
	p.mu.Unlock()

	p.logger.Info("starting feed connections", slog.Int("connections", len(shards)))

	for i, shard := range shards {
		p.wg.Add(1)
		go func(idx int, assets []string) {
			defer p.wg.Done()
			p.runConnection(connCtx, idx, assets)
		}(i, shard)
	}
}

// shutdown stops all connections and waits for them to exit.
func (p *Pool) shutdown() {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	p.wg.Wait()
}

// runConnection dials, subscribes, and babysits one connection until ctx is
// cancelled, redialing with a fixed delay after failures. The WS client
// handles transient drops itself with exponential backoff; this outer loop
// only fires when connect or subscribe fails outright.
func (p *Pool) runConnection(ctx context.Context, idx int, assets []string) {
	logger := p.logger.With(slog.Int("conn", idx))
	if len(assets) == 0 {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := p.serve(ctx, assets)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("feed connection failed, redialing", slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// tradeHandler adapts the pool's sink to the WS client's handler type.
func (p *Pool) tradeHandler() polymarket.TradeHandler {
	if p.onTrade == nil {
		return nil
	}
	return polymarket.TradeHandler(p.onTrade)
}

func (p *Pool) serve(ctx context.Context, assets []string) error {
	client := polymarket.NewWSClient(p.wsURL)
	defer client.Close()

	client.OnSideUpdate(p.hub.Apply)
	if h := p.tradeHandler(); h != nil {
		client.OnTrade(h)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.Subscribe(ctx, assets); err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}
