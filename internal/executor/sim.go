package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairarb/pairarb/internal/domain"
)

// BookSource supplies fresh snapshots for simulated matching.
type BookSource interface {
	Fresh(marketID string, now time.Time) (domain.BookSnapshot, bool)
}

// TokenResolver maps token IDs back to markets.
type TokenResolver interface {
	Lookup(tokenID string) (domain.Market, domain.TokenSide, bool)
}

type simOrder struct {
	order  domain.Order
	status domain.OrderStatus
	filled float64
	price  float64
}

// SimGateway is the dry-run exchange: it matches orders against the local
// consolidated book at placement time. An order crossing the current ask
// fills immediately up to the resting size; anything else rests until
// cancelled. No wallet, signature, or network is involved.
type SimGateway struct {
	books    BookSource
	resolver TokenResolver

	mu     sync.Mutex
	orders map[string]*simOrder
}

// NewSimGateway creates a SimGateway.
func NewSimGateway(books BookSource, resolver TokenResolver) *SimGateway {
	return &SimGateway{
		books:    books,
		resolver: resolver,
		orders:   make(map[string]*simOrder),
	}
}

var _ Gateway = (*SimGateway)(nil)

// PlaceOrder matches the order against the current book.
func (g *SimGateway) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	id := uuid.NewString()

	so := &simOrder{order: order, status: domain.OrderStatusOpen}

	market, side, ok := g.resolver.Lookup(order.TokenID)
	if ok {
		if snap, fresh := g.books.Fresh(market.ID, time.Now()); fresh {
			ask := snap.YesAsk
			if side == domain.TokenSideNo {
				ask = snap.NoAsk
			}
			if ask.Price > 0 && order.Price >= ask.Price {
				so.filled = order.Size
				if ask.Size > 0 && ask.Size < order.Size {
					so.filled = ask.Size
				}
				so.price = ask.Price
				if so.filled >= order.Size {
					so.status = domain.OrderStatusFilled
				} else {
					so.status = domain.OrderStatusPartial
				}
			}
		}
	}

	g.mu.Lock()
	g.orders[id] = so
	g.mu.Unlock()

	return domain.OrderResult{
		OrderID:     id,
		Status:      so.status,
		FilledSize:  so.filled,
		FilledPrice: so.price,
	}, nil
}

// CancelOrder marks a resting order cancelled. Partially filled orders keep
// their fills.
func (g *SimGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	so, ok := g.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if !so.status.Terminal() {
		so.status = domain.OrderStatusCancelled
	}
	return nil
}

// OrderStatus returns the simulated fill state.
func (g *SimGateway) OrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	so, ok := g.orders[orderID]
	if !ok {
		return domain.OrderResult{}, domain.ErrNotFound
	}
	return domain.OrderResult{
		OrderID:     orderID,
		Status:      so.status,
		FilledSize:  so.filled,
		FilledPrice: so.price,
	}, nil
}
