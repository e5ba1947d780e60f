package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pairarb/pairarb/internal/domain"
)

type simResolver struct{}

func (simResolver) Lookup(tokenID string) (domain.Market, domain.TokenSide, bool) {
	m := domain.Market{ID: "mkt-1", YesTokenID: "yes-tok", NoTokenID: "no-tok"}
	switch tokenID {
	case "yes-tok":
		return m, domain.TokenSideYes, true
	case "no-tok":
		return m, domain.TokenSideNo, true
	}
	return domain.Market{}, "", false
}

func simBooks(yesAsk, noAsk domain.Quote) *fakeBookSource {
	return &fakeBookSource{snaps: map[string]domain.BookSnapshot{
		"mkt-1": {
			MarketID:  "mkt-1",
			YesAsk:    yesAsk,
			NoAsk:     noAsk,
			UpdatedAt: time.Now(),
		},
	}}
}

func simOrderFor(tokenID string, side domain.TokenSide, price, size float64) domain.Order {
	return domain.Order{
		ID:       "local-1",
		MarketID: "mkt-1",
		TokenID:  tokenID,
		Side:     side,
		Price:    price,
		Size:     size,
		Status:   domain.OrderStatusPending,
	}
}

func TestSimGatewayFillsCrossingOrder(t *testing.T) {
	g := NewSimGateway(simBooks(domain.Quote{Price: 0.45, Size: 500}, domain.Quote{Price: 0.50, Size: 500}), simResolver{})

	res, err := g.PlaceOrder(context.Background(), simOrderFor("yes-tok", domain.TokenSideYes, 0.45, 100))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s, want filled", res.Status)
	}
	if res.FilledSize != 100 || res.FilledPrice != 0.45 {
		t.Fatalf("filled %f @ %f, want 100 @ 0.45", res.FilledSize, res.FilledPrice)
	}
}

func TestSimGatewayPartialOnThinAsk(t *testing.T) {
	g := NewSimGateway(simBooks(domain.Quote{Price: 0.45, Size: 60}, domain.Quote{Price: 0.50, Size: 500}), simResolver{})

	res, err := g.PlaceOrder(context.Background(), simOrderFor("yes-tok", domain.TokenSideYes, 0.45, 100))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Status != domain.OrderStatusPartial {
		t.Fatalf("status = %s, want partial", res.Status)
	}
	if res.FilledSize != 60 {
		t.Fatalf("filled %f, want the resting 60", res.FilledSize)
	}
}

func TestSimGatewayNonCrossingOrderRests(t *testing.T) {
	g := NewSimGateway(simBooks(domain.Quote{Price: 0.50, Size: 500}, domain.Quote{Price: 0.55, Size: 500}), simResolver{})

	res, err := g.PlaceOrder(context.Background(), simOrderFor("yes-tok", domain.TokenSideYes, 0.45, 100))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Status != domain.OrderStatusOpen || res.FilledSize != 0 {
		t.Fatalf("status = %s filled %f, want open with no fill", res.Status, res.FilledSize)
	}

	if err := g.CancelOrder(context.Background(), res.OrderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	status, err := g.OrderStatus(context.Background(), res.OrderID)
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if status.Status != domain.OrderStatusCancelled {
		t.Fatalf("status after cancel = %s", status.Status)
	}
}

func TestSimGatewayMatchesNoSide(t *testing.T) {
	g := NewSimGateway(simBooks(domain.Quote{Price: 0.45, Size: 500}, domain.Quote{Price: 0.50, Size: 500}), simResolver{})

	res, err := g.PlaceOrder(context.Background(), simOrderFor("no-tok", domain.TokenSideNo, 0.52, 100))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.Status != domain.OrderStatusFilled || res.FilledPrice != 0.50 {
		t.Fatalf("status = %s @ %f, want filled at the 0.50 ask", res.Status, res.FilledPrice)
	}
}

func TestSimGatewayCancelKeepsPartialFill(t *testing.T) {
	g := NewSimGateway(simBooks(domain.Quote{Price: 0.45, Size: 60}, domain.Quote{Price: 0.50, Size: 500}), simResolver{})

	res, err := g.PlaceOrder(context.Background(), simOrderFor("yes-tok", domain.TokenSideYes, 0.45, 100))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if err := g.CancelOrder(context.Background(), res.OrderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	status, err := g.OrderStatus(context.Background(), res.OrderID)
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if status.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", status.Status)
	}
	if status.FilledSize != 60 {
		t.Fatalf("cancel discarded the partial fill: %f", status.FilledSize)
	}
}

func TestSimGatewayUnknownOrder(t *testing.T) {
	g := NewSimGateway(simBooks(domain.Quote{}, domain.Quote{}), simResolver{})

	if err := g.CancelOrder(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cancel unknown order: %v", err)
	}
	if _, err := g.OrderStatus(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("status of unknown order: %v", err)
	}
}
