package executor

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/pairarb/pairarb/internal/crypto"
	"github.com/pairarb/pairarb/internal/domain"
	"github.com/pairarb/pairarb/internal/platform/polymarket"
)

// Gateway is the executor's view of the exchange. The live implementation
// signs and submits real orders; the simulated one fills against the local
// book in dry-run mode.
type Gateway interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error)
}

// usdcDecimals converts share/price floats into the integer amounts the
// exchange contract expects (USDC and outcome tokens both use 6 decimals).
const usdcDecimals = 1e6

// ClobGateway places real orders through the CLOB REST API, signing each
// order payload with EIP-712 and throttling submissions through the shared
// rate limiter.
type ClobGateway struct {
	clob    *polymarket.ClobClient
	signer  *crypto.Signer
	limiter domain.RateLimiter // may be nil
	wallet  string

	rateLimit  int
	rateWindow time.Duration
}

// NewClobGateway creates a live gateway. ratePerSec bounds order
// submissions; zero disables throttling.
func NewClobGateway(clob *polymarket.ClobClient, signer *crypto.Signer, limiter domain.RateLimiter, ratePerSec int) *ClobGateway {
	return &ClobGateway{
		clob:       clob,
		signer:     signer,
		limiter:    limiter,
		wallet:     signer.Address().Hex(),
		rateLimit:  ratePerSec,
		rateWindow: time.Second,
	}
}

var _ Gateway = (*ClobGateway)(nil)

// PlaceOrder signs and submits one buy order. The order's Wallet, amounts,
// and Signature fields are filled in before submission.
func (g *ClobGateway) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if err := g.throttle(ctx); err != nil {
		return domain.OrderResult{}, err
	}

	order.Wallet = g.wallet
	order.MakerAmount = usdAmount(order.Price * order.Size)
	order.TakerAmount = usdAmount(order.Size)

	salt := uuid.New().ID() // random uint32 is plenty of entropy per wallet
	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", salt),
		Maker:         g.wallet,
		Signer:        g.wallet,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   order.MakerAmount.String(),
		TakerAmount:   order.TakerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // BUY
		SignatureType: 0, // EOA
	}

	sig, err := g.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: %w: %v", domain.ErrSigningFailed, err)
	}
	order.Signature = sig

	result, err := g.clob.PostOrder(ctx, order)
	if err != nil && result.Status == domain.OrderStatusRejected {
		// Business rejection, not a transport fault. The executor treats a
		// non-nil error as retryable; a venue rejection must come back as a
		// result so only result.Retryable can re-submit it.
		return result, nil
	}
	return result, err
}

// CancelOrder cancels a resting order.
func (g *ClobGateway) CancelOrder(ctx context.Context, orderID string) error {
	return g.clob.CancelOrder(ctx, orderID)
}

// OrderStatus polls the current fill state of an order.
func (g *ClobGateway) OrderStatus(ctx context.Context, orderID string) (domain.OrderResult, error) {
	return g.clob.GetOrderStatus(ctx, orderID)
}

// throttle blocks until the rate limiter admits another order submission.
func (g *ClobGateway) throttle(ctx context.Context) error {
	if g.limiter == nil || g.rateLimit <= 0 {
		return nil
	}
	for {
		ok, err := g.limiter.Allow(ctx, "orders", g.rateLimit, g.rateWindow)
		if err != nil {
			return fmt.Errorf("executor: rate limiter: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// usdAmount converts a float amount to the 6-decimal integer representation.
func usdAmount(v float64) *big.Int {
	return big.NewInt(int64(math.Round(v * usdcDecimals)))
}
