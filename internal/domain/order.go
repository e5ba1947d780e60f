package domain

import (
	"math/big"
	"time"
)

// OrderStatus tracks the order lifecycle. An order is terminal once it leaves
// pending/open.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is one leg of an arbitrage pair as submitted to the exchange.
type Order struct {
	ID          string
	MarketID    string
	TokenID     string
	Side        TokenSide
	Wallet      string
	Price       float64
	Size        float64 // shares
	FilledSize  float64
	Status      OrderStatus
	MakerAmount *big.Int // integer notional used in the signed payload
	TakerAmount *big.Int // integer quantity used in the signed payload
	Signature   string   // EIP-712 hex
	SubmittedAt time.Time
	ResolvedAt  *time.Time
}

// OrderResult wraps the gateway response for a submitted or queried order.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledSize  float64
	FilledPrice float64
	Message     string
	Retryable   bool // transport-level failure, eligible for one retry
}

// ExecutionOutcome classifies how a paired execution ended.
type ExecutionOutcome string

const (
	OutcomeBothFilled  ExecutionOutcome = "both_filled"
	OutcomePartialFill ExecutionOutcome = "partial_fill"
	OutcomeNoFill      ExecutionOutcome = "no_fill"
)

// LegResult is the terminal state of one leg after execution.
type LegResult struct {
	Order      Order
	Filled     bool
	FilledSize float64
	AvgPrice   float64
	Err        string
}

// ExecutionResult is the executor's report for one approved opportunity.
// RealizedPnL is the locked-in profit for BothFilled, zero otherwise;
// a PartialFill leaves directional exposure which is flagged, never hedged.
type ExecutionResult struct {
	Decision    RiskDecision
	Outcome     ExecutionOutcome
	Yes         LegResult
	No          LegResult
	RealizedPnL float64
	Unhedged    bool
	StartedAt   time.Time
	CompletedAt time.Time
}
