// Package gateway adapts external payment processors to a small
// charge/refund interface used by the payment aggregate.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/dshills/audira-commerce/pkg/types"
)

// Provider names
const (
	ProviderSimulated = "simulated"
	ProviderStripe    = "stripe"
)

// Common errors
var (
	ErrDeclined        = errors.New("payment declined")
	ErrUnavailable     = errors.New("gateway unavailable")
	ErrUnknownProvider = errors.New("unknown gateway provider")
)

// ChargeRequest asks the processor to collect Amount for one payment
type ChargeRequest struct {
	PaymentID     int64
	OrderID       int64
	UserID        int64
	TransactionID string
	Amount        decimal.Decimal
	Method        types.PaymentMethod
}

// ChargeResult describes an accepted charge.
// Settled is false when the processor will confirm asynchronously (e.g. by webhook).
type ChargeResult struct {
	Reference string
	Settled   bool
	Message   string
}

// RefundRequest asks the processor to return a settled charge in full
type RefundRequest struct {
	PaymentID     int64
	TransactionID string
	Reference     string
	Amount        decimal.Decimal
}

// RefundResult describes an accepted refund
type RefundResult struct {
	Reference string
	Message   string
}

// Gateway charges and refunds payments
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Name() string
}
