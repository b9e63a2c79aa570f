package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/dshills/audira-commerce/pkg/types"
)

const (
	defaultCurrency      = "usd"
	defaultPaymentMethod = "pm_card_visa"
)

// StripeConfig configures the Stripe adapter
type StripeConfig struct {
	SecretKey     string
	Currency      string           // ISO code, defaults to usd
	PaymentMethod string           // payment method confirmed with each intent
	Backends      *stripe.Backends // nil talks to api.stripe.com
	Retry         *RetryConfig     // nil uses DefaultRetryConfig
}

// Stripe charges through PaymentIntents and refunds through Refunds
type Stripe struct {
	api           *client.API
	currency      string
	paymentMethod string
	retry         RetryConfig
}

// NewStripe creates a Stripe adapter
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key is required", ErrUnavailable)
	}

	s := &Stripe{
		api:           client.New(cfg.SecretKey, cfg.Backends),
		currency:      cfg.Currency,
		paymentMethod: cfg.PaymentMethod,
		retry:         DefaultRetryConfig(),
	}
	if s.currency == "" {
		s.currency = defaultCurrency
	}
	if s.paymentMethod == "" {
		s.paymentMethod = defaultPaymentMethod
	}
	if cfg.Retry != nil {
		s.retry = *cfg.Retry
	}
	return s, nil
}

func (s *Stripe) Name() string {
	return ProviderStripe
}

// Charge creates and confirms a PaymentIntent.
// The idempotency key is derived from the transaction id so retries never double charge.
func (s *Stripe) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(types.MinorUnits(req.Amount)),
		Currency:      stripe.String(s.currency),
		PaymentMethod: stripe.String(s.paymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("charge-" + req.TransactionID)
	params.AddMetadata("payment_id", strconv.FormatInt(req.PaymentID, 10))
	params.AddMetadata("order_id", strconv.FormatInt(req.OrderID, 10))
	params.AddMetadata("user_id", strconv.FormatInt(req.UserID, 10))
	params.AddMetadata("transaction_id", req.TransactionID)

	intent, err := retryWithBackoff(ctx, s.retry, func() (*stripe.PaymentIntent, error) {
		pi, err := s.api.PaymentIntents.New(params)
		return pi, classifyStripeError(err)
	})
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &ChargeResult{Reference: intent.ID, Settled: true, Message: "Payment processed successfully"}, nil
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return &ChargeResult{Reference: intent.ID, Settled: false, Message: "Payment being processed"}, nil
	default:
		return nil, fmt.Errorf("%w: payment intent %s is %s", ErrDeclined, intent.ID, intent.Status)
	}
}

// Refund returns the full amount of the PaymentIntent named by req.Reference
func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.Reference == "" {
		return nil, fmt.Errorf("%w: payment %d has no stripe reference", ErrDeclined, req.PaymentID)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.Reference),
		Amount:        stripe.Int64(types.MinorUnits(req.Amount)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + req.TransactionID)
	params.AddMetadata("payment_id", strconv.FormatInt(req.PaymentID, 10))

	refund, err := retryWithBackoff(ctx, s.retry, func() (*stripe.Refund, error) {
		r, err := s.api.Refunds.New(params)
		return r, classifyStripeError(err)
	})
	if err != nil {
		return nil, err
	}

	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return nil, fmt.Errorf("%w: refund %s is %s", ErrDeclined, refund.ID, refund.Status)
	}
	return &RefundResult{Reference: refund.ID, Message: "Payment refunded successfully"}, nil
}

// classifyStripeError separates declines and bad requests (permanent) from
// rate limits, server errors and network failures (retried).
func classifyStripeError(err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		return permanent(fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Msg))
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests, stripeErr.HTTPStatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, stripeErr.Msg)
	default:
		return permanent(fmt.Errorf("stripe request rejected: %s", stripeErr.Msg))
	}
}
