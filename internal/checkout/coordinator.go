// Package checkout coordinates the order and payment aggregates.
//
// The aggregates never call each other; every cross-aggregate workflow
// (checkout, reflecting a settled payment onto its order, cancelling with
// compensation) lives here. Workflows are not atomic across records: each
// step commits on its own and failures leave a state the caller can retry.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/audira-commerce/internal/gateway"
	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/internal/payments"
	"github.com/dshills/audira-commerce/pkg/types"
)

// DefaultReplayCacheSize is how many idempotency keys are remembered
const DefaultReplayCacheSize = 10000

const (
	// cancelReason is recorded on payments failed by an order cancellation
	cancelReason = "Order cancelled"
	// maxCompensateAttempts bounds re-reads of a payment that keeps changing during compensation
	maxCompensateAttempts = 3
)

// OrderService is the order aggregate as seen by the coordinator
type OrderService interface {
	Create(ctx context.Context, req orders.CreateOrderRequest) (*types.Order, error)
	Get(ctx context.Context, orderID int64) (*types.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, target types.OrderStatus) (*types.Order, error)
	Cancel(ctx context.Context, orderID int64) (*types.Order, error)
	AdvanceFrom(ctx context.Context, orderID int64, from, to types.OrderStatus) (*types.Order, bool, error)
}

// PaymentService is the payment aggregate as seen by the coordinator
type PaymentService interface {
	Create(ctx context.Context, req payments.CreatePaymentRequest) (*types.Payment, error)
	Get(ctx context.Context, paymentID int64) (*types.Payment, error)
	GetByGatewayReference(ctx context.Context, reference string) (*types.Payment, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*types.Payment, error)
	Process(ctx context.Context, paymentID int64, externalTxnID string) (*types.Payment, error)
	Complete(ctx context.Context, paymentID int64) (*types.Payment, error)
	Fail(ctx context.Context, paymentID int64, reason string) (*types.Payment, error)
	Refund(ctx context.Context, paymentID int64) (*types.Payment, error)
	ReverseCapture(ctx context.Context, paymentID int64, reference string) (*types.Payment, error)
}

// CheckoutRequest creates an order and pays for it in one call
type CheckoutRequest struct {
	UserID          int64               `json:"userId"`
	Items           []types.LineItem    `json:"items"`
	ShippingAddress string              `json:"shippingAddress"`
	Method          types.PaymentMethod `json:"paymentMethod"`
	IdempotencyKey  string              `json:"-"`
}

// CheckoutResult is the state of both aggregates after a checkout or payment retry
type CheckoutResult struct {
	Order    *types.Order   `json:"order"`
	Payment  *types.Payment `json:"payment,omitempty"`
	Replayed bool           `json:"replayed,omitempty"`
}

// replay is a remembered checkout outcome
type replay struct {
	result CheckoutResult
	err    error
}

// Coordinator runs workflows spanning orders and payments
type Coordinator struct {
	orders   OrderService
	payments PaymentService
	logger   *slog.Logger
	replays  *lru.Cache[string, replay]
	inflight inflight
}

// NewCoordinator creates a coordinator remembering up to cacheSize idempotency keys
func NewCoordinator(orderSvc OrderService, paymentSvc PaymentService, logger *slog.Logger, cacheSize int) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultReplayCacheSize
	}
	cache, err := lru.New[string, replay](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay cache: %w", err)
	}
	return &Coordinator{
		orders:   orderSvc,
		payments: paymentSvc,
		logger:   logger,
		replays:  cache,
	}, nil
}

// Checkout creates an order, creates a payment for its total and processes it.
// A COMPLETED payment advances the order to PROCESSING; a FAILED one leaves it PENDING
// and the result carries both records together with an error wrapping types.ErrGateway.
// A repeated idempotency key returns the first outcome without creating anything.
func (c *Coordinator) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	key := req.IdempotencyKey
	if key == "" {
		return c.checkout(ctx, req)
	}

	if r, ok := c.lookupReplay(key); ok {
		return r.result.replayed(), r.err
	}
	if !c.inflight.tryAcquire(key) {
		return nil, fmt.Errorf("%w: checkout with idempotency key %q is already running", types.ErrConflict, key)
	}
	defer c.inflight.release(key)

	// the previous holder may have finished between the lookup and the acquire
	if r, ok := c.lookupReplay(key); ok {
		return r.result.replayed(), r.err
	}

	result, err := c.checkout(ctx, req)
	if result != nil && result.Order != nil {
		c.replays.Add(key, replay{result: *result, err: err})
	}
	return result, err
}

func (c *Coordinator) lookupReplay(key string) (replay, bool) {
	r, ok := c.replays.Get(key)
	if ok {
		c.logger.Info("checkout replayed", slog.String(logkey.IdemKey, key), slog.Int64(logkey.OrderID, r.result.Order.ID))
	}
	return r, ok
}

func (r CheckoutResult) replayed() *CheckoutResult {
	r.Replayed = true
	return &r
}

func (c *Coordinator) checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	// reject a bad method before an order exists
	method, err := types.ParsePaymentMethod(string(req.Method))
	if err != nil {
		return nil, err
	}

	order, err := c.orders.Create(ctx, orders.CreateOrderRequest{
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		return nil, err
	}

	return c.pay(ctx, order, method)
}

// PayOrder creates and processes a new payment for an existing PENDING order,
// typically after an earlier attempt failed.
func (c *Coordinator) PayOrder(ctx context.Context, orderID int64, method types.PaymentMethod) (*CheckoutResult, error) {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return c.pay(ctx, order, method)
}

func (c *Coordinator) pay(ctx context.Context, order *types.Order, method types.PaymentMethod) (*CheckoutResult, error) {
	result := &CheckoutResult{Order: order}

	payment, err := c.payments.Create(ctx, payments.CreatePaymentRequest{
		OrderID: order.ID,
		UserID:  order.UserID,
		Amount:  order.TotalAmount,
		Method:  method,
	})
	if err != nil {
		c.logger.Warn("payment could not be created, order left pending",
			slog.Int64(logkey.OrderID, order.ID),
			slog.Any(logkey.Error, err))
		return result, fmt.Errorf("order %d is pending without a payment: %w", order.ID, err)
	}
	result.Payment = payment

	payment, err = c.payments.Process(ctx, payment.ID, "")
	if payment != nil {
		result.Payment = payment
	}
	if err != nil {
		return result, err
	}

	if payment.Status == types.PaymentCompleted {
		advanced, settled, err := c.reflectCompleted(ctx, payment)
		if advanced != nil {
			result.Order = advanced
		}
		if settled != nil {
			result.Payment = settled
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// ProcessPayment processes a PENDING payment and advances its order when it settles
func (c *Coordinator) ProcessPayment(ctx context.Context, paymentID int64, externalTxnID string) (*types.Payment, error) {
	payment, err := c.payments.Process(ctx, paymentID, externalTxnID)
	if err != nil {
		return payment, err
	}
	if payment.Status != types.PaymentCompleted {
		return payment, nil
	}
	_, settled, err := c.reflectCompleted(ctx, payment)
	return settled, err
}

// CompletePayment completes a PENDING or PROCESSING payment and advances its order
func (c *Coordinator) CompletePayment(ctx context.Context, paymentID int64) (*types.Payment, error) {
	payment, err := c.payments.Complete(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	_, settled, err := c.reflectCompleted(ctx, payment)
	return settled, err
}

// reflectCompleted moves the payment's order PENDING -> PROCESSING.
// A payment that completed on a cancelled order is refunded; any other order status is left alone.
// The returned payment is the latest state of the one passed in.
func (c *Coordinator) reflectCompleted(ctx context.Context, payment *types.Payment) (*types.Order, *types.Payment, error) {
	order, changed, err := c.orders.AdvanceFrom(ctx, payment.OrderID, types.OrderPending, types.OrderProcessing)
	if err != nil {
		c.logger.Error("payment completed but order was not advanced",
			slog.Int64(logkey.PaymentID, payment.ID),
			slog.Int64(logkey.OrderID, payment.OrderID),
			slog.Any(logkey.Error, err))
		return nil, payment, fmt.Errorf("payment %d completed but order %d was not advanced: %w", payment.ID, payment.OrderID, err)
	}
	if changed {
		return order, payment, nil
	}

	if order.Status == types.OrderCancelled {
		c.logger.Warn("payment completed for a cancelled order, refunding",
			slog.Int64(logkey.PaymentID, payment.ID),
			slog.Int64(logkey.OrderID, order.ID))
		if err := c.compensate(ctx, payment); err != nil {
			return order, payment, fmt.Errorf("payment %d completed on cancelled order %d and was not refunded: %w", payment.ID, order.ID, err)
		}
		refunded, err := c.payments.Get(ctx, payment.ID)
		if err != nil {
			return order, payment, err
		}
		return order, refunded, nil
	}

	c.logger.Info("payment completed for an order that is not pending",
		slog.Int64(logkey.PaymentID, payment.ID),
		slog.Int64(logkey.OrderID, order.ID),
		slog.String(logkey.Status, string(order.Status)))
	return order, payment, nil
}

// CancelOrder compensates the order's payments and then cancels it.
// Open payments are failed and completed payments refunded concurrently;
// if any compensation fails the order keeps its status. Payments created
// while compensation ran are compensated once the order is cancelled.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID int64) (*types.Order, error) {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(types.OrderCancelled) {
		return nil, &types.TransitionError{Entity: "order", ID: orderID, From: string(order.Status), To: string(types.OrderCancelled)}
	}

	if err := c.compensateAll(ctx, orderID); err != nil {
		c.logger.Error("order cancellation aborted, compensation failed",
			slog.Int64(logkey.OrderID, orderID),
			slog.Any(logkey.Error, err))
		return nil, fmt.Errorf("order %d not cancelled: %w", orderID, err)
	}

	cancelled, err := c.orders.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// no payment can be created or charged from here on
	if err := c.compensateAll(ctx, orderID); err != nil {
		c.logger.Error("order cancelled but a late payment was not compensated",
			slog.Int64(logkey.OrderID, orderID),
			slog.Any(logkey.Error, err))
		return cancelled, fmt.Errorf("order %d cancelled but a late payment was not compensated: %w", orderID, err)
	}
	return cancelled, nil
}

// compensateAll fails or refunds every payment of the order concurrently
func (c *Coordinator) compensateAll(ctx context.Context, orderID int64) error {
	attempts, err := c.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range attempts {
		if p.Status.IsOpen() || p.Status == types.PaymentCompleted {
			g.Go(func() error {
				return c.compensate(gctx, p)
			})
		}
	}
	return g.Wait()
}

// compensate fails an open payment or refunds a completed one.
// A payment that moved on meanwhile is re-read and handled by its new status.
func (c *Coordinator) compensate(ctx context.Context, p *types.Payment) error {
	for attempt := 1; ; attempt++ {
		var err error
		switch {
		case p.Status.IsOpen():
			_, err = c.payments.Fail(ctx, p.ID, cancelReason)
		case p.Status == types.PaymentCompleted:
			_, err = c.payments.Refund(ctx, p.ID)
		default:
			return nil
		}
		if !errors.Is(err, types.ErrInvalidState) || attempt == maxCompensateAttempts {
			return err
		}

		fresh, getErr := c.payments.Get(ctx, p.ID)
		if getErr != nil {
			return getErr
		}
		p = fresh
	}
}

// UpdateOrderStatus routes CANCELLED through CancelOrder and every other target to the order aggregate
func (c *Coordinator) UpdateOrderStatus(ctx context.Context, orderID int64, target types.OrderStatus) (*types.Order, error) {
	if target == types.OrderCancelled {
		return c.CancelOrder(ctx, orderID)
	}
	return c.orders.UpdateStatus(ctx, orderID, target)
}

// HandleGatewayEvent applies a verified processor notification.
// Redelivered events for a payment already in the target status are no-ops.
// A capture reported for a FAILED payment is returned to the customer.
func (c *Coordinator) HandleGatewayEvent(ctx context.Context, ev *gateway.WebhookEvent) (*types.Payment, error) {
	if ev.Outcome == gateway.WebhookIgnored {
		return nil, nil
	}

	payment, err := c.payments.GetByGatewayReference(ctx, ev.Reference)
	if errors.Is(err, types.ErrNotFound) && ev.PaymentID != 0 {
		payment, err = c.payments.Get(ctx, ev.PaymentID)
	}
	if err != nil {
		return nil, err
	}

	switch ev.Outcome {
	case gateway.WebhookSucceeded:
		switch payment.Status {
		case types.PaymentCompleted, types.PaymentRefunded:
			return payment, nil
		case types.PaymentFailed:
			c.logger.Warn("processor captured a payment that already failed, returning funds",
				slog.Int64(logkey.PaymentID, payment.ID),
				slog.String(logkey.Reference, ev.Reference))
			return c.payments.ReverseCapture(ctx, payment.ID, ev.Reference)
		}
		return c.CompletePayment(ctx, payment.ID)
	case gateway.WebhookFailed:
		switch payment.Status {
		case types.PaymentFailed:
			return payment, nil
		case types.PaymentCompleted, types.PaymentRefunded:
			c.logger.Warn("processor reported failure for a settled payment, ignoring",
				slog.Int64(logkey.PaymentID, payment.ID),
				slog.String(logkey.Status, string(payment.Status)),
				slog.String(logkey.Reference, ev.Reference))
			return payment, nil
		}
		return c.payments.Fail(ctx, payment.ID, ev.Message)
	default:
		return nil, fmt.Errorf("%w: unknown webhook outcome %q", types.ErrInvalidInput, ev.Outcome)
	}
}
