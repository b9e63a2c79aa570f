// Package payments implements the payment aggregate: one attempt to collect
// funds for an order, driven through PENDING, PROCESSING, COMPLETED, FAILED
// and REFUNDED with every change persisted as a compare-and-set.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/dshills/audira-commerce/internal/gateway"
	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/internal/notify"
	"github.com/dshills/audira-commerce/internal/storage"
	"github.com/dshills/audira-commerce/pkg/types"
)

const (
	// maxTxnIDAttempts bounds transaction id regeneration after a collision
	maxTxnIDAttempts = 5
	// maxCASAttempts bounds re-reads after losing a status race
	maxCASAttempts = 3
)

// Gateway response messages recorded on the payment
const (
	msgProcessing = "Payment being processed"
	msgCompleted  = "Payment completed successfully"
	msgFailed     = "Payment marked as failed"
	msgRefunded   = "Payment refunded successfully"
	msgReversed   = "Late capture returned to the customer"

	// msgOrderCancelled is recorded on payments whose order was cancelled before the charge
	msgOrderCancelled = "Order cancelled"
)

// Store is the persistence the payment aggregate needs
type Store interface {
	GetPayment(ctx context.Context, paymentID int64) (*types.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*types.Payment, error)
	GetPaymentByGatewayReference(ctx context.Context, reference string) (*types.Payment, error)
	ListPayments(ctx context.Context, filter storage.PaymentFilter) ([]*types.Payment, error)
	UpdatePayment(ctx context.Context, payment *types.Payment, expected types.PaymentStatus) error
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// OrderLookup reads orders by id and reports missing ones as types.ErrNotFound
type OrderLookup interface {
	Get(ctx context.Context, orderID int64) (*types.Order, error)
}

// CreatePaymentRequest asks for a new payment covering an order's total
type CreatePaymentRequest struct {
	OrderID int64               `json:"orderId"`
	UserID  int64               `json:"userId"`
	Amount  decimal.Decimal     `json:"amount"`
	Method  types.PaymentMethod `json:"paymentMethod"`
}

// Service owns payment creation, processing and settlement
type Service struct {
	store    Store
	orders   OrderLookup
	gateway  gateway.Gateway
	notifier notify.Notifier
	logger   *slog.Logger
	newTxnID func() string
}

// NewService creates a payment service. A nil notifier or logger falls back to a no-op / slog.Default().
func NewService(store Store, orders OrderLookup, gw gateway.Gateway, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		orders:   orders,
		gateway:  gw,
		notifier: notifier,
		logger:   logger,
		newTxnID: types.NewTransactionID,
	}
}

// Create validates the request against the order and stores a PENDING payment
func (s *Service) Create(ctx context.Context, req CreatePaymentRequest) (*types.Payment, error) {
	if req.UserID <= 0 {
		return nil, fmt.Errorf("%w: userId must be > 0", types.ErrInvalidInput)
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must be >= 0", types.ErrInvalidInput)
	}
	method, err := types.ParsePaymentMethod(string(req.Method))
	if err != nil {
		return nil, err
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != req.UserID {
		return nil, fmt.Errorf("%w: order %d does not belong to user %d", types.ErrInvalidInput, order.ID, req.UserID)
	}
	if order.Status != types.OrderPending {
		return nil, fmt.Errorf("%w: order %d is %s, payments need a PENDING order", types.ErrInvalidState, order.ID, order.Status)
	}
	if !req.Amount.Equal(order.TotalAmount) {
		return nil, fmt.Errorf("%w: got %s, order %d total is %s", types.ErrAmountMismatch, req.Amount, order.ID, order.TotalAmount)
	}

	payment := &types.Payment{
		OrderID:       order.ID,
		UserID:        req.UserID,
		Amount:        order.TotalAmount,
		PaymentMethod: method,
		Status:        types.PaymentPending,
	}
	if err := s.insert(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Info("payment created",
		slog.Int64(logkey.PaymentID, payment.ID),
		slog.Int64(logkey.OrderID, payment.OrderID),
		slog.String(logkey.TransactionID, payment.TransactionID))
	s.notify(ctx, payment, "")
	return payment, nil
}

// insert re-checks the order and the open-payment rule and stores the payment in one transaction
func (s *Service) insert(ctx context.Context, payment *types.Payment) (err error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	order, err := tx.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return mapStoreErr(err, "order", payment.OrderID)
	}
	if order.Status != types.OrderPending {
		return fmt.Errorf("%w: order %d is %s, payments need a PENDING order", types.ErrInvalidState, order.ID, order.Status)
	}

	existing, err := tx.ListPayments(ctx, storage.PaymentFilter{OrderID: payment.OrderID})
	if err != nil {
		return err
	}
	for _, p := range existing {
		if p.Status.IsOpen() || p.Status == types.PaymentCompleted {
			return fmt.Errorf("%w: order %d already has payment %d in %s", types.ErrConflict, payment.OrderID, p.ID, p.Status)
		}
	}

	for attempt := 1; ; attempt++ {
		payment.TransactionID = s.newTxnID()
		err = tx.CreatePayment(ctx, payment)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		if attempt == maxTxnIDAttempts {
			return fmt.Errorf("%w: could not allocate a unique transaction id after %d attempts", types.ErrConflict, maxTxnIDAttempts)
		}
		s.logger.Warn("transaction id collision, regenerating",
			slog.String(logkey.TransactionID, payment.TransactionID),
			slog.Int(logkey.Attempt, attempt))
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}
	return nil
}

// Process claims a PENDING payment and charges it through the gateway.
// A non-empty externalTxnID replaces the generated transaction id.
// On gateway failure the FAILED payment is returned together with an error wrapping types.ErrGateway.
// A payment whose order was cancelled is failed without reaching the gateway.
func (s *Service) Process(ctx context.Context, paymentID int64, externalTxnID string) (*types.Payment, error) {
	payment, err := s.transition(ctx, paymentID, types.PaymentProcessing, types.PaymentStatus.CanProcess, func(p *types.Payment) {
		if externalTxnID != "" {
			p.TransactionID = externalTxnID
		}
		p.GatewayResponse = msgProcessing
	})
	if err != nil {
		return nil, err
	}

	// the claim is ours, so the outcome must be written even if the caller gave up
	writeCtx := context.WithoutCancel(ctx)

	order, err := s.orders.Get(ctx, payment.OrderID)
	if err != nil || order.Status == types.OrderCancelled {
		reason := msgOrderCancelled
		if err != nil {
			reason = err.Error()
		} else {
			err = fmt.Errorf("%w: order %d is %s, payment %d was not charged", types.ErrInvalidState, order.ID, order.Status, payment.ID)
		}
		failed, failErr := s.settle(writeCtx, payment, types.PaymentFailed, func(p *types.Payment) {
			p.ErrorMessage = reason
			p.GatewayResponse = msgFailed
		})
		if failErr != nil {
			return nil, failErr
		}
		return failed, err
	}

	result, chargeErr := s.charge(ctx, gateway.ChargeRequest{
		PaymentID:     payment.ID,
		OrderID:       payment.OrderID,
		UserID:        payment.UserID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Method:        payment.PaymentMethod,
	})

	if chargeErr != nil {
		s.logger.Error("gateway charge failed",
			slog.Int64(logkey.PaymentID, payment.ID),
			slog.String(logkey.Gateway, s.gateway.Name()),
			slog.Any(logkey.Error, chargeErr))

		failed, err := s.settle(writeCtx, payment, types.PaymentFailed, func(p *types.Payment) {
			p.ErrorMessage = chargeErr.Error()
			p.GatewayResponse = msgFailed
		})
		if err != nil {
			return nil, err
		}
		return failed, fmt.Errorf("%w: %v", types.ErrGateway, chargeErr)
	}

	target := types.PaymentCompleted
	if !result.Settled {
		// accepted, settlement arrives later
		target = types.PaymentProcessing
	}
	settled, err := s.settle(writeCtx, payment, target, func(p *types.Payment) {
		p.GatewayReference = result.Reference
		p.GatewayResponse = result.Message
	})
	if err != nil {
		return nil, err
	}
	if result.Settled && settled.Status == types.PaymentFailed {
		// failed by someone else while the processor captured the funds
		reversed, err := s.reverseCapture(writeCtx, settled, result.Reference)
		if err != nil {
			return settled, err
		}
		return reversed, fmt.Errorf("%w: payment %d failed while its charge was running, captured funds were returned", types.ErrInvalidState, payment.ID)
	}
	return settled, nil
}

// charge calls the gateway and reports an adapter panic as an error
func (s *Service) charge(ctx context.Context, req gateway.ChargeRequest) (result *gateway.ChargeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("gateway panic: %v", r)
		}
	}()
	result, err = s.gateway.Charge(ctx, req)
	if err == nil && result == nil {
		err = errors.New("gateway returned no charge result")
	}
	return result, err
}

// refund calls the gateway and reports an adapter panic as an error
func (s *Service) refund(ctx context.Context, req gateway.RefundRequest) (result *gateway.RefundResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("gateway panic: %v", r)
		}
	}()
	result, err = s.gateway.Refund(ctx, req)
	if err == nil && result == nil {
		err = errors.New("gateway returned no refund result")
	}
	return result, err
}

// ReverseCapture returns funds the processor captured for a payment that is already FAILED here.
// reference identifies the capture; an empty one falls back to the stored gateway reference.
// A payment that was already reversed is returned unchanged.
func (s *Service) ReverseCapture(ctx context.Context, paymentID int64, reference string) (*types.Payment, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != types.PaymentFailed {
		return nil, &types.TransitionError{Entity: "payment", ID: paymentID, From: string(payment.Status), To: string(types.PaymentFailed)}
	}
	return s.reverseCapture(ctx, payment, reference)
}

func (s *Service) reverseCapture(ctx context.Context, payment *types.Payment, reference string) (*types.Payment, error) {
	if payment.RefundTransactionID != "" {
		return payment, nil
	}
	if reference == "" {
		reference = payment.GatewayReference
	}

	// record the reversal first so a redelivered event does not refund twice
	claimed := *payment
	claimed.RefundTransactionID = s.newTxnID()
	if claimed.GatewayReference == "" {
		claimed.GatewayReference = reference
	}
	if err := s.store.UpdatePayment(ctx, &claimed, types.PaymentFailed); err != nil {
		return nil, mapStoreErr(err, "payment", payment.ID)
	}

	result, err := s.refund(ctx, gateway.RefundRequest{
		PaymentID:     payment.ID,
		TransactionID: claimed.RefundTransactionID,
		Reference:     reference,
		Amount:        payment.Amount,
	})
	if err != nil {
		s.logger.Error("captured funds for a failed payment were not returned",
			slog.Int64(logkey.PaymentID, payment.ID),
			slog.String(logkey.Reference, reference),
			slog.Any(logkey.Error, err))
		if restoreErr := s.store.UpdatePayment(ctx, payment, types.PaymentFailed); restoreErr != nil {
			s.logger.Warn("failed to clear reversal claim",
				slog.Int64(logkey.PaymentID, payment.ID),
				slog.Any(logkey.Error, restoreErr))
		}
		return nil, fmt.Errorf("%w: payment %d: %v", types.ErrGateway, payment.ID, err)
	}

	claimed.GatewayResponse = msgReversed
	if result.Message != "" {
		claimed.GatewayResponse = fmt.Sprintf("%s: %s", msgReversed, result.Message)
	}
	if err := s.store.UpdatePayment(ctx, &claimed, types.PaymentFailed); err != nil {
		s.logger.Warn("failed to record capture reversal",
			slog.Int64(logkey.PaymentID, payment.ID),
			slog.Any(logkey.Error, err))
	}

	s.logger.Warn("captured funds returned for failed payment",
		slog.Int64(logkey.PaymentID, payment.ID),
		slog.Int64(logkey.OrderID, payment.OrderID),
		slog.String(logkey.Reference, reference),
		slog.String(logkey.TransactionID, claimed.RefundTransactionID))
	return &claimed, nil
}

// settle writes the gateway outcome onto a payment this service claimed.
// If another writer already moved it out of PROCESSING, the stored payment is returned as is.
func (s *Service) settle(ctx context.Context, payment *types.Payment, target types.PaymentStatus, mutate func(p *types.Payment)) (*types.Payment, error) {
	next := *payment
	mutate(&next)
	next.Status = target

	err := s.store.UpdatePayment(ctx, &next, types.PaymentProcessing)
	if errors.Is(err, storage.ErrStaleStatus) {
		s.logger.Warn("payment changed while the gateway call was running",
			slog.Int64(logkey.PaymentID, payment.ID))
		return s.Get(ctx, payment.ID)
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: gateway reference %s is already recorded", types.ErrConflict, next.GatewayReference)
	}
	if err != nil {
		return nil, mapStoreErr(err, "payment", payment.ID)
	}

	if target != types.PaymentProcessing {
		s.logChange(&next, types.PaymentProcessing)
		s.notify(ctx, &next, types.PaymentProcessing)
	}
	return &next, nil
}

// Complete marks a PENDING or PROCESSING payment COMPLETED
func (s *Service) Complete(ctx context.Context, paymentID int64) (*types.Payment, error) {
	return s.transition(ctx, paymentID, types.PaymentCompleted, types.PaymentStatus.CanComplete, func(p *types.Payment) {
		p.GatewayResponse = msgCompleted
	})
}

// Fail marks a payment FAILED with reason; completed and refunded payments cannot fail
func (s *Service) Fail(ctx context.Context, paymentID int64, reason string) (*types.Payment, error) {
	if reason == "" {
		reason = msgFailed
	}
	return s.transition(ctx, paymentID, types.PaymentFailed, types.PaymentStatus.CanFail, func(p *types.Payment) {
		p.ErrorMessage = reason
		p.GatewayResponse = msgFailed
	})
}

// Refund returns a COMPLETED payment through the gateway.
// The payment is claimed as REFUNDED before the gateway call so concurrent refunds
// cannot both reach the gateway; a gateway failure restores COMPLETED.
func (s *Service) Refund(ctx context.Context, paymentID int64) (*types.Payment, error) {
	var previousResponse string
	payment, err := s.claim(ctx, paymentID, types.PaymentRefunded, types.PaymentStatus.CanRefund, func(p *types.Payment) {
		previousResponse = p.GatewayResponse
		p.RefundTransactionID = s.newTxnID()
		p.GatewayResponse = msgProcessing
	})
	if err != nil {
		return nil, err
	}

	result, refundErr := s.refund(ctx, gateway.RefundRequest{
		PaymentID:     payment.ID,
		TransactionID: payment.RefundTransactionID,
		Reference:     payment.GatewayReference,
		Amount:        payment.Amount,
	})

	writeCtx := context.WithoutCancel(ctx)

	if refundErr != nil {
		s.logger.Error("gateway refund failed",
			slog.Int64(logkey.PaymentID, payment.ID),
			slog.String(logkey.Gateway, s.gateway.Name()),
			slog.Any(logkey.Error, refundErr))

		restored := *payment
		restored.Status = types.PaymentCompleted
		restored.RefundTransactionID = ""
		restored.GatewayResponse = previousResponse
		restored.ErrorMessage = refundErr.Error()
		if err := s.store.UpdatePayment(writeCtx, &restored, types.PaymentRefunded); err != nil {
			return nil, fmt.Errorf("failed to restore payment %d after refund failure: %w", payment.ID, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrGateway, refundErr)
	}

	payment.GatewayResponse = result.Message
	if err := s.store.UpdatePayment(writeCtx, payment, types.PaymentRefunded); err != nil {
		// refund went through; only the message is missing
		s.logger.Warn("failed to record refund response",
			slog.Int64(logkey.PaymentID, payment.ID),
			slog.Any(logkey.Error, err))
	}

	s.logChange(payment, types.PaymentCompleted)
	s.notify(ctx, payment, types.PaymentCompleted)
	return payment, nil
}

// transition applies a guarded status change and announces it
func (s *Service) transition(ctx context.Context, paymentID int64, target types.PaymentStatus, guard func(types.PaymentStatus) bool, mutate func(p *types.Payment)) (*types.Payment, error) {
	var from types.PaymentStatus
	payment, err := s.claim(ctx, paymentID, target, guard, func(p *types.Payment) {
		from = p.Status
		mutate(p)
	})
	if err != nil {
		return nil, err
	}

	s.logChange(payment, from)
	if from != target {
		s.notify(ctx, payment, from)
	}
	return payment, nil
}

// claim re-reads the payment until the guarded compare-and-set succeeds or the guard rejects it
func (s *Service) claim(ctx context.Context, paymentID int64, target types.PaymentStatus, guard func(types.PaymentStatus) bool, mutate func(p *types.Payment)) (*types.Payment, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		payment, err := s.Get(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if !guard(payment.Status) {
			return nil, &types.TransitionError{Entity: "payment", ID: paymentID, From: string(payment.Status), To: string(target)}
		}

		expected := payment.Status
		mutate(payment)
		payment.Status = target

		err = s.store.UpdatePayment(ctx, payment, expected)
		if errors.Is(err, storage.ErrStaleStatus) {
			s.logger.Debug("payment status race lost, retrying",
				slog.Int64(logkey.PaymentID, paymentID),
				slog.String(logkey.FromStatus, string(expected)))
			continue
		}
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: transaction id %s is already in use", types.ErrConflict, payment.TransactionID)
		}
		if err != nil {
			return nil, mapStoreErr(err, "payment", paymentID)
		}
		return payment, nil
	}
	return nil, fmt.Errorf("%w: payment %d kept changing while moving to %s", types.ErrConflict, paymentID, target)
}

func (s *Service) logChange(p *types.Payment, from types.PaymentStatus) {
	s.logger.Info("payment status changed",
		slog.Int64(logkey.PaymentID, p.ID),
		slog.Int64(logkey.OrderID, p.OrderID),
		slog.String(logkey.FromStatus, string(from)),
		slog.String(logkey.Status, string(p.Status)))
}

func (s *Service) notify(ctx context.Context, p *types.Payment, from types.PaymentStatus) {
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.PaymentStatusChanged,
		OrderID:    p.OrderID,
		PaymentID:  p.ID,
		UserID:     p.UserID,
		From:       string(from),
		To:         string(p.Status),
		OccurredAt: p.UpdatedAt,
	})
}

// Get returns the payment with the given id
func (s *Service) Get(ctx context.Context, paymentID int64) (*types.Payment, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, mapStoreErr(err, "payment", paymentID)
	}
	return payment, nil
}

// GetByTransactionID returns the payment carrying transactionID
func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*types.Payment, error) {
	payment, err := s.store.GetPaymentByTransactionID(ctx, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: payment with transaction id %s", types.ErrNotFound, transactionID)
	}
	return payment, err
}

// GetByGatewayReference returns the payment the processor knows as reference
func (s *Service) GetByGatewayReference(ctx context.Context, reference string) (*types.Payment, error) {
	payment, err := s.store.GetPaymentByGatewayReference(ctx, reference)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: payment with gateway reference %q", types.ErrNotFound, reference)
	}
	return payment, err
}

// ListByOrder returns every payment attempt for the order, oldest first
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]*types.Payment, error) {
	return s.store.ListPayments(ctx, storage.PaymentFilter{OrderID: orderID})
}

// CurrentForOrder returns the most recently created payment for the order
func (s *Service) CurrentForOrder(ctx context.Context, orderID int64) (*types.Payment, error) {
	payments, err := s.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: no payment for order %d", types.ErrNotFound, orderID)
	}
	return payments[len(payments)-1], nil
}

// ListByUser returns the user's payments
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]*types.Payment, error) {
	return s.store.ListPayments(ctx, storage.PaymentFilter{UserID: userID})
}

// ListByStatus returns payments currently in status
func (s *Service) ListByStatus(ctx context.Context, status types.PaymentStatus) ([]*types.Payment, error) {
	return s.store.ListPayments(ctx, storage.PaymentFilter{Status: status})
}

func mapStoreErr(err error, entity string, id int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", types.ErrNotFound, entity, id)
	}
	return err
}
