// Package orders implements the order aggregate: creation from priced line
// items and guarded status transitions persisted with compare-and-set.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/internal/notify"
	"github.com/dshills/audira-commerce/internal/storage"
	"github.com/dshills/audira-commerce/pkg/types"
)

const (
	// maxNumberAttempts bounds order-number regeneration after a collision
	maxNumberAttempts = 5
	// maxCASAttempts bounds re-reads after losing a status race
	maxCASAttempts = 3
)

// Store is the persistence the order aggregate needs
type Store interface {
	CreateOrder(ctx context.Context, order *types.Order) error
	GetOrder(ctx context.Context, orderID int64) (*types.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*types.Order, error)
	ListOrders(ctx context.Context, filter storage.OrderFilter) ([]*types.Order, error)
	UpdateOrderStatus(ctx context.Context, order *types.Order, to types.OrderStatus) error
	DeleteOrder(ctx context.Context, orderID int64) error
}

// CreateOrderRequest carries the client-supplied order fields
type CreateOrderRequest = types.OrderDraft

// Service owns order creation and status changes
type Service struct {
	store     Store
	notifier  notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
	newNumber func(time.Time) string
}

// NewService creates an order service. A nil notifier or logger falls back to a no-op / slog.Default().
func NewService(store Store, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		newNumber: types.NewOrderNumber,
	}
}

// Create validates the request, prices it and stores a PENDING order
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*types.Order, error) {
	draft, err := types.ResolveDraft(req)
	if err != nil {
		return nil, err
	}

	order := &types.Order{
		UserID:          draft.UserID,
		Items:           draft.Items,
		TotalAmount:     types.ComputeTotal(draft.Items),
		Status:          types.OrderPending,
		ShippingAddress: draft.ShippingAddress,
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		order.OrderNumber = s.newNumber(s.now())
		err = s.store.CreateOrder(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create order: %w", err)
		}
		s.logger.Warn("order number collision, regenerating",
			slog.String(logkey.OrderNumber, order.OrderNumber),
			slog.Int(logkey.Attempt, attempt))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: could not allocate a unique order number after %d attempts", types.ErrConflict, maxNumberAttempts)
	}

	s.logger.Info("order created",
		slog.Int64(logkey.OrderID, order.ID),
		slog.String(logkey.OrderNumber, order.OrderNumber),
		slog.Int64(logkey.UserID, order.UserID),
		slog.String("total", order.TotalAmount.StringFixed(2)))
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.OrderCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		To:         string(order.Status),
		OccurredAt: order.CreatedAt,
	})
	return order, nil
}

// UpdateStatus moves the order to target if the transition table allows it
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, target types.OrderStatus) (*types.Order, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		order, err := s.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if !order.Status.CanTransitionTo(target) {
			return nil, &types.TransitionError{Entity: "order", ID: orderID, From: string(order.Status), To: string(target)}
		}

		changed, err := s.swap(ctx, order, target)
		if err != nil {
			return nil, err
		}
		if changed {
			return order, nil
		}
	}
	return nil, fmt.Errorf("%w: order %d kept changing while moving to %s", types.ErrConflict, orderID, target)
}

// Cancel moves the order to CANCELLED
func (s *Service) Cancel(ctx context.Context, orderID int64) (*types.Order, error) {
	return s.UpdateStatus(ctx, orderID, types.OrderCancelled)
}

// AdvanceFrom moves the order from `from` to `to` only while it is still in `from`.
// An order in any other status is returned unchanged with changed == false.
func (s *Service) AdvanceFrom(ctx context.Context, orderID int64, from, to types.OrderStatus) (order *types.Order, changed bool, err error) {
	if !from.CanTransitionTo(to) {
		return nil, false, &types.TransitionError{Entity: "order", ID: orderID, From: string(from), To: string(to)}
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		order, err = s.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		if order.Status != from {
			return order, false, nil
		}

		changed, err = s.swap(ctx, order, to)
		if err != nil {
			return nil, false, err
		}
		if changed {
			return order, true, nil
		}
	}
	return nil, false, fmt.Errorf("%w: order %d kept changing while moving to %s", types.ErrConflict, orderID, to)
}

// swap performs one compare-and-set; changed is false when another writer got there first
func (s *Service) swap(ctx context.Context, order *types.Order, to types.OrderStatus) (bool, error) {
	from := order.Status
	err := s.store.UpdateOrderStatus(ctx, order, to)
	if errors.Is(err, storage.ErrStaleStatus) {
		s.logger.Debug("order status race lost, retrying",
			slog.Int64(logkey.OrderID, order.ID),
			slog.String(logkey.FromStatus, string(from)))
		return false, nil
	}
	if err != nil {
		return false, mapStoreErr(err, order.ID)
	}

	s.logger.Info("order status changed",
		slog.Int64(logkey.OrderID, order.ID),
		slog.String(logkey.FromStatus, string(from)),
		slog.String(logkey.Status, string(to)))
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.OrderStatusChanged,
		OrderID:    order.ID,
		UserID:     order.UserID,
		From:       string(from),
		To:         string(to),
		OccurredAt: order.UpdatedAt,
	})
	return true, nil
}

// Get returns the order with the given id
func (s *Service) Get(ctx context.Context, orderID int64) (*types.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, mapStoreErr(err, orderID)
	}
	return order, nil
}

// GetByNumber returns the order with the given order number
func (s *Service) GetByNumber(ctx context.Context, orderNumber string) (*types.Order, error) {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s", types.ErrNotFound, orderNumber)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// List returns every order
func (s *Service) List(ctx context.Context) ([]*types.Order, error) {
	return s.store.ListOrders(ctx, storage.OrderFilter{})
}

// ListByUser returns the user's orders
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]*types.Order, error) {
	return s.store.ListOrders(ctx, storage.OrderFilter{UserID: userID})
}

// ListByStatus returns orders currently in status
func (s *Service) ListByStatus(ctx context.Context, status types.OrderStatus) ([]*types.Order, error) {
	return s.store.ListOrders(ctx, storage.OrderFilter{Status: status})
}

// ListByUserAndStatus returns the user's orders currently in status
func (s *Service) ListByUserAndStatus(ctx context.Context, userID int64, status types.OrderStatus) ([]*types.Order, error) {
	return s.store.ListOrders(ctx, storage.OrderFilter{UserID: userID, Status: status})
}

// Delete removes the order and its payments. Administrative; skips the transition table.
func (s *Service) Delete(ctx context.Context, orderID int64) error {
	if err := s.store.DeleteOrder(ctx, orderID); err != nil {
		return mapStoreErr(err, orderID)
	}
	s.logger.Warn("order deleted", slog.Int64(logkey.OrderID, orderID))
	return nil
}

func mapStoreErr(err error, orderID int64) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: order %d", types.ErrNotFound, orderID)
	}
	return err
}
