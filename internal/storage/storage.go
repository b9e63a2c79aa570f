package storage

import (
	"context"

	"github.com/dshills/audira-commerce/pkg/types"
)

// Storage defines the interface for persisting orders and payments
type Storage interface {
	// Order operations
	CreateOrder(ctx context.Context, order *types.Order) error
	GetOrder(ctx context.Context, orderID int64) (*types.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*types.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, error)
	UpdateOrderStatus(ctx context.Context, order *types.Order, to types.OrderStatus) error
	DeleteOrder(ctx context.Context, orderID int64) error

	// Payment operations
	CreatePayment(ctx context.Context, payment *types.Payment) error
	GetPayment(ctx context.Context, paymentID int64) (*types.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*types.Payment, error)
	GetPaymentByGatewayReference(ctx context.Context, reference string) (*types.Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]*types.Payment, error)
	UpdatePayment(ctx context.Context, payment *types.Payment, expected types.PaymentStatus) error

	// Status operations
	GetStatus(ctx context.Context) (*StoreStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// OrderFilter narrows ListOrders; zero fields do not filter
type OrderFilter struct {
	UserID int64
	Status types.OrderStatus
}

// PaymentFilter narrows ListPayments; zero fields do not filter
type PaymentFilter struct {
	OrderID int64
	UserID  int64
	Status  types.PaymentStatus
}

// StoreStatus contains statistics about the commerce database
type StoreStatus struct {
	OrdersByStatus   map[types.OrderStatus]int
	PaymentsByStatus map[types.PaymentStatus]int
	TotalOrders      int
	TotalPayments    int
	DatabaseSizeMB   float64
	SchemaVersion    string
	Health           HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible bool
	ForeignKeysEnabled bool
}
