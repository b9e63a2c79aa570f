package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment status of an order
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// orderTransitions lists the legal targets for each order status.
// DELIVERED -> CANCELLED models post-delivery returns.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered, OrderCancelled},
	OrderDelivered:  {OrderCancelled},
	OrderCancelled:  nil,
}

// ParseOrderStatus parses a status name case-insensitively
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := orderTransitions[status]; !ok {
		return "", fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, s)
	}
	return status, nil
}

// CanTransitionTo reports whether the order may move from s to target
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is DELIVERED or CANCELLED
func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// ItemType identifies what kind of catalog entry a line item refers to
type ItemType string

const (
	ItemSong        ItemType = "SONG"
	ItemAlbum       ItemType = "ALBUM"
	ItemMerchandise ItemType = "MERCHANDISE"
)

// LineItem is a priced purchase line snapshotted at order creation.
// Later catalog price changes never reach a placed order.
type LineItem struct {
	ItemType  ItemType        `json:"itemType" validate:"required,oneof=SONG ALBUM MERCHANDISE"`
	ItemID    int64           `json:"itemId" validate:"gt=0"`
	Quantity  Quantity        `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice" validate:"gte=0"`
}

// Subtotal returns quantity * unit price
func (li LineItem) Subtotal() decimal.Decimal {
	return LineTotal(li.Quantity, li.UnitPrice)
}

// ComputeTotal sums the exact subtotals of all items
func ComputeTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Order is a user's purchase of one or more line items
type Order struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	UserID          int64           `json:"userId"`
	Items           []LineItem      `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress string          `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
