package notify

import (
	"encoding/json"
	"time"
)

// EventType names a lifecycle notification
type EventType string

const (
	OrderCreated         EventType = "order.created"
	OrderStatusChanged   EventType = "order.status_changed"
	PaymentStatusChanged EventType = "payment.status_changed"
)

// Event is a value-only description of a lifecycle change.
// From is empty for creation events.
type Event struct {
	Type       EventType `json:"type"`
	OrderID    int64     `json:"orderId"`
	PaymentID  int64     `json:"paymentId,omitempty"`
	UserID     int64     `json:"userId"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Encode returns the JSON wire form of the event
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
