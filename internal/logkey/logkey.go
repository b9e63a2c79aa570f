// Package logkey holds the slog attribute keys shared across the service
// so log lines can be filtered on the same field names everywhere.
package logkey

const (
	OrderID       = "order_id"
	OrderNumber   = "order_number"
	PaymentID     = "payment_id"
	TransactionID = "transaction_id"
	UserID        = "user_id"
	Status        = "status"
	FromStatus    = "from_status"
	Gateway       = "gateway"
	Reference     = "gateway_reference"
	Event         = "event"
	Attempt       = "attempt"
	IdemKey       = "idempotency_key"
	RequestID     = "request_id"
	Method        = "method"
	Path          = "path"
	Code          = "code"
	Duration      = "duration"
	Tool          = "tool"
	Error         = "error"
)
