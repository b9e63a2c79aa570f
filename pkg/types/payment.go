package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the settlement status of a payment attempt
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

var paymentStatuses = map[PaymentStatus]bool{
	PaymentPending:    true,
	PaymentProcessing: true,
	PaymentCompleted:  true,
	PaymentFailed:     true,
	PaymentRefunded:   true,
}

// ParsePaymentStatus parses a status name case-insensitively
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !paymentStatuses[status] {
		return "", fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, s)
	}
	return status, nil
}

// IsOpen reports whether the payment is still in flight (PENDING or PROCESSING)
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentPending || s == PaymentProcessing
}

// CanProcess reports whether the payment may be sent to the gateway (PENDING only)
func (s PaymentStatus) CanProcess() bool {
	return s == PaymentPending
}

// CanComplete reports whether COMPLETED is reachable (from PENDING or PROCESSING)
func (s PaymentStatus) CanComplete() bool {
	return s == PaymentPending || s == PaymentProcessing
}

// CanFail reports whether FAILED is reachable; never from COMPLETED or REFUNDED
func (s PaymentStatus) CanFail() bool {
	return s != PaymentCompleted && s != PaymentRefunded
}

// CanRefund reports whether REFUNDED is reachable (from COMPLETED only)
func (s PaymentStatus) CanRefund() bool {
	return s == PaymentCompleted
}

// PaymentMethod is the instrument used to pay
type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodDebitCard    PaymentMethod = "DEBIT_CARD"
	MethodPayPal       PaymentMethod = "PAYPAL"
	MethodStripe       PaymentMethod = "STRIPE"
	MethodApplePay     PaymentMethod = "APPLE_PAY"
	MethodGooglePay    PaymentMethod = "GOOGLE_PAY"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

var paymentMethods = map[PaymentMethod]bool{
	MethodCreditCard:   true,
	MethodDebitCard:    true,
	MethodPayPal:       true,
	MethodStripe:       true,
	MethodApplePay:     true,
	MethodGooglePay:    true,
	MethodBankTransfer: true,
}

// ParsePaymentMethod parses a method name case-insensitively
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	if !paymentMethods[method] {
		return "", fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, s)
	}
	return method, nil
}

// Payment is one attempt to collect funds for an order
type Payment struct {
	ID                  int64           `json:"id"`
	OrderID             int64           `json:"orderId"`
	UserID              int64           `json:"userId"`
	Amount              decimal.Decimal `json:"amount"`
	PaymentMethod       PaymentMethod   `json:"paymentMethod"`
	Status              PaymentStatus   `json:"status"`
	TransactionID       string          `json:"transactionId"`
	RefundTransactionID string          `json:"refundTransactionId,omitempty"`
	GatewayReference    string          `json:"gatewayReference,omitempty"`
	GatewayResponse     string          `json:"gatewayResponse,omitempty"`
	ErrorMessage        string          `json:"errorMessage,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}
