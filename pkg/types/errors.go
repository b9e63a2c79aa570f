package types

import (
	"errors"
	"fmt"
)

// Domain errors shared by the order and payment aggregates
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidState      = errors.New("invalid payment state")
	ErrGateway           = errors.New("payment gateway error")
	ErrConflict          = errors.New("conflict")

	// ErrAmountMismatch is an ErrInvalidInput raised when a payment amount differs from the order total
	ErrAmountMismatch = fmt.Errorf("%w: payment amount does not match order total", ErrInvalidInput)
)

// TransitionError reports a rejected status change on an order or payment.
// It unwraps to ErrInvalidTransition for orders and ErrInvalidState for payments.
type TransitionError struct {
	Entity string // "order" or "payment"
	ID     int64
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal operation: cannot move %s %d from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.Entity == "payment" {
		return ErrInvalidState
	}
	return ErrInvalidTransition
}
