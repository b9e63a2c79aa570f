// Package types provides the shared domain vocabulary of the commerce core.
//
// It defines the order and payment records, their status enums and guarded
// transitions, exact-decimal money helpers built on shopspring/decimal, the
// line item resolver, identifier generation and the sentinel errors used
// across storage, the aggregates and the transports.
//
// # Money
//
// Amounts are decimal.Decimal values and are never converted to floating
// point for arithmetic:
//
//	total := types.ComputeTotal([]types.LineItem{
//	    {ItemType: types.ItemSong, ItemID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("1.50")},
//	})
//	// total == 3.00
//
// # Status Guards
//
// Order transitions follow PENDING -> PROCESSING -> SHIPPED -> DELIVERED with
// CANCELLED reachable from every status except CANCELLED itself:
//
//	types.OrderPending.CanTransitionTo(types.OrderProcessing) // true
//	types.OrderCancelled.CanTransitionTo(types.OrderShipped)  // false
//
// Payment guards are expressed as predicates on PaymentStatus (CanProcess,
// CanComplete, CanFail, CanRefund).
//
// # Errors
//
// Every rejection wraps one of ErrNotFound, ErrInvalidInput,
// ErrInvalidTransition, ErrInvalidState, ErrGateway or ErrConflict so callers
// can branch with errors.Is. TransitionError carries the current and requested
// status for guard violations.
package types
