package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	"github.com/dshills/audira-commerce/internal/checkout"
	"github.com/dshills/audira-commerce/internal/logkey"
	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/internal/payments"
	"github.com/dshills/audira-commerce/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound          = -32001 // Order or payment does not exist
	ErrorCodeIllegalTransition = -32002 // Status change not allowed from the current status
	ErrorCodeConflict          = -32003 // Competing operation or duplicate payment
	ErrorCodeGateway           = -32004 // Payment processor rejected or failed the call
)

type createOrderArgs struct {
	UserID          int64            `json:"user_id"`
	Items           []types.LineItem `json:"items"`
	ShippingAddress string           `json:"shipping_address"`
}

type getOrderArgs struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

type orderStatusArgs struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

type createPaymentArgs struct {
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

type paymentArgs struct {
	PaymentID     int64  `json:"payment_id"`
	TransactionID string `json:"transaction_id"`
}

type checkoutArgs struct {
	createOrderArgs
	PaymentMethod  string `json:"payment_method"`
	IdempotencyKey string `json:"idempotency_key"`
}

// handleCreateOrder handles the create_order tool invocation
func (s *Server) handleCreateOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args createOrderArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}

	order, err := s.orders.Create(ctx, orders.CreateOrderRequest{
		UserID:          args.UserID,
		Items:           args.Items,
		ShippingAddress: args.ShippingAddress,
	})
	if err != nil {
		return nil, s.toolError(request, err, nil)
	}
	return mcp.NewToolResultText(formatJSON(order)), nil
}

// handleGetOrder handles the get_order tool invocation
func (s *Server) handleGetOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args getOrderArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}

	var (
		order *types.Order
		err   error
	)
	switch {
	case args.OrderID > 0:
		order, err = s.orders.Get(ctx, args.OrderID)
	case args.OrderNumber != "":
		order, err = s.orders.GetByNumber(ctx, args.OrderNumber)
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "order_id or order_number is required", map[string]interface{}{
			"param":  "order_id",
			"reason": "missing or empty",
		})
	}
	if err != nil {
		return nil, s.toolError(request, err, nil)
	}

	attempts, err := s.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, s.toolError(request, err, nil)
	}
	if attempts == nil {
		attempts = []*types.Payment{}
	}

	response := map[string]interface{}{
		"order":    order,
		"payments": attempts,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleUpdateOrderStatus handles the update_order_status tool invocation
func (s *Server) handleUpdateOrderStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args orderStatusArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}
	target, err := types.ParseOrderStatus(args.Status)
	if err != nil {
		return nil, s.toolError(request, err, nil)
	}

	order, err := s.coordinator.UpdateOrderStatus(ctx, args.OrderID, target)
	if err != nil {
		return nil, s.toolError(request, err, nil)
	}
	return mcp.NewToolResultText(formatJSON(order)), nil
}

// handleCancelOrder handles the cancel_order tool invocation
func (s *Server) handleCancelOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args orderStatusArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}

	order, err := s.coordinator.CancelOrder(ctx, args.OrderID)
	if err != nil {
		return nil, s.toolError(request, err, nil)
	}
	return mcp.NewToolResultText(formatJSON(order)), nil
}

// handleCreatePayment handles the create_payment tool invocation
func (s *Server) handleCreatePayment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args createPaymentArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}

	payment, err := s.payments.Create(ctx, payments.CreatePaymentRequest{
		OrderID: args.OrderID,
		UserID:  args.UserID,
		Amount:  args.Amount,
		Method:  types.PaymentMethod(args.PaymentMethod),
	})
	if err != nil {
		return nil, s.toolError(request, err, nil)
	}
	return mcp.NewToolResultText(formatJSON(payment)), nil
}

// handleProcessPayment handles the process_payment tool invocation
func (s *Server) handleProcessPayment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args paymentArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}

	payment, err := s.coordinator.ProcessPayment(ctx, args.PaymentID, args.TransactionID)
	if err != nil {
		return nil, s.toolError(request, err, paymentData(payment))
	}
	return mcp.NewToolResultText(formatJSON(payment)), nil
}

// handleRefundPayment handles the refund_payment tool invocation
func (s *Server) handleRefundPayment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args paymentArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}

	payment, err := s.payments.Refund(ctx, args.PaymentID)
	if err != nil {
		return nil, s.toolError(request, err, paymentData(payment))
	}
	return mcp.NewToolResultText(formatJSON(payment)), nil
}

// handleCheckout handles the checkout tool invocation
func (s *Server) handleCheckout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args checkoutArgs
	if err := decodeArgs(request, &args); err != nil {
		return nil, err
	}

	result, err := s.coordinator.Checkout(ctx, checkout.CheckoutRequest{
		UserID:          args.UserID,
		Items:           args.Items,
		ShippingAddress: args.ShippingAddress,
		Method:          types.PaymentMethod(args.PaymentMethod),
		IdempotencyKey:  args.IdempotencyKey,
	})
	if err != nil {
		var data interface{}
		if result != nil {
			data = result
		}
		return nil, s.toolError(request, err, data)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"orders": map[string]interface{}{
			"total":     status.TotalOrders,
			"by_status": status.OrdersByStatus,
		},
		"payments": map[string]interface{}{
			"total":     status.TotalPayments,
			"by_status": status.PaymentsByStatus,
		},
		"database": map[string]interface{}{
			"schema_version": status.SchemaVersion,
			"size_mb":        fmt.Sprintf("%.2f", status.DatabaseSizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"foreign_keys_enabled": status.Health.ForeignKeysEnabled,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// decodeArgs binds the tool arguments to a typed struct
func decodeArgs(request mcp.CallToolRequest, v interface{}) error {
	if err := request.BindArguments(v); err != nil {
		return newMCPError(ErrorCodeInvalidParams, "invalid arguments", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return nil
}

// toolError maps a domain error onto an MCP error code. data is attached as is.
func (s *Server) toolError(request mcp.CallToolRequest, err error, data interface{}) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, types.ErrInvalidTransition), errors.Is(err, types.ErrInvalidState):
		code = ErrorCodeIllegalTransition
	case errors.Is(err, types.ErrConflict):
		code = ErrorCodeConflict
	case errors.Is(err, types.ErrGateway):
		code = ErrorCodeGateway
	}

	if code == ErrorCodeInternalError {
		s.logger.Error("tool failed",
			slog.String(logkey.Tool, request.Params.Name),
			slog.Any(logkey.Error, err))
	}
	return &MCPError{Code: code, Message: err.Error(), Data: data}
}

func paymentData(p *types.Payment) interface{} {
	if p == nil {
		return nil
	}
	return map[string]interface{}{"payment": p}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
