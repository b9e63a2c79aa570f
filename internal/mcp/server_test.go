package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/audira-commerce/internal/checkout"
	"github.com/dshills/audira-commerce/internal/gateway"
	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/internal/payments"
	"github.com/dshills/audira-commerce/internal/storage"
	"github.com/dshills/audira-commerce/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *gateway.Simulated) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gw := gateway.NewSimulated()
	orderSvc := orders.NewService(store, nil, nil)
	paymentSvc := payments.NewService(store, orderSvc, gw, nil, nil)
	coordinator, err := checkout.NewCoordinator(orderSvc, paymentSvc, nil, 16)
	require.NoError(t, err)

	server, err := NewServer(Config{
		Storage:     store,
		Orders:      orderSvc,
		Payments:    paymentSvc,
		Coordinator: coordinator,
	})
	require.NoError(t, err)
	return server, gw
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func decodeResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var v T
	require.NoError(t, json.Unmarshal([]byte(text.Text), &v), text.Text)
	return v
}

func requireCode(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
	return mcpErr
}

func orderArgs() map[string]interface{} {
	return map[string]interface{}{
		"user_id": float64(1),
		"items": []interface{}{
			map[string]interface{}{"itemType": "SONG", "itemId": float64(1), "quantity": float64(2), "unitPrice": "1.50"},
		},
		"shipping_address": "X",
	}
}

func TestNewServer_RequiresServices(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestServer_ListsTools(t *testing.T) {
	server, _ := newTestServer(t)

	msg := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	raw, err := json.Marshal(server.mcp.HandleMessage(context.Background(), msg))
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"create_order", "get_order", "update_order_status", "cancel_order",
		"create_payment", "process_payment", "refund_payment", "checkout", "get_status",
	}, names)
}

func TestTools_OrderPaymentRoundTrip(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	result, err := server.handleCreateOrder(ctx, callRequest("create_order", orderArgs()))
	require.NoError(t, err)
	order := decodeResult[types.Order](t, result)
	assert.Equal(t, types.OrderPending, order.Status)
	assert.True(t, decimal.RequireFromString("3.00").Equal(order.TotalAmount))

	result, err = server.handleCreatePayment(ctx, callRequest("create_payment", map[string]interface{}{
		"order_id": float64(order.ID), "user_id": float64(1), "amount": "3.00", "payment_method": "credit_card",
	}))
	require.NoError(t, err)
	payment := decodeResult[types.Payment](t, result)
	assert.Equal(t, types.PaymentPending, payment.Status)

	result, err = server.handleProcessPayment(ctx, callRequest("process_payment", map[string]interface{}{
		"payment_id": float64(payment.ID),
	}))
	require.NoError(t, err)
	assert.Equal(t, types.PaymentCompleted, decodeResult[types.Payment](t, result).Status)

	result, err = server.handleGetOrder(ctx, callRequest("get_order", map[string]interface{}{
		"order_number": order.OrderNumber,
	}))
	require.NoError(t, err)
	view := decodeResult[struct {
		Order    types.Order     `json:"order"`
		Payments []types.Payment `json:"payments"`
	}](t, result)
	assert.Equal(t, types.OrderProcessing, view.Order.Status)
	require.Len(t, view.Payments, 1)

	result, err = server.handleRefundPayment(ctx, callRequest("refund_payment", map[string]interface{}{
		"payment_id": float64(payment.ID),
	}))
	require.NoError(t, err)
	refunded := decodeResult[types.Payment](t, result)
	assert.Equal(t, types.PaymentRefunded, refunded.Status)

	_, err = server.handleRefundPayment(ctx, callRequest("refund_payment", map[string]interface{}{
		"payment_id": float64(payment.ID),
	}))
	requireCode(t, err, ErrorCodeIllegalTransition)
}

func TestTools_OrderStatus(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	result, err := server.handleCreateOrder(ctx, callRequest("create_order", orderArgs()))
	require.NoError(t, err)
	order := decodeResult[types.Order](t, result)

	_, err = server.handleUpdateOrderStatus(ctx, callRequest("update_order_status", map[string]interface{}{
		"order_id": float64(order.ID), "status": "DELIVERED",
	}))
	requireCode(t, err, ErrorCodeIllegalTransition)

	_, err = server.handleUpdateOrderStatus(ctx, callRequest("update_order_status", map[string]interface{}{
		"order_id": float64(order.ID), "status": "LOST",
	}))
	requireCode(t, err, ErrorCodeInvalidParams)

	result, err = server.handleCancelOrder(ctx, callRequest("cancel_order", map[string]interface{}{
		"order_id": float64(order.ID),
	}))
	require.NoError(t, err)
	assert.Equal(t, types.OrderCancelled, decodeResult[types.Order](t, result).Status)

	_, err = server.handleCancelOrder(ctx, callRequest("cancel_order", map[string]interface{}{
		"order_id": float64(999),
	}))
	requireCode(t, err, ErrorCodeNotFound)
}

func TestTools_InvalidArguments(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	req := mcp.CallToolRequest{}
	req.Params.Arguments = "not an object"
	_, err := server.handleCreateOrder(ctx, req)
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = server.handleGetOrder(ctx, callRequest("get_order", map[string]interface{}{}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = server.handleCreateOrder(ctx, callRequest("create_order", map[string]interface{}{
		"user_id": "one",
	}))
	requireCode(t, err, ErrorCodeInvalidParams)

	args := orderArgs()
	args["items"] = []interface{}{}
	_, err = server.handleCreateOrder(ctx, callRequest("create_order", args))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestTools_Checkout(t *testing.T) {
	server, gw := newTestServer(t)
	ctx := context.Background()

	args := orderArgs()
	args["payment_method"] = "PAYPAL"
	args["idempotency_key"] = "mcp-1"

	result, err := server.handleCheckout(ctx, callRequest("checkout", args))
	require.NoError(t, err)
	first := decodeResult[checkout.CheckoutResult](t, result)
	assert.Equal(t, types.OrderProcessing, first.Order.Status)
	assert.Equal(t, types.PaymentCompleted, first.Payment.Status)

	result, err = server.handleCheckout(ctx, callRequest("checkout", args))
	require.NoError(t, err)
	second := decodeResult[checkout.CheckoutResult](t, result)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, int64(1), gw.Charges())
}

func TestTools_CheckoutGatewayFailure(t *testing.T) {
	server, gw := newTestServer(t)
	gw.FailCharges(gateway.ErrDeclined)

	args := orderArgs()
	args["payment_method"] = "CREDIT_CARD"
	_, err := server.handleCheckout(context.Background(), callRequest("checkout", args))

	mcpErr := requireCode(t, err, ErrorCodeGateway)
	result, ok := mcpErr.Data.(*checkout.CheckoutResult)
	require.True(t, ok)
	assert.Equal(t, types.OrderPending, result.Order.Status)
	assert.Equal(t, types.PaymentFailed, result.Payment.Status)
}

func TestTools_GetStatus(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	_, err := server.handleCreateOrder(ctx, callRequest("create_order", orderArgs()))
	require.NoError(t, err)

	result, err := server.handleGetStatus(ctx, callRequest("get_status", nil))
	require.NoError(t, err)

	status := decodeResult[map[string]interface{}](t, result)
	ordersView, ok := status["orders"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), ordersView["total"])

	health, ok := status["health"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, health["database_accessible"])
	assert.Equal(t, true, health["foreign_keys_enabled"])
}

func TestDecodeArgs(t *testing.T) {
	var fromMap paymentArgs
	require.NoError(t, decodeArgs(callRequest("refund_payment", map[string]interface{}{
		"payment_id": float64(7), "transaction_id": "ext-1",
	}), &fromMap))
	assert.Equal(t, paymentArgs{PaymentID: 7, TransactionID: "ext-1"}, fromMap)

	raw := mcp.CallToolRequest{}
	raw.Params.Arguments = json.RawMessage(`{"order_id": 3, "status": "SHIPPED"}`)
	var fromRaw orderStatusArgs
	require.NoError(t, decodeArgs(raw, &fromRaw))
	assert.Equal(t, orderStatusArgs{OrderID: 3, Status: "SHIPPED"}, fromRaw)

	var none getOrderArgs
	require.NoError(t, decodeArgs(mcp.CallToolRequest{}, &none))
	assert.Zero(t, none)

	err := decodeArgs(callRequest("get_order", map[string]interface{}{"order_id": "seven"}), &none)
	requireCode(t, err, ErrorCodeInvalidParams)
}
