package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/dshills/audira-commerce/internal/checkout"
	"github.com/dshills/audira-commerce/internal/gateway"
	"github.com/dshills/audira-commerce/internal/orders"
	"github.com/dshills/audira-commerce/internal/payments"
	"github.com/dshills/audira-commerce/internal/storage"
	"github.com/dshills/audira-commerce/pkg/types"
)

const testWebhookSecret = "whsec_test"

type fixture struct {
	handler http.Handler
	gw      *gateway.Simulated
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gw := gateway.NewSimulated()
	orderSvc := orders.NewService(store, nil, nil)
	paymentSvc := payments.NewService(store, orderSvc, gw, nil, nil)
	coordinator, err := checkout.NewCoordinator(orderSvc, paymentSvc, nil, 16)
	require.NoError(t, err)

	srv := NewServer(Config{
		Orders:        orderSvc,
		Payments:      paymentSvc,
		Coordinator:   coordinator,
		WebhookSecret: testWebhookSecret,
	})
	return &fixture{handler: srv.Routes(), gw: gw}
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func orderBody() map[string]interface{} {
	return map[string]interface{}{
		"userId": 1,
		"items": []map[string]interface{}{
			{"itemType": "SONG", "itemId": 1, "quantity": 2, "unitPrice": "1.50"},
		},
		"shippingAddress": "X",
	}
}

func (f *fixture) createOrder(t *testing.T) types.Order {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/orders", orderBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[types.Order](t, rec)
}

func TestPing(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestOrders_CreateAndRead(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t)

	assert.Equal(t, types.OrderPending, order.Status)
	assert.True(t, decimal.RequireFromString("3.00").Equal(order.TotalAmount))
	assert.Len(t, order.Items, 1)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.OrderNumber, decode[types.Order](t, rec).OrderNumber)

	rec = f.do(t, http.MethodGet, "/orders/order-number/"+order.OrderNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.ID, decode[types.Order](t, rec).ID)

	for _, path := range []string{"/orders", "/orders/user/1", "/orders/status/pending", "/orders/user/1/status/PENDING"} {
		rec = f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Len(t, decode[[]types.Order](t, rec), 1, path)
	}

	rec = f.do(t, http.MethodGet, "/orders/user/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOrders_ErrorMapping(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing order", http.MethodGet, "/orders/999", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/orders/abc", nil, http.StatusBadRequest},
		{"unknown status filter", http.MethodGet, "/orders/status/LOST", nil, http.StatusBadRequest},
		{"empty items", http.MethodPost, "/orders", map[string]interface{}{"userId": 1, "items": []interface{}{}, "shippingAddress": "X"}, http.StatusBadRequest},
		{"no body", http.MethodPost, "/orders", nil, http.StatusBadRequest},
		{"skip a step", http.MethodPut, fmt.Sprintf("/orders/%d/status", order.ID), map[string]string{"status": "SHIPPED"}, http.StatusConflict},
		{"unknown target", http.MethodPut, fmt.Sprintf("/orders/%d/status", order.ID), map[string]string{"status": "LOST"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]interface{}](t, rec)["error"])
		})
	}
}

func TestOrders_StatusCancelDelete(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t)
	path := fmt.Sprintf("/orders/%d", order.ID)

	rec := f.do(t, http.MethodPut, path+"/status", map[string]string{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.OrderProcessing, decode[types.Order](t, rec).Status)

	rec = f.do(t, http.MethodPost, path+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.OrderCancelled, decode[types.Order](t, rec).Status)

	rec = f.do(t, http.MethodPost, path+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayments_CreateFromQueryAndBody(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/payments?orderId=%d&userId=1&amount=2.99&paymentMethod=CREDIT_CARD", order.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "amount must match the total")

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/payments?orderId=%d&userId=1&amount=3.00&paymentMethod=CREDIT_CARD", order.ID), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decode[types.Payment](t, rec)
	assert.Equal(t, types.PaymentPending, payment.Status)
	assert.NotEmpty(t, payment.TransactionID)

	// one open payment per order
	rec = f.do(t, http.MethodPost, "/payments", map[string]interface{}{
		"orderId": order.ID, "userId": 1, "amount": "3.00", "paymentMethod": "PAYPAL",
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestPayments_Lifecycle(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t)

	rec := f.do(t, http.MethodPost, "/payments", map[string]interface{}{
		"orderId": order.ID, "userId": 1, "amount": "3.00", "paymentMethod": "CREDIT_CARD",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decode[types.Payment](t, rec)
	path := fmt.Sprintf("/payments/%d", payment.ID)

	rec = f.do(t, http.MethodPost, path+"/process?transactionId=ext-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	processed := decode[types.Payment](t, rec)
	assert.Equal(t, types.PaymentCompleted, processed.Status)
	assert.Equal(t, "ext-1", processed.TransactionID)
	assert.NotEmpty(t, processed.GatewayResponse)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), nil)
	assert.Equal(t, types.OrderProcessing, decode[types.Order](t, rec).Status)

	rec = f.do(t, http.MethodGet, "/payments/transaction/ext-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payment.ID, decode[types.Payment](t, rec).ID)

	rec = f.do(t, http.MethodPost, path+"/fail", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "completed payments cannot fail")

	rec = f.do(t, http.MethodPost, path+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refunded := decode[types.Payment](t, rec)
	assert.Equal(t, types.PaymentRefunded, refunded.Status)
	assert.NotEqual(t, refunded.TransactionID, refunded.RefundTransactionID)

	rec = f.do(t, http.MethodPost, path+"/refund", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, p := range []string{"/payments/status/REFUNDED", "/payments/user/1", fmt.Sprintf("/payments/order/%d/all", order.ID)} {
		rec = f.do(t, http.MethodGet, p, nil)
		require.Equal(t, http.StatusOK, rec.Code, p)
		assert.Len(t, decode[[]types.Payment](t, rec), 1, p)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/payments/order/%d", order.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payment.ID, decode[types.Payment](t, rec).ID)
}

func TestPayments_FailWithReason(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t)
	rec := f.do(t, http.MethodPost, "/payments", map[string]interface{}{
		"orderId": order.ID, "userId": 1, "amount": "3.00", "paymentMethod": "BANK_TRANSFER",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	payment := decode[types.Payment](t, rec)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/payments/%d/fail", payment.ID), map[string]string{"reason": "Card expired"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	failed := decode[types.Payment](t, rec)
	assert.Equal(t, types.PaymentFailed, failed.Status)
	assert.Equal(t, "Card expired", failed.ErrorMessage)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/payments/%d/complete", payment.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPayments_GatewayFailureReturnsPayment(t *testing.T) {
	f := setup(t)
	f.gw.FailCharges(gateway.ErrDeclined)
	order := f.createOrder(t)

	rec := f.do(t, http.MethodPost, "/payments", map[string]interface{}{
		"orderId": order.ID, "userId": 1, "amount": "3.00", "paymentMethod": "CREDIT_CARD",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	payment := decode[types.Payment](t, rec)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/payments/%d/process", payment.ID), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[struct {
		Error   string         `json:"error"`
		Payment *types.Payment `json:"payment"`
	}](t, rec)
	assert.NotEmpty(t, body.Error)
	require.NotNil(t, body.Payment)
	assert.Equal(t, types.PaymentFailed, body.Payment.Status)
}

func TestCheckout(t *testing.T) {
	f := setup(t)
	body := orderBody()
	body["paymentMethod"] = "CREDIT_CARD"

	rec := f.do(t, http.MethodPost, "/checkout", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[checkout.CheckoutResult](t, rec)
	assert.Equal(t, types.OrderProcessing, first.Order.Status)
	assert.Equal(t, types.PaymentCompleted, first.Payment.Status)

	rec = f.do(t, http.MethodPost, "/checkout", body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	replayed := decode[checkout.CheckoutResult](t, rec)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, first.Order.ID, replayed.Order.ID)
	assert.Equal(t, int64(1), f.gw.Charges())
}

func TestCheckout_Declined(t *testing.T) {
	f := setup(t)
	f.gw.FailCharges(gateway.ErrDeclined)
	body := orderBody()
	body["paymentMethod"] = "CREDIT_CARD"

	rec := f.do(t, http.MethodPost, "/checkout", body)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	result := decode[errorResponse](t, rec)
	require.NotNil(t, result.Order)
	require.NotNil(t, result.Payment)
	assert.Equal(t, types.OrderPending, result.Order.Status)
	assert.Equal(t, types.PaymentFailed, result.Payment.Status)

	// pay again once the card works
	f.gw.FailCharges(nil)
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/orders/%d/pay", result.Order.ID), map[string]string{"paymentMethod": "DEBIT_CARD"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	paid := decode[checkout.CheckoutResult](t, rec)
	assert.Equal(t, types.OrderProcessing, paid.Order.Status)
}

func signedEvent(t *testing.T, eventType string, intent map[string]interface{}) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2024-09-30.acacia",
		"data":        map[string]interface{}{"object": intent},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func (f *fixture) webhook(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook(t *testing.T) {
	f := setup(t)
	f.gw.SettleAsync(true)
	body := orderBody()
	body["paymentMethod"] = "STRIPE"

	rec := f.do(t, http.MethodPost, "/checkout", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[checkout.CheckoutResult](t, rec)
	require.Equal(t, types.PaymentProcessing, result.Payment.Status)

	payload, sig := signedEvent(t, "payment_intent.succeeded", map[string]interface{}{
		"id": result.Payment.GatewayReference, "object": "payment_intent", "status": "succeeded",
	})
	rec = f.webhook(t, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"COMPLETED"`)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/orders/%d", result.Order.ID), nil)
	assert.Equal(t, types.OrderProcessing, decode[types.Order](t, rec).Status)

	// unknown payments are acknowledged
	payload, sig = signedEvent(t, "payment_intent.succeeded", map[string]interface{}{
		"id": "pi_unknown", "object": "payment_intent", "status": "succeeded",
	})
	rec = f.webhook(t, payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.webhook(t, payload, "t=1,v1=bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook_CaptureAfterFailureAcknowledged(t *testing.T) {
	f := setup(t)
	f.gw.FailCharges(gateway.ErrUnavailable)
	body := orderBody()
	body["paymentMethod"] = "STRIPE"

	rec := f.do(t, http.MethodPost, "/checkout", body)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	failed := decode[errorResponse](t, rec)
	require.NotNil(t, failed.Payment)

	payload, sig := signedEvent(t, "payment_intent.succeeded", map[string]interface{}{
		"id": "pi_late", "object": "payment_intent", "status": "succeeded",
		"metadata": map[string]string{"payment_id": fmt.Sprint(failed.Payment.ID)},
	})
	for i := 0; i < 2; i++ {
		rec = f.webhook(t, payload, sig)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"FAILED"`)
	}
	assert.Equal(t, int64(1), f.gw.Refunds(), "captured funds are returned once")
}

func TestStripeWebhook_DisabledWithoutSecret(t *testing.T) {
	srv := NewServer(Config{})
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("wrap: %w", types.ErrNotFound)))
	assert.Equal(t, http.StatusBadRequest, statusFor(types.ErrAmountMismatch))
	assert.Equal(t, http.StatusConflict, statusFor(&types.TransitionError{Entity: "order", ID: 1, From: "CANCELLED", To: "SHIPPED"}))
	assert.Equal(t, http.StatusConflict, statusFor(types.ErrConflict))
	assert.Equal(t, http.StatusBadGateway, statusFor(types.ErrGateway))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
