package gateway

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_Charge(t *testing.T) {
	gw := NewSimulated()
	ctx := context.Background()

	result, err := gw.Charge(ctx, ChargeRequest{PaymentID: 1, TransactionID: "TXN-ABC", Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)
	assert.True(t, result.Settled)
	assert.Equal(t, "sim_TXN-ABC", result.Reference)
	assert.Equal(t, "Payment processed successfully", result.Message)
	assert.Equal(t, int64(1), gw.Charges())
	assert.Equal(t, ProviderSimulated, gw.Name())
}

func TestSimulated_Async(t *testing.T) {
	gw := NewSimulated()
	gw.SettleAsync(true)

	result, err := gw.Charge(context.Background(), ChargeRequest{TransactionID: "TXN-ASYNC"})
	require.NoError(t, err)
	assert.False(t, result.Settled)
	assert.Equal(t, "Payment being processed", result.Message)
}

func TestSimulated_Failures(t *testing.T) {
	gw := NewSimulated()
	ctx := context.Background()

	gw.FailCharges(ErrDeclined)
	_, err := gw.Charge(ctx, ChargeRequest{TransactionID: "TXN-1"})
	assert.ErrorIs(t, err, ErrDeclined)

	gw.FailCharges(nil)
	_, err = gw.Charge(ctx, ChargeRequest{TransactionID: "TXN-1"})
	assert.NoError(t, err)

	gw.FailRefunds(ErrUnavailable)
	_, err = gw.Refund(ctx, RefundRequest{TransactionID: "TXN-1"})
	assert.ErrorIs(t, err, ErrUnavailable)

	gw.FailRefunds(nil)
	refund, err := gw.Refund(ctx, RefundRequest{TransactionID: "TXN-1"})
	require.NoError(t, err)
	assert.Equal(t, "sim_re_TXN-1", refund.Reference)
	assert.Equal(t, int64(2), gw.Refunds())
}

func TestSimulated_CancelledContext(t *testing.T) {
	gw := NewSimulated()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.Charge(ctx, ChargeRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
