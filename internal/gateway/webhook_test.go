package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test"

func signedEvent(t *testing.T, eventType string, intent map[string]interface{}) ([]byte, string) {
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

func TestParseStripeWebhook_Succeeded(t *testing.T) {
	payload, header := signedEvent(t, "payment_intent.succeeded", map[string]interface{}{
		"id": "pi_123", "object": "payment_intent", "status": "succeeded",
		"metadata": map[string]string{"payment_id": "42"},
	})

	ev, err := ParseStripeWebhook(payload, header, testWebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, WebhookSucceeded, ev.Outcome)
	assert.Equal(t, "pi_123", ev.Reference)
	assert.Equal(t, int64(42), ev.PaymentID)
	assert.Equal(t, "evt_1", ev.ID)
}

func TestParseStripeWebhook_Failed(t *testing.T) {
	payload, header := signedEvent(t, "payment_intent.payment_failed", map[string]interface{}{
		"id": "pi_123", "object": "payment_intent", "status": "requires_payment_method",
		"last_payment_error": map[string]string{"type": "card_error", "message": "Insufficient funds"},
	})

	ev, err := ParseStripeWebhook(payload, header, testWebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, WebhookFailed, ev.Outcome)
	assert.Equal(t, "Insufficient funds", ev.Message)
	assert.Zero(t, ev.PaymentID)
}

func TestParseStripeWebhook_Ignored(t *testing.T) {
	payload, header := signedEvent(t, "charge.refunded", map[string]interface{}{"id": "ch_1", "object": "charge"})

	ev, err := ParseStripeWebhook(payload, header, testWebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, ev.Outcome)
	assert.Empty(t, ev.Reference)
}

func TestParseStripeWebhook_BadSignature(t *testing.T) {
	payload, header := signedEvent(t, "payment_intent.succeeded", map[string]interface{}{"id": "pi_1"})

	_, err := ParseStripeWebhook(payload, header, "whsec_other")
	assert.Error(t, err)

	_, err = ParseStripeWebhook(payload, "", testWebhookSecret)
	assert.Error(t, err)
}
