package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// WebhookOutcome is what a processor notification means for a payment
type WebhookOutcome string

const (
	WebhookSucceeded WebhookOutcome = "succeeded"
	WebhookFailed    WebhookOutcome = "failed"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// WebhookEvent is a verified processor notification reduced to what the payment aggregate needs
type WebhookEvent struct {
	ID        string
	Type      string
	Outcome   WebhookOutcome
	Reference string // PaymentIntent id
	PaymentID int64  // from metadata, 0 when absent
	Message   string
}

// ParseStripeWebhook verifies the Stripe-Signature header and decodes PaymentIntent events.
// Event types other than payment_intent.succeeded and payment_intent.payment_failed are ignored.
func ParseStripeWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type), Outcome: WebhookIgnored}
	switch out.Type {
	case "payment_intent.succeeded":
		out.Outcome = WebhookSucceeded
	case "payment_intent.payment_failed":
		out.Outcome = WebhookFailed
	default:
		return out, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("webhook %s has no data", event.ID)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent: %w", err)
	}

	out.Reference = intent.ID
	if id, err := strconv.ParseInt(intent.Metadata["payment_id"], 10, 64); err == nil {
		out.PaymentID = id
	}
	if out.Outcome == WebhookSucceeded {
		out.Message = "Payment completed successfully"
	} else if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		out.Message = intent.LastPaymentError.Msg
	} else {
		out.Message = "Payment marked as failed"
	}
	return out, nil
}
