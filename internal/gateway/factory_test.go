package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		stripeKey string
		expected  string
	}{
		{"explicit simulated", "simulated", "sk_test", ProviderSimulated},
		{"explicit stripe mixed case", "Stripe", "", ProviderStripe},
		{"stripe key present", "", "sk_test", ProviderStripe},
		{"no configuration", "", "", ProviderSimulated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectProvider(tt.provider, tt.stripeKey))
		})
	}
}

func TestNew(t *testing.T) {
	gw, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, ProviderSimulated, gw.Name())

	gw, err = New(Config{StripeKey: "sk_test_123"})
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, gw.Name())

	// Stripe without a key cannot be built
	_, err = New(Config{Provider: "stripe"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = New(Config{Provider: "paypal"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("AUDIRA_GATEWAY", "")
	t.Setenv("STRIPE_SECRET_KEY", "")

	gw, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderSimulated, gw.Name())
}
