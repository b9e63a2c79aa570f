package gateway

import (
	"fmt"
	"os"
	"strings"
)

// Config holds gateway selection settings
type Config struct {
	Provider  string // simulated, stripe, or empty to auto-detect
	StripeKey string
	Currency  string
}

// NewFromEnv creates a gateway based on environment variables
// Priority:
// 1. AUDIRA_GATEWAY (simulated, stripe)
// 2. STRIPE_SECRET_KEY present selects stripe
// 3. Default to simulated
func NewFromEnv() (Gateway, error) {
	return New(Config{
		Provider:  os.Getenv("AUDIRA_GATEWAY"),
		StripeKey: os.Getenv("STRIPE_SECRET_KEY"),
	})
}

// New creates a gateway with explicit configuration
func New(cfg Config) (Gateway, error) {
	switch DetectProvider(cfg.Provider, cfg.StripeKey) {
	case ProviderStripe:
		return NewStripe(StripeConfig{SecretKey: cfg.StripeKey, Currency: cfg.Currency})
	case ProviderSimulated:
		return NewSimulated(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider New would use
func DetectProvider(provider, stripeKey string) string {
	if provider != "" {
		return strings.ToLower(provider)
	}
	if stripeKey != "" {
		return ProviderStripe
	}
	return ProviderSimulated
}
