package payment

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/templui/pledge/internal/config"
)

// NewGateway creates the payment gateway from configuration.
func NewGateway(cfg *config.Config) (Gateway, error) {
	slog.Info("initializing payment gateway", "provider", ProviderStripe)

	if cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.IsProduction() && strings.HasPrefix(cfg.StripeSecretKey, "sk_test_") {
		slog.Warn("stripe test key configured in production")
	}

	return NewStripeGateway(StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Timeout:       cfg.GatewayTimeout,
		MaxRetries:    2,
	}), nil
}
