package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
	"github.com/templui/pledge/internal/apperr"
)

const ProviderStripe = "stripe"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// BaseURL overrides the API endpoint, e.g. for stripe-mock.
	BaseURL    string
	MaxRetries int64
}

// StripeGateway talks to Stripe through its own client instead of the
// package-level stripe.Key.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if cfg.BaseURL != "" {
		backendConfig.URL = stripe.String(cfg.BaseURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}

	slog.Info("stripe gateway initialized", "timeout", timeout.String())

	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (s *StripeGateway) Name() string {
	return ProviderStripe
}

func (s *StripeGateway) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{"userId": p.UserID},
	}
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	params.Context = ctx

	customer, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", mapStripeError(err))
	}

	slog.Info("stripe customer created", "user_id", p.UserID, "customer_id", customer.ID)
	return customer.ID, nil
}

func (s *StripeGateway) CreateSetupSession(ctx context.Context, p SetupSessionParams) (*SetupSession, error) {
	metadata := p.Metadata.toMap()

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSetup)),
		Customer:           stripe.String(p.CustomerID),
		Currency:           stripe.String("usd"),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(p.SuccessURL),
		CancelURL:          stripe.String(p.CancelURL),
		SetupIntentData: &stripe.CheckoutSessionSetupIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create setup session: %w", mapStripeError(err))
	}

	slog.Info("stripe setup session created", "goal_id", p.Metadata.GoalID, "session_id", sess.ID, "type", p.Metadata.Type)
	return &SetupSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *StripeGateway) ResolveSetupSession(ctx context.Context, sessionID string) (*SetupResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("setup_intent.payment_method")
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve setup session: %w", mapStripeError(err))
	}

	result := &SetupResult{
		SessionID: sess.ID,
		Complete:  sess.Status == stripe.CheckoutSessionStatusComplete,
		Metadata:  setupMetadataFrom(sess.Metadata),
	}
	if sess.Customer != nil {
		result.CustomerID = sess.Customer.ID
	}

	intent := sess.SetupIntent
	if intent == nil || intent.PaymentMethod == nil {
		return result, nil
	}
	if intent.Status != stripe.SetupIntentStatusSucceeded {
		result.Complete = false
		return result, nil
	}
	result.PaymentMethodID = intent.PaymentMethod.ID

	if intent.PaymentMethod.Customer == nil && result.CustomerID != "" {
		attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(result.CustomerID)}
		attach.Context = ctx
		if _, err := s.api.PaymentMethods.Attach(result.PaymentMethodID, attach); err != nil {
			return nil, fmt.Errorf("failed to attach payment method: %w", mapStripeError(err))
		}
		slog.Info("stripe payment method attached", "customer_id", result.CustomerID, "payment_method_id", result.PaymentMethodID)
	}

	return result, nil
}

func (s *StripeGateway) HasSavedPaymentMethods(ctx context.Context, customerID string) (bool, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := s.api.PaymentMethods.List(params)
	found := iter.Next()
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("failed to list payment methods: %w", mapStripeError(err))
	}
	return found, nil
}

func (s *StripeGateway) Charge(ctx context.Context, p ChargeParams) (*Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.AmountMinor),
		Currency:      stripe.String(p.Currency),
		Customer:      stripe.String(p.CustomerID),
		PaymentMethod: stripe.String(p.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String("Pledge charge for missed goal"),
	}
	params.AddMetadata("goalId", p.Metadata.GoalID)
	params.AddMetadata("userId", p.Metadata.UserID)
	params.AddMetadata("type", p.Metadata.Type)
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx

	intent, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
	case stripe.PaymentIntentStatusRequiresAction:
		return nil, &apperr.GatewayError{
			Kind:            apperr.GatewayRequiresAction,
			Message:         "payment requires additional authentication",
			PaymentIntentID: intent.ID,
		}
	default:
		return nil, &apperr.GatewayError{
			Kind:            apperr.GatewayDeclined,
			Message:         fmt.Sprintf("payment ended in status %s", intent.Status),
			PaymentIntentID: intent.ID,
		}
	}

	return &Charge{
		PaymentIntentID: intent.ID,
		Status:          string(intent.Status),
		AmountMinor:     intent.Amount,
		Currency:        string(intent.Currency),
	}, nil
}

func (s *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	// API versions are backwards compatible for the fields read here
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		s.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify webhook signature: %v: %w", err, apperr.ErrSignature)
	}

	out := &Event{ID: event.ID, Type: string(event.Type), Payload: payload}
	if event.Data == nil {
		out.Data = UnknownEvent{}
		return out, nil
	}

	data, err := decodeEventData(out.Type, event.Data.Raw)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrSignature)
	}
	out.Data = data
	return out, nil
}

// mapStripeError classifies a Stripe failure so callers can pick the right
// notification without reading raw gateway messages.
func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &apperr.GatewayError{Kind: apperr.GatewayTransport, Message: err.Error(), Err: err}
	}

	gwErr := &apperr.GatewayError{
		Code:    string(se.Code),
		Message: se.Msg,
		Err:     err,
	}
	if se.PaymentIntent != nil {
		gwErr.PaymentIntentID = se.PaymentIntent.ID
	}

	switch {
	case se.Code == stripe.ErrorCodeAuthenticationRequired:
		gwErr.Kind = apperr.GatewayRequiresAction
	case se.PaymentIntent != nil && se.PaymentIntent.Status == stripe.PaymentIntentStatusRequiresAction:
		gwErr.Kind = apperr.GatewayRequiresAction
	case se.Code == stripe.ErrorCodeExpiredCard || se.DeclineCode == stripe.DeclineCodeExpiredCard:
		gwErr.Kind = apperr.GatewayExpired
	case se.DeclineCode == stripe.DeclineCodeInsufficientFunds:
		gwErr.Kind = apperr.GatewayInsufficientFunds
	case se.Type == stripe.ErrorTypeCard || se.Code == stripe.ErrorCodeCardDeclined:
		gwErr.Kind = apperr.GatewayDeclined
	default:
		gwErr.Kind = apperr.GatewayTransport
	}

	return gwErr
}
