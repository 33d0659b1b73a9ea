package payment

import (
	"context"
)

// Metadata type tags threaded through the gateway so asynchronous events can
// be matched back to the goal that started them.
const (
	MetadataTypePledgeSetup         = "goal_pledge_setup"
	MetadataTypePaymentMethodUpdate = "payment_method_update"
	MetadataTypePledgeCharge        = "goal_pledge_charge"

	SetupTypeFuturePayment   = "future_payment"
	SetupTypePaymentRecovery = "payment_recovery"
)

// Gateway is the external payment processor as seen by the engine. One
// instance is built at startup and injected into every service that needs it.
type Gateway interface {
	// CreateCustomer registers a payment customer for the user and returns its handle.
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	// CreateSetupSession opens a hosted flow that collects a card without charging it.
	CreateSetupSession(ctx context.Context, params SetupSessionParams) (*SetupSession, error)

	// ResolveSetupSession re-reads a setup session and recovers the payment
	// method it produced, attaching it to the customer if needed.
	ResolveSetupSession(ctx context.Context, sessionID string) (*SetupResult, error)

	// HasSavedPaymentMethods reports whether the customer has at least one stored card.
	HasSavedPaymentMethods(ctx context.Context, customerID string) (bool, error)

	// Charge confirms an off-session payment with the stored method. Failures
	// are returned as *apperr.GatewayError.
	Charge(ctx context.Context, params ChargeParams) (*Charge, error)

	// ParseEvent verifies the webhook signature and decodes the event.
	ParseEvent(payload []byte, signature string) (*Event, error)

	Name() string
}

type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}

type SetupSessionParams struct {
	CustomerID string
	Metadata   SetupMetadata
	SuccessURL string
	CancelURL  string
}

type SetupSession struct {
	ID  string
	URL string
}

type SetupResult struct {
	SessionID       string
	Complete        bool
	PaymentMethodID string
	CustomerID      string
	Metadata        SetupMetadata
}

type ChargeParams struct {
	CustomerID      string
	PaymentMethodID string
	AmountMinor     int64
	Currency        string
	IdempotencyKey  string
	Metadata        ChargeMetadata
}

type Charge struct {
	PaymentIntentID string
	Status          string
	AmountMinor     int64
	Currency        string
}

// SetupMetadata is carried on setup sessions and their setup intents.
type SetupMetadata struct {
	GoalID    string `json:"goalId"`
	UserID    string `json:"userId"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	SetupType string `json:"setupType"`
}

func (m SetupMetadata) toMap() map[string]string {
	out := map[string]string{
		"goalId":    m.GoalID,
		"userId":    m.UserID,
		"type":      m.Type,
		"setupType": m.SetupType,
	}
	if m.Amount != "" {
		out["amount"] = m.Amount
	}
	return out
}

func setupMetadataFrom(m map[string]string) SetupMetadata {
	return SetupMetadata{
		GoalID:    m["goalId"],
		UserID:    m["userId"],
		Type:      m["type"],
		Amount:    m["amount"],
		SetupType: m["setupType"],
	}
}

// ChargeMetadata is carried on payment intents created by the settlement sweep.
type ChargeMetadata struct {
	GoalID string `json:"goalId"`
	UserID string `json:"userId"`
	Type   string `json:"type"`
}
