package payment

import (
	"encoding/json"
	"fmt"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSetupIntentSucceeded     = "setup_intent.succeeded"
	EventSetupIntentSetupFailed   = "setup_intent.setup_failed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventPaymentIntentCanceled    = "payment_intent.canceled"
)

// Event is a verified gateway event. Data holds exactly one of the payload
// types below, selected by Type.
type Event struct {
	ID      string
	Type    string
	Payload []byte
	Data    EventData
}

// EventData is implemented only by the payload types of this package.
type EventData interface {
	eventData()
}

type SetupSessionCompleted struct {
	SessionID     string
	SetupIntentID string
	CustomerID    string
	Metadata      SetupMetadata
}

type SetupIntentSucceeded struct {
	SetupIntentID   string
	PaymentMethodID string
	Metadata        SetupMetadata
}

type SetupIntentFailed struct {
	SetupIntentID string
	Reason        string
	Metadata      SetupMetadata
}

type PaymentIntentSucceeded struct {
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
	Metadata        ChargeMetadata
}

type PaymentIntentFailed struct {
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
	FailureReason   string
	Metadata        ChargeMetadata
}

type PaymentIntentCanceled struct {
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
	Metadata        ChargeMetadata
}

// UnknownEvent is any kind the engine does not act on.
type UnknownEvent struct{}

func (SetupSessionCompleted) eventData()  {}
func (SetupIntentSucceeded) eventData()   {}
func (SetupIntentFailed) eventData()      {}
func (PaymentIntentSucceeded) eventData() {}
func (PaymentIntentFailed) eventData()    {}
func (PaymentIntentCanceled) eventData()  {}
func (UnknownEvent) eventData()           {}

// expandable decodes a field that is either an id string or an expanded object.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		e.ID = id
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (p paymentIntentObject) chargeMetadata() ChargeMetadata {
	return ChargeMetadata{
		GoalID: p.Metadata["goalId"],
		UserID: p.Metadata["userId"],
		Type:   p.Metadata["type"],
	}
}

// decodeEventData maps the raw data.object of an event onto its payload type.
func decodeEventData(eventType string, raw json.RawMessage) (EventData, error) {
	switch eventType {
	case EventCheckoutSessionCompleted:
		var session struct {
			ID          string            `json:"id"`
			Mode        string            `json:"mode"`
			Customer    expandable        `json:"customer"`
			SetupIntent expandable        `json:"setup_intent"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		if session.Mode != "setup" {
			return UnknownEvent{}, nil
		}
		return SetupSessionCompleted{
			SessionID:     session.ID,
			SetupIntentID: session.SetupIntent.ID,
			CustomerID:    session.Customer.ID,
			Metadata:      setupMetadataFrom(session.Metadata),
		}, nil

	case EventSetupIntentSucceeded, EventSetupIntentSetupFailed:
		var intent struct {
			ID             string            `json:"id"`
			PaymentMethod  expandable        `json:"payment_method"`
			Metadata       map[string]string `json:"metadata"`
			LastSetupError *struct {
				Message string `json:"message"`
			} `json:"last_setup_error"`
		}
		if err := json.Unmarshal(raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to parse setup intent: %w", err)
		}
		metadata := setupMetadataFrom(intent.Metadata)
		if eventType == EventSetupIntentSucceeded {
			return SetupIntentSucceeded{
				SetupIntentID:   intent.ID,
				PaymentMethodID: intent.PaymentMethod.ID,
				Metadata:        metadata,
			}, nil
		}
		reason := ""
		if intent.LastSetupError != nil {
			reason = intent.LastSetupError.Message
		}
		return SetupIntentFailed{SetupIntentID: intent.ID, Reason: reason, Metadata: metadata}, nil

	case EventPaymentIntentSucceeded, EventPaymentIntentFailed, EventPaymentIntentCanceled:
		var intent paymentIntentObject
		if err := json.Unmarshal(raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to parse payment intent: %w", err)
		}
		switch eventType {
		case EventPaymentIntentSucceeded:
			return PaymentIntentSucceeded{
				PaymentIntentID: intent.ID,
				AmountMinor:     intent.Amount,
				Currency:        intent.Currency,
				Metadata:        intent.chargeMetadata(),
			}, nil
		case EventPaymentIntentFailed:
			reason := "unknown"
			if intent.LastPaymentError != nil {
				reason = intent.LastPaymentError.Message
				if reason == "" {
					reason = intent.LastPaymentError.Code
				}
			}
			return PaymentIntentFailed{
				PaymentIntentID: intent.ID,
				AmountMinor:     intent.Amount,
				Currency:        intent.Currency,
				FailureReason:   reason,
				Metadata:        intent.chargeMetadata(),
			}, nil
		default:
			return PaymentIntentCanceled{
				PaymentIntentID: intent.ID,
				AmountMinor:     intent.Amount,
				Currency:        intent.Currency,
				Metadata:        intent.chargeMetadata(),
			}, nil
		}
	}

	return UnknownEvent{}, nil
}
