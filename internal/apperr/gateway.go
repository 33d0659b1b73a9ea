package apperr

import "fmt"

// GatewayKind classifies a payment gateway failure so callers can pick user-facing copy.
type GatewayKind string

const (
	GatewayDeclined          GatewayKind = "declined"
	GatewayInsufficientFunds GatewayKind = "insufficient_funds"
	GatewayExpired           GatewayKind = "expired"
	GatewayRequiresAction    GatewayKind = "requires_action"
	GatewayTransport         GatewayKind = "transport"
)

type GatewayError struct {
	Kind            GatewayKind
	Code            string
	Message         string
	PaymentIntentID string
	Err             error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGateway, e.Err}
	}
	return []error{ErrGateway}
}

// Retryable reports whether a later attempt may succeed without user action.
func (e *GatewayError) Retryable() bool {
	return e.Kind == GatewayTransport
}
