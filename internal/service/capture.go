package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/service/payment"
	"github.com/templui/pledge/internal/validation"
)

type CaptureRequest struct {
	PaymentMethodID string
	Amount          decimal.Decimal
	CustomerID      string
	GoalID          string
	UserID          string
}

// CaptureService charges a stored payment method off-session. Bounds are
// checked before the gateway is called.
type CaptureService struct {
	gateway  payment.Gateway
	currency string
}

func NewCaptureService(gateway payment.Gateway, currency string) *CaptureService {
	return &CaptureService{gateway: gateway, currency: currency}
}

// IdempotencyKey is the gateway key for the pledge charge of a goal. It depends
// only on the goal, so any repeat of the charge resolves to the first one.
func IdempotencyKey(goalID string) string {
	return "goal-charge-" + goalID
}

func (s *CaptureService) Capture(ctx context.Context, req CaptureRequest) (*payment.Charge, error) {
	if err := apperr.Join(
		validation.ValidateChargeAmount(req.Amount),
		required("paymentMethodId", req.PaymentMethodID),
		required("customerId", req.CustomerID),
	); err != nil {
		return nil, err
	}

	params := payment.ChargeParams{
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		AmountMinor:     validation.ToMinorUnits(req.Amount),
		Currency:        s.currency,
		Metadata: payment.ChargeMetadata{
			GoalID: req.GoalID,
			UserID: req.UserID,
			Type:   payment.MetadataTypePledgeCharge,
		},
	}
	if req.GoalID != "" {
		params.IdempotencyKey = IdempotencyKey(req.GoalID)
	}

	charge, err := s.gateway.Charge(ctx, params)
	if err != nil {
		slog.Warn("pledge capture failed", "error", err, "goal_id", req.GoalID)
		return nil, err
	}

	slog.Info("pledge captured", "goal_id", req.GoalID, "payment_intent_id", charge.PaymentIntentID, "amount_minor", charge.AmountMinor)
	return charge, nil
}

func required(field, value string) error {
	if value == "" {
		return apperr.Invalid(field, field+" is required")
	}
	return nil
}
