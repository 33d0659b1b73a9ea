package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/validation"
)

// Sweep outcomes recorded per goal.
const (
	OutcomeCaptured        = "captured"
	OutcomeNoPaymentMethod = "no_payment_method"
	OutcomeDeclined        = "declined"
	OutcomeRetry           = "retry"
	OutcomeSkipped         = "skipped"
	OutcomeError           = "error"
)

// Archive stores JSON documents for later inspection.
type Archive interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

type SweepResult struct {
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
	ProcessedCount int           `json:"processedCount"`
	ErrorCount     int           `json:"errorCount"`
	Goals          []GoalOutcome `json:"goals"`
}

type GoalOutcome struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

// ChargeRecord is one observed state of an external charge.
type ChargeRecord struct {
	GoalID          string
	UserID          string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Status          string
	FailureReason   string
}

// SettlementService fails expired goals and captures their pledges.
type SettlementService struct {
	goals       repository.GoalRepository
	payments    repository.PaymentRepository
	users       repository.UserRepository
	goalSvc     *GoalService
	capture     *CaptureService
	notifier    Notifier
	archive     Archive
	currency    string
	maxAttempts int
	now         func() time.Time
}

func NewSettlementService(
	goals repository.GoalRepository,
	payments repository.PaymentRepository,
	users repository.UserRepository,
	goalSvc *GoalService,
	capture *CaptureService,
	notifier Notifier,
	archive Archive,
	currency string,
	maxAttempts int,
) *SettlementService {
	return &SettlementService{
		goals:       goals,
		payments:    payments,
		users:       users,
		goalSvc:     goalSvc,
		capture:     capture,
		notifier:    notifier,
		archive:     archive,
		currency:    currency,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Sweep settles every goal past its deadline. A failure on one goal is
// counted and logged; it never stops the rest of the batch.
func (s *SettlementService) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{StartedAt: s.now().UTC(), Goals: []GoalOutcome{}}

	due, err := s.goals.Expired(ctx, result.StartedAt, s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to load expired goals: %w", err)
	}

	for _, goal := range due {
		if ctx.Err() != nil {
			break
		}

		outcome, err := s.settle(ctx, goal)
		if err != nil {
			result.ErrorCount++
			slog.Error("failed to settle goal", "error", err, "goal_id", goal.ID, "outcome", outcome)
		}
		if outcome == OutcomeCaptured {
			result.ProcessedCount++
		}
		result.Goals = append(result.Goals, GoalOutcome{ID: goal.ID, Outcome: outcome})
	}

	result.FinishedAt = s.now().UTC()
	s.archiveReport(ctx, result)

	slog.Info("settlement sweep finished",
		"checked", len(due),
		"processed", result.ProcessedCount,
		"errors", result.ErrorCount,
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds())

	return result, nil
}

func (s *SettlementService) settle(ctx context.Context, goal *model.Goal) (string, error) {
	firstPass := false

	if goal.Status == model.GoalStatusActive {
		applied, err := s.goalSvc.UpdateGoalStatus(ctx, goal.ID, model.GoalStatusFailed,
			fmt.Sprintf("Goal \"%s\" failed - deadline missed", goal.Title))
		if err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				// Completed or cancelled since the query ran
				return OutcomeSkipped, nil
			}
			return OutcomeError, err
		}
		if !applied {
			// Another sweep performed the transition and owns its side effects
			return OutcomeSkipped, nil
		}
		firstPass = true

		s.notifier.Notify(ctx, Notice{
			UserID:  goal.UserID,
			GoalID:  goal.ID,
			Type:    model.NotificationGoalFailed,
			Title:   "Goal Failed",
			Message: fmt.Sprintf("Unfortunately, you missed the deadline for \"%s\". Payment processing will begin.", goal.Title),
		})
	}

	if !goal.HasPaymentMethod() {
		if firstPass {
			s.notifyNoPaymentMethod(ctx, goal)
		}
		return OutcomeNoPaymentMethod, s.goals.RecordSettlementAttempt(ctx, goal.ID, false, s.now())
	}

	user, err := s.users.ByID(ctx, goal.UserID)
	if err != nil {
		return s.retryLater(ctx, goal, firstPass, fmt.Errorf("failed to load goal owner: %w", err))
	}
	if !user.HasCustomer() {
		if firstPass {
			s.notifyNoPaymentMethod(ctx, goal)
		}
		return OutcomeNoPaymentMethod, s.goals.RecordSettlementAttempt(ctx, goal.ID, false, s.now())
	}

	charge, err := s.capture.Capture(ctx, CaptureRequest{
		PaymentMethodID: *goal.PaymentMethodID,
		Amount:          goal.PledgeAmount,
		CustomerID:      *user.StripeCustomerID,
		GoalID:          goal.ID,
		UserID:          goal.UserID,
	})
	if err != nil {
		return s.handleCaptureError(ctx, goal, firstPass, err)
	}

	applied, err := s.goals.MarkPaymentProcessed(ctx, goal.ID, charge.PaymentIntentID, s.now())
	if err != nil {
		return s.retryLater(ctx, goal, firstPass, fmt.Errorf("failed to mark payment processed: %w", err))
	}

	amount := validation.FromMinorUnits(charge.AmountMinor)
	if _, err := s.recordCharge(ctx, ChargeRecord{
		GoalID:          goal.ID,
		UserID:          goal.UserID,
		PaymentIntentID: charge.PaymentIntentID,
		Amount:          amount,
		Currency:        charge.Currency,
		Status:          model.PaymentStatusSucceeded,
	}); err != nil {
		slog.Error("failed to record payment", "error", err, "goal_id", goal.ID, "payment_intent_id", charge.PaymentIntentID)
	}

	if applied {
		s.notifyPaymentProcessed(ctx, goal.UserID, goal.ID, goal.Title, amount)
	}

	return OutcomeCaptured, nil
}

func (s *SettlementService) handleCaptureError(ctx context.Context, goal *model.Goal, firstPass bool, err error) (string, error) {
	var gwErr *apperr.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Retryable() {
		if errors.Is(err, apperr.ErrValidation) {
			if firstPass {
				s.notifyPaymentError(ctx, goal)
			}
			return OutcomeError, errors.Join(err, s.goals.RecordSettlementAttempt(ctx, goal.ID, false, s.now()))
		}
		return s.retryLater(ctx, goal, firstPass, err)
	}

	if recordErr := s.goals.RecordSettlementAttempt(ctx, goal.ID, false, s.now()); recordErr != nil {
		slog.Error("failed to record settlement attempt", "error", recordErr, "goal_id", goal.ID)
	}

	notify := true
	if gwErr.PaymentIntentID != "" {
		changed, recordErr := s.recordCharge(ctx, ChargeRecord{
			GoalID:          goal.ID,
			UserID:          goal.UserID,
			PaymentIntentID: gwErr.PaymentIntentID,
			Amount:          goal.PledgeAmount,
			Currency:        s.currency,
			Status:          model.PaymentStatusFailed,
			FailureReason:   string(gwErr.Kind),
		})
		if recordErr != nil {
			slog.Error("failed to record payment", "error", recordErr, "goal_id", goal.ID)
		}
		notify = changed || recordErr != nil
	}

	if notify {
		if gwErr.Kind == apperr.GatewayRequiresAction {
			s.notifier.Notify(ctx, Notice{
				UserID:  goal.UserID,
				GoalID:  goal.ID,
				Type:    model.NotificationPaymentActionRequired,
				Title:   "Payment Action Required",
				Message: fmt.Sprintf("Your bank needs you to confirm the payment for the missed goal \"%s\". Please update your payment method.", goal.Title),
			})
		} else {
			s.notifyPaymentFailed(ctx, goal.UserID, goal.ID)
		}
	}

	return OutcomeDeclined, err
}

// retryLater leaves the goal unsettled and flags it for the next sweep.
func (s *SettlementService) retryLater(ctx context.Context, goal *model.Goal, firstPass bool, cause error) (string, error) {
	if err := s.goals.RecordSettlementAttempt(ctx, goal.ID, true, s.now()); err != nil {
		slog.Error("failed to record settlement attempt", "error", err, "goal_id", goal.ID)
	}
	if firstPass {
		s.notifyPaymentError(ctx, goal)
	}
	return OutcomeRetry, cause
}

// RecordChargeSucceeded applies a succeeded charge reported by the gateway.
func (s *SettlementService) RecordChargeSucceeded(ctx context.Context, rec ChargeRecord) error {
	rec.Status = model.PaymentStatusSucceeded
	changed, err := s.recordCharge(ctx, rec)
	if err != nil {
		return err
	}

	goal, err := s.goals.ByID(ctx, rec.GoalID)
	if err != nil {
		return err
	}
	if _, err := s.goals.MarkPaymentProcessed(ctx, goal.ID, rec.PaymentIntentID, s.now()); err != nil {
		return fmt.Errorf("failed to mark payment processed: %w", err)
	}

	if changed {
		s.notifyPaymentProcessed(ctx, goal.UserID, goal.ID, goal.Title, rec.Amount)
	}
	return nil
}

// RecordChargeFailed applies a failed charge reported by the gateway. The
// goal itself is left as the sweep set it.
func (s *SettlementService) RecordChargeFailed(ctx context.Context, rec ChargeRecord) error {
	rec.Status = model.PaymentStatusFailed
	changed, err := s.recordCharge(ctx, rec)
	if err != nil {
		return err
	}
	if changed {
		s.notifyPaymentFailed(ctx, rec.UserID, rec.GoalID)
	}
	return nil
}

func (s *SettlementService) RecordChargeCanceled(ctx context.Context, rec ChargeRecord) error {
	rec.Status = model.PaymentStatusCancelled
	_, err := s.recordCharge(ctx, rec)
	return err
}

// recordCharge creates or advances the Payment row for a charge and reports
// whether anything changed.
func (s *SettlementService) recordCharge(ctx context.Context, rec ChargeRecord) (bool, error) {
	now := s.now().UTC()

	var reason *string
	if rec.FailureReason != "" {
		r := rec.FailureReason
		reason = &r
	}
	currency := rec.Currency
	if currency == "" {
		currency = s.currency
	}

	created, err := s.payments.CreateIfAbsent(ctx, &model.Payment{
		ID:              uuid.New().String(),
		GoalID:          rec.GoalID,
		UserID:          rec.UserID,
		PaymentIntentID: rec.PaymentIntentID,
		Amount:          rec.Amount,
		Currency:        currency,
		Status:          rec.Status,
		FailureReason:   reason,
		ProcessedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create payment: %w", err)
	}
	if created {
		return true, nil
	}

	changed, err := s.payments.UpdateStatus(ctx, rec.PaymentIntentID, rec.Status, reason, now)
	if err != nil {
		return false, fmt.Errorf("failed to update payment: %w", err)
	}
	return changed, nil
}

func (s *SettlementService) notifyPaymentProcessed(ctx context.Context, userID, goalID, title string, amount decimal.Decimal) {
	s.notifier.Notify(ctx, Notice{
		UserID:  userID,
		GoalID:  goalID,
		Type:    model.NotificationPaymentProcessed,
		Title:   "Payment Processed",
		Message: fmt.Sprintf("Payment of $%s has been processed for the missed goal \"%s\"", amount.StringFixed(2), title),
	})
}

func (s *SettlementService) notifyPaymentFailed(ctx context.Context, userID, goalID string) {
	s.notifier.Notify(ctx, Notice{
		UserID:  userID,
		GoalID:  goalID,
		Type:    model.NotificationPaymentFailed,
		Title:   "Payment Failed",
		Message: "Your payment for the failed goal could not be processed. Please update your payment method.",
	})
}

func (s *SettlementService) notifyPaymentError(ctx context.Context, goal *model.Goal) {
	s.notifier.Notify(ctx, Notice{
		UserID:  goal.UserID,
		GoalID:  goal.ID,
		Type:    model.NotificationPaymentError,
		Title:   "Payment Error",
		Message: fmt.Sprintf("We couldn't process the payment for the missed goal \"%s\" yet. We'll try again shortly.", goal.Title),
	})
}

func (s *SettlementService) notifyNoPaymentMethod(ctx context.Context, goal *model.Goal) {
	s.notifier.Notify(ctx, Notice{
		UserID:  goal.UserID,
		GoalID:  goal.ID,
		Type:    model.NotificationNoPaymentMethod,
		Title:   "No Payment Method",
		Message: fmt.Sprintf("Your goal \"%s\" failed, but no payment method was on file to charge.", goal.Title),
	})
}

func (s *SettlementService) archiveReport(ctx context.Context, result *SweepResult) {
	if s.archive == nil {
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to encode sweep report", "error", err)
		return
	}

	key := fmt.Sprintf("settlements/%s/%d.json", result.StartedAt.Format("2006/01/02"), result.StartedAt.UnixNano())
	if err := s.archive.PutJSON(ctx, key, body); err != nil {
		slog.Warn("failed to archive sweep report", "error", err, "key", key)
	}
}
