package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/service/payment"
	"github.com/templui/pledge/internal/validation"
)

// WebhookService verifies and applies gateway events. Each event id is
// applied at most once; a failed event is left unprocessed so the gateway
// redelivers it.
type WebhookService struct {
	events     repository.WebhookEventRepository
	goals      repository.GoalRepository
	gateway    payment.Gateway
	setup      *SetupService
	goalSvc    *GoalService
	settlement *SettlementService
	notifier   Notifier
	archive    Archive
	now        func() time.Time
}

func NewWebhookService(
	events repository.WebhookEventRepository,
	goals repository.GoalRepository,
	gateway payment.Gateway,
	setup *SetupService,
	goalSvc *GoalService,
	settlement *SettlementService,
	notifier Notifier,
	archive Archive,
) *WebhookService {
	return &WebhookService{
		events:     events,
		goals:      goals,
		gateway:    gateway,
		setup:      setup,
		goalSvc:    goalSvc,
		settlement: settlement,
		notifier:   notifier,
		archive:    archive,
		now:        time.Now,
	}
}

// Handle verifies the signature, dedupes by event id and dispatches. Signature
// failures wrap apperr.ErrSignature.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		return err
	}

	processed, err := s.events.Begin(ctx, event.ID, event.Type, s.now())
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if processed {
		slog.Info("webhook event already processed", "event_id", event.ID, "type", event.Type)
		return nil
	}

	s.archivePayload(ctx, event)

	if err := s.dispatch(ctx, event); err != nil {
		if markErr := s.events.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			slog.Error("failed to mark webhook event failed", "error", markErr, "event_id", event.ID)
		}
		return fmt.Errorf("failed to process %s: %w", event.Type, err)
	}

	if err := s.events.MarkProcessed(ctx, event.ID, s.now()); err != nil {
		slog.Error("failed to mark webhook event processed", "error", err, "event_id", event.ID)
	}
	return nil
}

func (s *WebhookService) dispatch(ctx context.Context, event *payment.Event) error {
	switch data := event.Data.(type) {
	case payment.SetupSessionCompleted:
		return s.onSetupSessionCompleted(ctx, data)
	case payment.SetupIntentSucceeded:
		return s.onSetupIntentSucceeded(ctx, data)
	case payment.SetupIntentFailed:
		return s.onSetupIntentFailed(ctx, data)
	case payment.PaymentIntentSucceeded:
		if data.Metadata.Type != payment.MetadataTypePledgeCharge {
			return nil
		}
		err := s.settlement.RecordChargeSucceeded(ctx, ChargeRecord{
			GoalID:          data.Metadata.GoalID,
			UserID:          data.Metadata.UserID,
			PaymentIntentID: data.PaymentIntentID,
			Amount:          validation.FromMinorUnits(data.AmountMinor),
			Currency:        data.Currency,
		})
		return ignoreMissingGoal(err, data.Metadata.GoalID)
	case payment.PaymentIntentFailed:
		if data.Metadata.Type != payment.MetadataTypePledgeCharge {
			return nil
		}
		return s.settlement.RecordChargeFailed(ctx, ChargeRecord{
			GoalID:          data.Metadata.GoalID,
			UserID:          data.Metadata.UserID,
			PaymentIntentID: data.PaymentIntentID,
			Amount:          validation.FromMinorUnits(data.AmountMinor),
			Currency:        data.Currency,
			FailureReason:   data.FailureReason,
		})
	case payment.PaymentIntentCanceled:
		if data.Metadata.Type != payment.MetadataTypePledgeCharge {
			return nil
		}
		return s.settlement.RecordChargeCanceled(ctx, ChargeRecord{
			GoalID:          data.Metadata.GoalID,
			UserID:          data.Metadata.UserID,
			PaymentIntentID: data.PaymentIntentID,
			Amount:          validation.FromMinorUnits(data.AmountMinor),
			Currency:        data.Currency,
		})
	default:
		slog.Info("ignoring webhook event", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

func (s *WebhookService) onSetupSessionCompleted(ctx context.Context, data payment.SetupSessionCompleted) error {
	resolved, err := s.gateway.ResolveSetupSession(ctx, data.SessionID)
	if err != nil {
		return err
	}
	if resolved.PaymentMethodID == "" {
		slog.Warn("setup session completed without payment method", "session_id", data.SessionID)
		return nil
	}

	goalID := data.Metadata.GoalID
	if goalID == "" {
		goalID = resolved.Metadata.GoalID
	}

	if data.Metadata.Type == payment.MetadataTypePaymentMethodUpdate {
		if goalID == "" {
			slog.Warn("payment method update without goal", "session_id", data.SessionID)
			return nil
		}
		_, err := s.setup.ReplacePaymentMethod(ctx, goalID, resolved.PaymentMethodID)
		return ignoreMissingGoal(err, goalID)
	}

	if goalID != "" {
		_, err := s.setup.CompleteSetup(ctx, goalID, resolved.PaymentMethodID)
		return ignoreMissingGoal(err, goalID)
	}

	// Goal created after redirect, found through the session it stored
	_, err = s.setup.CompleteSetupBySession(ctx, data.SessionID, resolved.PaymentMethodID)
	return ignoreMissingGoal(err, data.SessionID)
}

func (s *WebhookService) onSetupIntentSucceeded(ctx context.Context, data payment.SetupIntentSucceeded) error {
	goalID := data.Metadata.GoalID
	if goalID == "" || data.PaymentMethodID == "" {
		return nil
	}

	var err error
	if data.Metadata.Type == payment.MetadataTypePaymentMethodUpdate {
		_, err = s.setup.ReplacePaymentMethod(ctx, goalID, data.PaymentMethodID)
	} else {
		_, err = s.setup.CompleteSetup(ctx, goalID, data.PaymentMethodID)
	}
	return ignoreMissingGoal(err, goalID)
}

func (s *WebhookService) onSetupIntentFailed(ctx context.Context, data payment.SetupIntentFailed) error {
	goalID := data.Metadata.GoalID
	if goalID == "" || data.Metadata.Type == payment.MetadataTypePaymentMethodUpdate {
		// A failed card update leaves the existing method in place
		return nil
	}

	applied, err := s.goalSvc.CancelFailedSetup(ctx, goalID, "Payment method setup failed")
	if errors.Is(err, repository.ErrGoalNotFound) {
		slog.Warn("setup failure for unknown goal", "goal_id", goalID)
		return nil
	}
	if err != nil {
		return err
	}
	if !applied {
		// Already holds a working method, or closed
		slog.Info("setup failure ignored", "goal_id", goalID)
		return nil
	}

	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, Notice{
		UserID:  goal.UserID,
		GoalID:  goal.ID,
		Type:    model.NotificationPaymentFailed,
		Title:   "Payment Setup Failed",
		Message: fmt.Sprintf("We couldn't set up a payment method for \"%s\", so the goal was cancelled.", goal.Title),
	})
	return nil
}

func (s *WebhookService) archivePayload(ctx context.Context, event *payment.Event) {
	if s.archive == nil || len(event.Payload) == 0 {
		return
	}
	key := fmt.Sprintf("webhooks/%s/%s.json", s.now().UTC().Format("2006/01/02"), event.ID)
	if err := s.archive.PutJSON(ctx, key, event.Payload); err != nil {
		slog.Warn("failed to archive webhook payload", "error", err, "key", key)
	}
}

// ignoreMissingGoal acknowledges events that refer to goals the engine no
// longer has, so the gateway stops redelivering them.
func ignoreMissingGoal(err error, ref string) error {
	if errors.Is(err, repository.ErrGoalNotFound) {
		slog.Warn("webhook refers to unknown goal", "ref", ref)
		return nil
	}
	return err
}
