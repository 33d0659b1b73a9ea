package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/service/payment"
	"github.com/templui/pledge/internal/validation"
)

type BeginSetupInput struct {
	GoalID  string
	OwnerID string
	Amount  decimal.Decimal
}

type SetupSessionResult struct {
	SessionHandle         string `json:"sessionHandle"`
	RedirectURL           string `json:"redirectUrl"`
	HasSavedPaymentMethod bool   `json:"hasSavedPaymentMethod"`
	CustomerHandle        string `json:"customerHandle"`
}

// SetupService coordinates hosted payment-method setup. Completion can arrive
// from the client redirect or from the gateway webhook, in any order; both end
// in the same conditional update.
type SetupService struct {
	goals   repository.GoalRepository
	updates repository.GoalUpdateRepository
	users   repository.UserRepository
	gateway payment.Gateway
	goalSvc *GoalService
	appURL  string
	now     func() time.Time
}

func NewSetupService(
	goals repository.GoalRepository,
	updates repository.GoalUpdateRepository,
	users repository.UserRepository,
	gateway payment.Gateway,
	goalSvc *GoalService,
	appURL string,
) *SetupService {
	return &SetupService{
		goals:   goals,
		updates: updates,
		users:   users,
		gateway: gateway,
		goalSvc: goalSvc,
		appURL:  appURL,
		now:     time.Now,
	}
}

func (s *SetupService) BeginSetup(ctx context.Context, in BeginSetupInput) (*SetupSessionResult, error) {
	if err := validation.ValidatePledge(in.Amount); err != nil {
		return nil, err
	}

	if in.GoalID != "" {
		goal, err := s.goals.ByID(ctx, in.GoalID)
		if err != nil {
			return nil, err
		}
		if goal.UserID != in.OwnerID {
			return nil, apperr.Forbidden("Unauthorized: You can only set up payment for your own goals")
		}
		if goal.PaymentSetupComplete || goal.IsTerminal() {
			return nil, apperr.Conflict("Payment setup is already complete or the goal is closed")
		}
		if !goal.PledgeAmount.Equal(in.Amount) {
			return nil, apperr.Invalid("amount", "Amount does not match the goal's pledge")
		}
	}

	customerID, err := s.ensureCustomer(ctx, in.OwnerID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSetupSession(ctx, payment.SetupSessionParams{
		CustomerID: customerID,
		Metadata: payment.SetupMetadata{
			GoalID:    in.GoalID,
			UserID:    in.OwnerID,
			Type:      payment.MetadataTypePledgeSetup,
			Amount:    in.Amount.StringFixed(2),
			SetupType: payment.SetupTypeFuturePayment,
		},
		SuccessURL: s.appURL + "/dashboard?success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.appURL + "/create-goal?canceled=true",
	})
	if err != nil {
		return nil, err
	}

	if in.GoalID != "" {
		attached, err := s.goals.AttachSession(ctx, in.GoalID, session.ID, s.now())
		if err != nil {
			return nil, fmt.Errorf("failed to attach setup session: %w", err)
		}
		if !attached {
			slog.Warn("setup session not attached, goal setup already complete", "goal_id", in.GoalID, "session_id", session.ID)
		}
	}

	return &SetupSessionResult{
		SessionHandle:         session.ID,
		RedirectURL:           session.URL,
		HasSavedPaymentMethod: s.hasSavedPaymentMethods(ctx, customerID),
		CustomerHandle:        customerID,
	}, nil
}

// BeginPaymentMethodUpdate opens a setup session that replaces the card on an
// existing goal once it completes.
func (s *SetupService) BeginPaymentMethodUpdate(ctx context.Context, goalID, ownerID string) (*SetupSessionResult, error) {
	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.UserID != ownerID {
		return nil, apperr.Forbidden("Unauthorized: You can only update your own goals")
	}
	if goal.Status != model.GoalStatusPending && goal.Status != model.GoalStatusActive {
		return nil, apperr.Conflict("Payment method can only be updated for pending or active goals")
	}

	customerID, err := s.ensureCustomer(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSetupSession(ctx, payment.SetupSessionParams{
		CustomerID: customerID,
		Metadata: payment.SetupMetadata{
			GoalID:    goal.ID,
			UserID:    ownerID,
			Type:      payment.MetadataTypePaymentMethodUpdate,
			Amount:    goal.PledgeAmount.StringFixed(2),
			SetupType: payment.SetupTypePaymentRecovery,
		},
		SuccessURL: s.appURL + "/dashboard?success=true&session_id={CHECKOUT_SESSION_ID}&update_payment=true",
		CancelURL:  s.appURL + "/dashboard?canceled=true",
	})
	if err != nil {
		return nil, err
	}

	slog.Info("payment method update session created", "goal_id", goal.ID, "session_id", session.ID)
	return &SetupSessionResult{
		SessionHandle:         session.ID,
		RedirectURL:           session.URL,
		HasSavedPaymentMethod: s.hasSavedPaymentMethods(ctx, customerID),
		CustomerHandle:        customerID,
	}, nil
}

// CompleteSetup attaches the payment method and activates a pending goal. It
// is safe to call repeatedly; only the first call changes anything and it
// reports whether this call did.
func (s *SetupService) CompleteSetup(ctx context.Context, goalID, paymentMethodID string) (bool, error) {
	if paymentMethodID == "" {
		return false, apperr.Invalid("paymentMethodId", "Payment method is required")
	}

	applied, err := s.goals.CompleteSetup(ctx, goalID, paymentMethodID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to complete payment setup: %w", err)
	}

	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return false, err
	}

	if !applied {
		if !goal.PaymentSetupComplete {
			slog.Info("payment setup ignored for closed goal", "goal_id", goalID, "status", goal.Status)
		}
		return false, nil
	}

	recordUpdate(ctx, s.updates, goal, model.GoalUpdateUpdated,
		fmt.Sprintf("Payment method set up for goal \"%s\", goal is now active", goal.Title), s.now())

	slog.Info("payment setup completed", "goal_id", goalID, "status", goal.Status)
	return true, nil
}

// CompleteSetupBySession resolves the goal through its setup session handle.
func (s *SetupService) CompleteSetupBySession(ctx context.Context, sessionID, paymentMethodID string) (bool, error) {
	goal, err := s.goals.BySessionID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return s.CompleteSetup(ctx, goal.ID, paymentMethodID)
}

// ReplacePaymentMethod stores a card collected by a payment method update session.
func (s *SetupService) ReplacePaymentMethod(ctx context.Context, goalID, paymentMethodID string) (bool, error) {
	if paymentMethodID == "" {
		return false, apperr.Invalid("paymentMethodId", "Payment method is required")
	}

	applied, err := s.goals.ReplacePaymentMethod(ctx, goalID, paymentMethodID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to replace payment method: %w", err)
	}
	if !applied {
		return false, nil
	}

	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return false, err
	}
	recordUpdate(ctx, s.updates, goal, model.GoalUpdateUpdated,
		fmt.Sprintf("Payment method updated for goal \"%s\"", goal.Title), s.now())

	slog.Info("payment method replaced", "goal_id", goalID)
	return true, nil
}

// CompleteAfterRedirect is the client-side completion path. It returns the goal
// for the session, creating it from goalData when it does not exist yet, and
// re-reads the session from the gateway so setup completes even if the webhook
// is late or lost.
func (s *SetupService) CompleteAfterRedirect(ctx context.Context, ownerID, sessionID string, goalData *CreateGoalInput) (*CreateGoalResult, error) {
	if sessionID == "" {
		return nil, apperr.Invalid("sessionHandle", "Missing sessionId")
	}

	existing, err := s.goals.BySessionID(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrGoalNotFound) {
		return nil, fmt.Errorf("failed to look up goal by session: %w", err)
	}
	if existing != nil {
		if existing.UserID != ownerID {
			return nil, apperr.Forbidden("Unauthorized: You can only complete your own goals")
		}
		if !existing.PaymentSetupComplete {
			s.recoverSetup(ctx, existing.ID, sessionID)
		}
		return &CreateGoalResult{GoalID: existing.ID, AlreadyExists: true}, nil
	}

	resolved, err := s.gateway.ResolveSetupSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if resolved.Metadata.UserID != "" && resolved.Metadata.UserID != ownerID {
		return nil, apperr.Forbidden("Unauthorized: setup session belongs to another user")
	}

	if goalData == nil {
		if resolved.Metadata.GoalID == "" {
			return nil, apperr.Invalid("goalData", "Missing sessionId or goalData")
		}
		goal, err := s.goals.ByID(ctx, resolved.Metadata.GoalID)
		if err != nil {
			return nil, err
		}
		if goal.UserID != ownerID {
			return nil, apperr.Forbidden("Unauthorized: You can only complete your own goals")
		}
		if resolved.Complete {
			if _, err := s.CompleteSetup(ctx, goal.ID, resolved.PaymentMethodID); err != nil {
				return nil, err
			}
		}
		return &CreateGoalResult{GoalID: goal.ID, AlreadyExists: true}, nil
	}

	in := *goalData
	in.OwnerID = ownerID
	in.ExternalSessionID = sessionID
	in.InitialStatus = model.GoalStatusPending
	if resolved.Complete && resolved.PaymentMethodID != "" {
		in.InitialStatus = model.GoalStatusActive
	}

	result, err := s.goalSvc.CreateGoal(ctx, in)
	if err != nil {
		return nil, err
	}

	if resolved.Complete && resolved.PaymentMethodID != "" {
		if _, err := s.CompleteSetup(ctx, result.GoalID, resolved.PaymentMethodID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *SetupService) recoverSetup(ctx context.Context, goalID, sessionID string) {
	resolved, err := s.gateway.ResolveSetupSession(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to resolve setup session", "error", err, "goal_id", goalID, "session_id", sessionID)
		return
	}
	if !resolved.Complete || resolved.PaymentMethodID == "" {
		return
	}
	if _, err := s.CompleteSetup(ctx, goalID, resolved.PaymentMethodID); err != nil {
		slog.Error("failed to complete setup from redirect", "error", err, "goal_id", goalID)
	}
}

// ensureCustomer returns the user's gateway customer, creating it on first use.
func (s *SetupService) ensureCustomer(ctx context.Context, userID string) (string, error) {
	user, err := s.users.ByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.HasCustomer() {
		return *user.StripeCustomerID, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, payment.CustomerParams{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		return "", err
	}

	stored, err := s.users.SetStripeCustomerID(ctx, userID, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to store customer: %w", err)
	}
	if stored {
		return customerID, nil
	}

	// A concurrent request stored its customer first
	user, err = s.users.ByID(ctx, userID)
	if err != nil {
		return "", err
	}
	slog.Warn("discarding duplicate gateway customer", "user_id", userID, "customer_id", customerID)
	return *user.StripeCustomerID, nil
}

func (s *SetupService) hasSavedPaymentMethods(ctx context.Context, customerID string) bool {
	has, err := s.gateway.HasSavedPaymentMethods(ctx, customerID)
	if err != nil {
		slog.Warn("failed to list saved payment methods", "error", err, "customer_id", customerID)
		return false
	}
	return has
}
