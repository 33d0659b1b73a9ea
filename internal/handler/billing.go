package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/service"
)

const maxWebhookBytes = 64 << 10

type BillingHandler struct {
	setupService   *service.SetupService
	captureService *service.CaptureService
	webhookService *service.WebhookService
}

func NewBillingHandler(setupService *service.SetupService, captureService *service.CaptureService, webhookService *service.WebhookService) *BillingHandler {
	return &BillingHandler{
		setupService:   setupService,
		captureService: captureService,
		webhookService: webhookService,
	}
}

type setupSessionRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	GoalID  string          `json:"goalId" validate:"omitempty,max=64"`
	OwnerID string          `json:"ownerId" validate:"omitempty,max=128"`
}

func (h *BillingHandler) SetupSession(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req setupSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkOwner(user, req.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.setupService.BeginSetup(r.Context(), service.BeginSetupInput{
		GoalID:  req.GoalID,
		OwnerID: user.ID,
		Amount:  req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type updatePaymentMethodRequest struct {
	GoalID string `json:"goalId" validate:"required,max=64"`
}

func (h *BillingHandler) UpdatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req updatePaymentMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.setupService.BeginPaymentMethodUpdate(r.Context(), req.GoalID, user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type completeGoalRequest struct {
	SessionHandle string       `json:"sessionHandle" validate:"max=255"`
	GoalData      *goalRequest `json:"goalData"`
}

// CompleteGoal is the redirect-side completion path for a setup session.
func (h *BillingHandler) CompleteGoal(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req completeGoalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var goalData *service.CreateGoalInput
	if req.GoalData != nil {
		if err := checkOwner(user, req.GoalData.OwnerID); err != nil {
			writeError(w, r, err)
			return
		}
		in := req.GoalData.input(user.ID)
		goalData = &in
	}

	result, err := h.setupService.CompleteAfterRedirect(r.Context(), user.ID, req.SessionHandle, goalData)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createGoalResponse{GoalID: result.GoalID, AlreadyExists: result.AlreadyExists})
}

type chargeRequest struct {
	PaymentMethodID string          `json:"paymentMethodId" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	CustomerID      string          `json:"customerId" validate:"required"`
	GoalID          string          `json:"goalId" validate:"omitempty,max=64"`
	UserID          string          `json:"userId" validate:"omitempty,max=128"`
}

type chargeResponse struct {
	ChargeHandle    string `json:"chargeHandle"`
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
}

// ChargePaymentMethod captures a pledge off-session. Gateway failures are
// answered without the provider's message.
func (h *BillingHandler) ChargePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	charge, err := h.captureService.Capture(r.Context(), service.CaptureRequest{
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		CustomerID:      req.CustomerID,
		GoalID:          req.GoalID,
		UserID:          req.UserID,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrGateway) {
			slog.Error("failed to charge payment method", "error", err, "goal_id", req.GoalID)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Failed to charge payment method"})
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chargeResponse{
		ChargeHandle:    charge.PaymentIntentID,
		PaymentIntentID: charge.PaymentIntentID,
		Status:          charge.Status,
		Amount:          charge.AmountMinor,
	})
}

func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		slog.Error("failed to read webhook payload", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read payload"})
		return
	}
	defer func() {
		closeErr := r.Body.Close()
		if closeErr != nil {
			slog.Error("failed to close request body", "error", closeErr)
		}
	}()

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing stripe-signature header"})
		return
	}

	err = h.webhookService.Handle(r.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, apperr.ErrSignature) {
			slog.Warn("webhook signature rejected", "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid signature"})
			return
		}
		slog.Error("failed to handle webhook", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Webhook processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
