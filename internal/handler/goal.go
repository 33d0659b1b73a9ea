package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/ctxkeys"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/service"
)

type GoalHandler struct {
	goalService  *service.GoalService
	setupService *service.SetupService
}

func NewGoalHandler(goalService *service.GoalService, setupService *service.SetupService) *GoalHandler {
	return &GoalHandler{
		goalService:  goalService,
		setupService: setupService,
	}
}

// goalRequest is the client's goal payload. Deadline is unix milliseconds.
type goalRequest struct {
	Title             string          `json:"title" validate:"max=512"`
	Description       string          `json:"description" validate:"max=8192"`
	Deadline          int64           `json:"deadline" validate:"required"`
	PledgeAmount      decimal.Decimal `json:"pledgeAmount"`
	OwnerID           string          `json:"ownerId" validate:"omitempty,max=128"`
	IsPublic          bool            `json:"isPublic"`
	ExternalSessionID string          `json:"externalSessionId" validate:"omitempty,max=255"`
}

func (g goalRequest) input(ownerID string) service.CreateGoalInput {
	return service.CreateGoalInput{
		OwnerID:           ownerID,
		Title:             g.Title,
		Description:       g.Description,
		Deadline:          time.UnixMilli(g.Deadline).UTC(),
		PledgeAmount:      g.PledgeAmount,
		ExternalSessionID: g.ExternalSessionID,
		IsPublic:          g.IsPublic,
	}
}

type createGoalResponse struct {
	GoalID        string `json:"goalId"`
	AlreadyExists bool   `json:"alreadyExists"`
}

// CreatePending records a goal before its payment method is collected.
func (h *GoalHandler) CreatePending(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req goalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkOwner(user, req.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	in := req.input(user.ID)
	in.InitialStatus = model.GoalStatusPending

	result, err := h.goalService.CreateGoal(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, result)
}

// Create records a goal. With an externalSessionId the setup session is
// resolved first, so a finished setup yields an active goal.
func (h *GoalHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req goalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkOwner(user, req.OwnerID); err != nil {
		writeError(w, r, err)
		return
	}

	in := req.input(user.ID)

	var (
		result *service.CreateGoalResult
		err    error
	)
	if req.ExternalSessionID != "" {
		result, err = h.setupService.CompleteAfterRedirect(r.Context(), user.ID, req.ExternalSessionID, &in)
	} else {
		in.InitialStatus = model.GoalStatusPending
		result, err = h.goalService.CreateGoal(r.Context(), in)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, result)
}

func (h *GoalHandler) Complete(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	goalID, err := h.goalService.CompleteGoal(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"goalId": goalID, "status": model.GoalStatusCompleted})
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *GoalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	goalID, err := h.goalService.CancelGoal(r.Context(), r.PathValue("id"), user.ID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"goalId": goalID, "status": model.GoalStatusCancelled})
}

func (h *GoalHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	goals, err := h.goalService.UserGoals(r.Context(), user.ID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if goals == nil {
		goals = []*model.Goal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"goals": goals})
}

func (h *GoalHandler) Updates(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	updates, err := h.goalService.GoalUpdates(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if updates == nil {
		updates = []*model.GoalUpdate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

// Public serves the public feed. limit and cursor are optional query params.
func (h *GoalHandler) Public(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	cursor, err := queryInt(r, "cursor")
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.goalService.PublicGoals(r.Context(), int(limit), cursor, r.URL.Query().Get("cursorId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if page.Goals == nil {
		page.Goals = []*model.Goal{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *GoalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	stats, err := h.goalService.UserStats(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeCreated(w http.ResponseWriter, result *service.CreateGoalResult) {
	status := http.StatusCreated
	if result.AlreadyExists {
		status = http.StatusOK
	}
	writeJSON(w, status, createGoalResponse{GoalID: result.GoalID, AlreadyExists: result.AlreadyExists})
}

func requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user := ctxkeys.User(r.Context())
	if user == nil {
		slog.Warn("missing user on authenticated route", "path", r.URL.Path)
		writeError(w, r, apperr.ErrUnauthorized)
		return nil, false
	}
	return user, true
}

// checkOwner rejects a body ownerId that names someone other than the caller.
func checkOwner(user *model.User, ownerID string) error {
	if ownerID != "" && ownerID != user.ID {
		return apperr.Forbidden("Unauthorized: ownerId does not match the authenticated user")
	}
	return nil
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.Invalid(key, key+" must be a non-negative integer")
	}
	return n, nil
}
