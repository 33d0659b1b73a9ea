package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/validation"
)

const (
	PublicFeedDefaultLimit = 20
	PublicFeedMaxLimit     = 100
)

var (
	ErrGoalNotCompletable = apperr.Conflict("Goal is already completed or not active")
	ErrDeadlinePassed     = apperr.Conflict("Cannot complete goal after deadline has passed")
	ErrGoalNotCancellable = apperr.Conflict("Can only cancel active goals")
	ErrCancelWindowClosed = apperr.Conflict("Goals can only be cancelled within 24 hours of creation")
	ErrSessionNotOwned    = apperr.Forbidden("Session belongs to another user")
)

type CreateGoalInput struct {
	OwnerID           string
	Title             string
	Description       string
	Deadline          time.Time
	PledgeAmount      decimal.Decimal
	ExternalSessionID string
	IsPublic          bool
	// InitialStatus is pending or active; empty means pending.
	InitialStatus string
}

type CreateGoalResult struct {
	GoalID        string
	AlreadyExists bool
}

type PublicPage struct {
	Goals        []*model.Goal `json:"goals"`
	NextCursor   *int64        `json:"nextCursor"`
	NextCursorID *string       `json:"nextCursorId"`
}

// GoalService owns the goal state machine and its audit trail.
type GoalService struct {
	goals    repository.GoalRepository
	updates  repository.GoalUpdateRepository
	users    repository.UserRepository
	notifier Notifier
	now      func() time.Time
}

func NewGoalService(
	goals repository.GoalRepository,
	updates repository.GoalUpdateRepository,
	users repository.UserRepository,
	notifier Notifier,
) *GoalService {
	return &GoalService{
		goals:    goals,
		updates:  updates,
		users:    users,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreateGoal inserts a goal, or returns the id of the goal that a retried
// request already produced (same session, or same owner/title/deadline).
func (s *GoalService) CreateGoal(ctx context.Context, in CreateGoalInput) (*CreateGoalResult, error) {
	now := s.now().UTC()
	title := validation.NormalizeTitle(in.Title)
	deadline := in.Deadline.UTC().Truncate(time.Millisecond)

	status := in.InitialStatus
	if status == "" {
		status = model.GoalStatusPending
	}

	var statusErr error
	if status != model.GoalStatusPending && status != model.GoalStatusActive {
		statusErr = apperr.Invalid("status", "Initial status must be pending or active")
	}

	if err := apperr.Join(
		validation.ValidateTitle(title),
		validation.ValidateDescription(in.Description),
		validation.ValidatePledge(in.PledgeAmount),
		validation.ValidateDeadline(deadline, now),
		statusErr,
	); err != nil {
		return nil, err
	}

	if _, err := s.users.ByID(ctx, in.OwnerID); err != nil {
		return nil, err
	}

	if in.ExternalSessionID != "" {
		existing, err := s.goals.BySessionID(ctx, in.ExternalSessionID)
		if err == nil {
			if existing.UserID != in.OwnerID {
				return nil, ErrSessionNotOwned
			}
			slog.Info("goal already exists for session", "goal_id", existing.ID, "session_id", in.ExternalSessionID)
			return &CreateGoalResult{GoalID: existing.ID, AlreadyExists: true}, nil
		}
		if !errors.Is(err, repository.ErrGoalNotFound) {
			return nil, fmt.Errorf("failed to look up goal by session: %w", err)
		}
	}

	matchStatuses := []string{model.GoalStatusActive}
	if status != model.GoalStatusActive {
		matchStatuses = append(matchStatuses, status)
	}
	existing, err := s.goals.FindMatch(ctx, in.OwnerID, title, deadline, matchStatuses)
	if err == nil {
		slog.Info("duplicate goal detected", "goal_id", existing.ID, "user_id", in.OwnerID)
		return &CreateGoalResult{GoalID: existing.ID, AlreadyExists: true}, nil
	}
	if !errors.Is(err, repository.ErrGoalNotFound) {
		return nil, fmt.Errorf("failed to check for duplicate goal: %w", err)
	}

	created := now.Truncate(time.Millisecond)
	goal := &model.Goal{
		ID:           uuid.New().String(),
		UserID:       in.OwnerID,
		Title:        title,
		Description:  in.Description,
		Deadline:     deadline,
		PledgeAmount: in.PledgeAmount,
		Status:       status,
		IsPublic:     in.IsPublic,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if in.ExternalSessionID != "" {
		session := in.ExternalSessionID
		goal.ExternalSessionID = &session
	}

	err = s.goals.Create(ctx, goal)
	if errors.Is(err, repository.ErrDuplicateSession) {
		// Lost the insert race to a concurrent request for the same session
		winner, lookupErr := s.goals.BySessionID(ctx, in.ExternalSessionID)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to load goal for session: %w", lookupErr)
		}
		return &CreateGoalResult{GoalID: winner.ID, AlreadyExists: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create goal: %w", err)
	}

	s.audit(ctx, goal, model.GoalUpdateCreated,
		fmt.Sprintf("Goal \"%s\" created with $%s pledge", goal.Title, goal.PledgeAmount.StringFixed(2)))

	slog.Info("goal created", "goal_id", goal.ID, "user_id", goal.UserID, "status", goal.Status)
	return &CreateGoalResult{GoalID: goal.ID}, nil
}

func (s *GoalService) CompleteGoal(ctx context.Context, goalID, ownerID string) (string, error) {
	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return "", err
	}

	if goal.UserID != ownerID {
		return "", apperr.Forbidden("Unauthorized: You can only complete your own goals")
	}
	if goal.Completed || goal.Status != model.GoalStatusActive {
		return "", ErrGoalNotCompletable
	}

	now := s.now().UTC()
	if now.After(goal.Deadline) {
		return "", ErrDeadlinePassed
	}

	ok, err := s.goals.MarkCompleted(ctx, goalID, now)
	if err != nil {
		return "", fmt.Errorf("failed to complete goal: %w", err)
	}
	if !ok {
		return "", ErrGoalNotCompletable
	}

	s.audit(ctx, goal, model.GoalUpdateCompleted, fmt.Sprintf("Goal \"%s\" completed successfully", goal.Title))
	s.notifier.Notify(ctx, Notice{
		UserID:  goal.UserID,
		GoalID:  goal.ID,
		Type:    model.NotificationGoalCompleted,
		Title:   "Goal Completed!",
		Message: fmt.Sprintf("Congratulations! You completed \"%s\" and saved $%s", goal.Title, goal.PledgeAmount.StringFixed(2)),
	})

	slog.Info("goal completed", "goal_id", goalID, "user_id", ownerID)
	return goalID, nil
}

func (s *GoalService) CancelGoal(ctx context.Context, goalID, ownerID, reason string) (string, error) {
	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return "", err
	}

	if goal.UserID != ownerID {
		return "", apperr.Forbidden("Unauthorized: You can only cancel your own goals")
	}
	if goal.Status != model.GoalStatusActive {
		return "", ErrGoalNotCancellable
	}

	now := s.now().UTC()
	if now.Sub(goal.CreatedAt) > model.CancellationWindow {
		return "", ErrCancelWindowClosed
	}

	ok, err := s.goals.TransitionStatus(ctx, goalID, []string{model.GoalStatusActive}, model.GoalStatusCancelled, now)
	if err != nil {
		return "", fmt.Errorf("failed to cancel goal: %w", err)
	}
	if !ok {
		return "", ErrGoalNotCancellable
	}

	message := fmt.Sprintf("Goal \"%s\" cancelled", goal.Title)
	if reason != "" {
		message += ": " + reason
	}
	s.audit(ctx, goal, model.GoalUpdateCancelled, message)

	slog.Info("goal cancelled", "goal_id", goalID, "user_id", ownerID)
	return goalID, nil
}

// UpdateGoalStatus performs a guarded transition and records it. It reports
// false without error when the goal is already in the target status.
func (s *GoalService) UpdateGoalStatus(ctx context.Context, goalID, status, reason string) (bool, error) {
	if !model.ValidGoalStatus(status) {
		return false, apperr.Invalid("status", fmt.Sprintf("unknown goal status %q", status))
	}

	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return false, err
	}
	if goal.Status == status {
		return false, nil
	}

	from := model.AllowedFrom(status)
	if !slices.Contains(from, goal.Status) {
		return false, apperr.Conflict(fmt.Sprintf("cannot move goal from %s to %s", goal.Status, status))
	}

	ok, err := s.goals.TransitionStatus(ctx, goalID, from, status, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to update goal status: %w", err)
	}
	if !ok {
		current, err := s.goals.ByID(ctx, goalID)
		if err != nil {
			return false, err
		}
		if current.Status == status {
			return false, nil
		}
		return false, apperr.Conflict(fmt.Sprintf("cannot move goal from %s to %s", current.Status, status))
	}

	if reason == "" {
		reason = fmt.Sprintf("Goal status updated to %s", status)
	}
	s.audit(ctx, goal, model.UpdateTypeForStatus(status), reason)

	slog.Info("goal status updated", "goal_id", goalID, "from", goal.Status, "to", status)
	return true, nil
}

// CancelFailedSetup closes a goal whose card setup failed. Goals that already
// hold a payment method or have left pending are untouched and report false.
func (s *GoalService) CancelFailedSetup(ctx context.Context, goalID, reason string) (bool, error) {
	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return false, err
	}

	ok, err := s.goals.CancelUnpaidSetup(ctx, goalID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to cancel goal: %w", err)
	}
	if !ok {
		return false, nil
	}

	s.audit(ctx, goal, model.UpdateTypeForStatus(model.GoalStatusCancelled), reason)
	slog.Info("goal cancelled after setup failure", "goal_id", goalID)
	return true, nil
}

func (s *GoalService) ByID(ctx context.Context, goalID string) (*model.Goal, error) {
	return s.goals.ByID(ctx, goalID)
}

func (s *GoalService) UserGoals(ctx context.Context, ownerID, status string) ([]*model.Goal, error) {
	if status != "" && !model.ValidGoalStatus(status) {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown goal status %q", status))
	}
	return s.goals.ByUser(ctx, ownerID, status)
}

// PublicGoals pages through public, payment-backed goals newest first. The
// cursor is the creation time in unix milliseconds of the last goal seen and
// cursorID its id, which breaks ties between goals created in the same
// millisecond.
func (s *GoalService) PublicGoals(ctx context.Context, limit int, cursor int64, cursorID string) (*PublicPage, error) {
	if limit <= 0 {
		limit = PublicFeedDefaultLimit
	}
	if limit > PublicFeedMaxLimit {
		limit = PublicFeedMaxLimit
	}

	var after *repository.PublicCursor
	if cursor > 0 {
		after = &repository.PublicCursor{CreatedAt: time.UnixMilli(cursor).UTC(), ID: cursorID}
	}

	goals, err := s.goals.Public(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load public goals: %w", err)
	}

	page := &PublicPage{Goals: goals}
	if len(goals) == limit {
		last := goals[len(goals)-1]
		next := last.CreatedAt.UnixMilli()
		page.NextCursor = &next
		page.NextCursorID = &last.ID
	}
	return page, nil
}

func (s *GoalService) GoalUpdates(ctx context.Context, goalID, ownerID string) ([]*model.GoalUpdate, error) {
	goal, err := s.goals.ByID(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.UserID != ownerID {
		return nil, apperr.Forbidden("Unauthorized: You can only view your own goals")
	}
	return s.updates.ByGoal(ctx, goalID)
}

func (s *GoalService) UserStats(ctx context.Context, ownerID string) (*model.UserStats, error) {
	return s.goals.StatsForUser(ctx, ownerID)
}

func (s *GoalService) audit(ctx context.Context, goal *model.Goal, updateType, message string) {
	recordUpdate(ctx, s.updates, goal, updateType, message, s.now())
}
