package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
)

// recordUpdate appends a GoalUpdate. The transition it records is already
// committed, so a failure here is logged only.
func recordUpdate(ctx context.Context, updates repository.GoalUpdateRepository, goal *model.Goal, updateType, message string, at time.Time) {
	update := &model.GoalUpdate{
		ID:        uuid.New().String(),
		GoalID:    goal.ID,
		UserID:    goal.UserID,
		Type:      updateType,
		Message:   message,
		CreatedAt: at.UTC(),
	}
	if err := updates.Create(ctx, update); err != nil {
		slog.Error("failed to record goal update", "error", err, "goal_id", goal.ID, "type", updateType)
	}
}
