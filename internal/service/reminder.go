package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
)

const (
	ReminderHorizon     = 7 * 24 * time.Hour
	ReminderMinInterval = 12 * time.Hour
	ReminderMaxPerGoal  = 10
)

// reminderDays maps days remaining to the urgency label recorded in the audit trail.
var reminderDays = map[int]string{
	1: "urgent",
	3: "important",
	7: "reminder",
}

type ReminderResult struct {
	RemindersSent     int `json:"remindersSent"`
	ErrorCount        int `json:"errorCount"`
	TotalGoalsChecked int `json:"totalGoalsChecked"`
}

type ReminderService struct {
	goals    repository.GoalRepository
	updates  repository.GoalUpdateRepository
	notifier Notifier
	now      func() time.Time
}

func NewReminderService(goals repository.GoalRepository, updates repository.GoalUpdateRepository, notifier Notifier) *ReminderService {
	return &ReminderService{goals: goals, updates: updates, notifier: notifier, now: time.Now}
}

// SendDeadlineReminders notifies owners of active goals due in 1, 3 or 7 days.
func (s *ReminderService) SendDeadlineReminders(ctx context.Context) (*ReminderResult, error) {
	now := s.now().UTC()

	goals, err := s.goals.DueForReminder(ctx, now, now.Add(ReminderHorizon), now.Add(-ReminderMinInterval), ReminderMaxPerGoal)
	if err != nil {
		return nil, fmt.Errorf("failed to load goals due for reminder: %w", err)
	}

	result := &ReminderResult{TotalGoalsChecked: len(goals)}
	for _, goal := range goals {
		days := DaysRemaining(goal.Deadline, now)
		urgency, ok := reminderDays[days]
		if !ok {
			continue
		}

		claimed, err := s.goals.RecordReminder(ctx, goal.ID, goal.RemindersSent, now)
		if err != nil {
			result.ErrorCount++
			slog.Error("failed to record reminder", "error", err, "goal_id", goal.ID)
			continue
		}
		if !claimed {
			continue
		}

		s.notifier.Notify(ctx, Notice{
			UserID:  goal.UserID,
			GoalID:  goal.ID,
			Type:    model.NotificationGoalDeadlineApproaching,
			Title:   "Deadline Approaching: " + goal.Title,
			Message: fmt.Sprintf("Your goal \"%s\" is due in %s. Don't forget to complete it to avoid the $%s charge!",
				goal.Title, pluralDays(days), goal.PledgeAmount.StringFixed(2)),
		})
		recordUpdate(ctx, s.updates, goal, model.GoalUpdateReminderSent,
			fmt.Sprintf("%s deadline reminder sent - %s remaining", urgency, pluralDays(days)), now)

		result.RemindersSent++
	}

	slog.Info("deadline reminders finished",
		"checked", result.TotalGoalsChecked,
		"sent", result.RemindersSent,
		"errors", result.ErrorCount)
	return result, nil
}

// DaysRemaining rounds the time left until deadline up to whole days.
func DaysRemaining(deadline, now time.Time) int {
	return int(math.Ceil(deadline.Sub(now).Hours() / 24))
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
