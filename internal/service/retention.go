package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/templui/pledge/internal/repository"
)

type CleanupResult struct {
	NotificationsDeleted int64 `json:"notificationsDeleted"`
	GoalUpdatesDeleted   int64 `json:"goalUpdatesDeleted"`
}

// RetentionService prunes notifications and audit records past their retention.
type RetentionService struct {
	notifications         repository.NotificationRepository
	updates               repository.GoalUpdateRepository
	notificationRetention time.Duration
	updateRetention       time.Duration
	now                   func() time.Time
}

func NewRetentionService(
	notifications repository.NotificationRepository,
	updates repository.GoalUpdateRepository,
	notificationRetention, updateRetention time.Duration,
) *RetentionService {
	return &RetentionService{
		notifications:         notifications,
		updates:               updates,
		notificationRetention: notificationRetention,
		updateRetention:       updateRetention,
		now:                   time.Now,
	}
}

func (s *RetentionService) Cleanup(ctx context.Context) (*CleanupResult, error) {
	now := s.now().UTC()
	result := &CleanupResult{}

	n, err := s.notifications.DeleteOlderThan(ctx, now.Add(-s.notificationRetention))
	if err != nil {
		return nil, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	result.NotificationsDeleted = n

	u, err := s.updates.DeleteOlderThan(ctx, now.Add(-s.updateRetention))
	if err != nil {
		return result, fmt.Errorf("failed to delete old goal updates: %w", err)
	}
	result.GoalUpdatesDeleted = u

	slog.Info("retention cleanup finished",
		"notifications_deleted", result.NotificationsDeleted,
		"goal_updates_deleted", result.GoalUpdatesDeleted)
	return result, nil
}
