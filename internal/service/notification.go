package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
)

// Notice is one user-facing notification triggered by the engine.
type Notice struct {
	UserID  string
	GoalID  string
	Type    string
	Title   string
	Message string
}

// Notifier is fire-and-forget: delivery failures are logged, never returned,
// and never undo the state change that triggered them.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

type EmailSender interface {
	SendNotification(ctx context.Context, to, notificationType, title, message string) error
}

type NotificationService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	email         EmailSender
	now           func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	email EmailSender,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		users:         users,
		email:         email,
		now:           time.Now,
	}
}

func (s *NotificationService) Notify(ctx context.Context, notice Notice) {
	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    notice.UserID,
		Type:      notice.Type,
		Title:     notice.Title,
		Message:   notice.Message,
		CreatedAt: s.now().UTC(),
	}
	if notice.GoalID != "" {
		goalID := notice.GoalID
		n.GoalID = &goalID
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		slog.Error("failed to store notification", "error", err, "user_id", notice.UserID, "type", notice.Type)
	}

	if s.email == nil {
		return
	}

	user, err := s.users.ByID(ctx, notice.UserID)
	if err != nil {
		slog.Warn("notification email skipped, user lookup failed", "error", err, "user_id", notice.UserID)
		return
	}
	if user.Email == "" {
		return
	}

	if err := s.email.SendNotification(ctx, user.Email, notice.Type, notice.Title, notice.Message); err != nil {
		slog.Error("failed to send notification email", "error", err, "user_id", notice.UserID, "type", notice.Type)
	}
}
