package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/templui/pledge/internal/model"
)

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendNotification(ctx context.Context, to, notificationType, title, message string) error {
	args := m.Called(ctx, to, notificationType, title, message)
	return args.Error(0)
}

func TestNotifyStoresAndEmails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedUser(t, "u1", "")

	email := &MockEmailSender{}
	email.On("SendNotification", mock.Anything, "u1@example.com", model.NotificationGoalCompleted, "Goal Completed!", "well done").
		Return(nil).Once()

	svc := NewNotificationService(env.notifications, env.users, email)
	svc.now = env.clock.Now
	svc.Notify(ctx, Notice{UserID: "u1", GoalID: "g1", Type: model.NotificationGoalCompleted, Title: "Goal Completed!", Message: "well done"})

	stored, err := env.notifications.ByUser(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Goal Completed!", stored[0].Title)
	require.NotNil(t, stored[0].GoalID)
	assert.Equal(t, "g1", *stored[0].GoalID)
	assert.False(t, stored[0].Read)

	email.AssertExpectations(t)
}

func TestNotifySwallowsEmailFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedUser(t, "u1", "")

	email := &MockEmailSender{}
	email.On("SendNotification", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp down"))

	svc := NewNotificationService(env.notifications, env.users, email)
	assert.NotPanics(t, func() {
		svc.Notify(ctx, Notice{UserID: "u1", Type: model.NotificationPaymentFailed, Title: "Payment Failed", Message: "m"})
	})

	stored, err := env.notifications.ByUser(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Nil(t, stored[0].GoalID)
}
