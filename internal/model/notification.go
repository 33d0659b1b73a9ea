package model

import "time"

const (
	NotificationGoalReminder            = "goal_reminder"
	NotificationGoalDeadlineApproaching = "goal_deadline_approaching"
	NotificationGoalCompleted           = "goal_completed"
	NotificationGoalFailed              = "goal_failed"
	NotificationPaymentProcessed        = "payment_processed"
	NotificationPaymentFailed           = "payment_failed"
	NotificationPaymentActionRequired   = "payment_action_required"
	NotificationPaymentError            = "payment_error"
	NotificationNoPaymentMethod         = "no_payment_method"
)

type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	GoalID    *string   `db:"goal_id" json:"goalId,omitempty"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Read      bool      `db:"is_read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
