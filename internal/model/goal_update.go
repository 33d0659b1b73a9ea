package model

import "time"

const (
	GoalUpdateCreated      = "created"
	GoalUpdateUpdated      = "updated"
	GoalUpdateCompleted    = "completed"
	GoalUpdateFailed       = "failed"
	GoalUpdateCancelled    = "cancelled"
	GoalUpdateReminderSent = "reminder_sent"
)

// GoalUpdate is an append-only audit record of a lifecycle transition.
type GoalUpdate struct {
	ID        string    `db:"id" json:"id"`
	GoalID    string    `db:"goal_id" json:"goalId"`
	UserID    string    `db:"user_id" json:"userId"`
	Type      string    `db:"type" json:"type"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// UpdateTypeForStatus derives the audit type recorded for a transition to status.
func UpdateTypeForStatus(status string) string {
	switch status {
	case GoalStatusCompleted:
		return GoalUpdateCompleted
	case GoalStatusFailed:
		return GoalUpdateFailed
	case GoalStatusCancelled:
		return GoalUpdateCancelled
	default:
		return GoalUpdateUpdated
	}
}
