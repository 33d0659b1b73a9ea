package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	GoalStatusPending   = "pending"
	GoalStatusActive    = "active"
	GoalStatusCompleted = "completed"
	GoalStatusFailed    = "failed"
	GoalStatusCancelled = "cancelled"
)

// CancellationWindow is how long after creation an owner may still cancel.
const CancellationWindow = 24 * time.Hour

type Goal struct {
	ID                   string          `db:"id" json:"id"`
	UserID               string          `db:"user_id" json:"userId"`
	Title                string          `db:"title" json:"title"`
	Description          string          `db:"description" json:"description,omitempty"`
	Deadline             time.Time       `db:"deadline" json:"deadline"`
	PledgeAmount         decimal.Decimal `db:"pledge_amount" json:"pledgeAmount"`
	Status               string          `db:"status" json:"status"`
	Completed            bool            `db:"completed" json:"completed"`
	CompletedAt          *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	PaymentSetupComplete bool            `db:"payment_setup_complete" json:"paymentSetupComplete"`
	IsPublic             bool            `db:"is_public" json:"isPublic"`
	ExternalSessionID    *string         `db:"external_session_id" json:"externalSessionId,omitempty"`
	PaymentMethodID      *string         `db:"payment_method_id" json:"-"`
	PaymentIntentID      *string         `db:"payment_intent_id" json:"paymentIntentId,omitempty"`
	PaymentProcessed     bool            `db:"payment_processed" json:"paymentProcessed"`
	PaymentProcessedAt   *time.Time      `db:"payment_processed_at" json:"paymentProcessedAt,omitempty"`
	SettlementRetry      bool            `db:"settlement_retry" json:"-"`
	SettlementAttempts   int             `db:"settlement_attempts" json:"-"`
	RemindersSent        int             `db:"reminders_sent" json:"remindersSent"`
	LastReminderSent     *time.Time      `db:"last_reminder_sent" json:"lastReminderSent,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updatedAt"`
}

func (g *Goal) HasPaymentMethod() bool {
	return g.PaymentMethodID != nil && *g.PaymentMethodID != ""
}

func (g *Goal) HasSession() bool {
	return g.ExternalSessionID != nil && *g.ExternalSessionID != ""
}

// IsTerminal reports whether no further lifecycle transition may leave the goal.
func (g *Goal) IsTerminal() bool {
	switch g.Status {
	case GoalStatusCompleted, GoalStatusFailed, GoalStatusCancelled:
		return true
	}
	return false
}

// AllowedFrom lists the statuses a goal may be in before moving to status.
func AllowedFrom(status string) []string {
	switch status {
	case GoalStatusActive:
		return []string{GoalStatusPending}
	case GoalStatusCompleted, GoalStatusFailed:
		return []string{GoalStatusActive}
	case GoalStatusCancelled:
		return []string{GoalStatusPending, GoalStatusActive}
	}
	return nil
}

func ValidGoalStatus(status string) bool {
	switch status {
	case GoalStatusPending, GoalStatusActive, GoalStatusCompleted, GoalStatusFailed, GoalStatusCancelled:
		return true
	}
	return false
}
