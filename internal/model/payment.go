package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// Payment is the settlement record of one external charge.
type Payment struct {
	ID              string          `db:"id" json:"id"`
	GoalID          string          `db:"goal_id" json:"goalId"`
	UserID          string          `db:"user_id" json:"userId"`
	PaymentIntentID string          `db:"payment_intent_id" json:"paymentIntentId"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Currency        string          `db:"currency" json:"currency"`
	Status          string          `db:"status" json:"status"`
	FailureReason   *string         `db:"failure_reason" json:"failureReason,omitempty"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processedAt,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}
