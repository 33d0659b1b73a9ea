package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/model"
)

var ErrPaymentNotFound = fmt.Errorf("payment not found: %w", apperr.ErrNotFound)

// PaymentRepository stores one row per external payment intent.
type PaymentRepository interface {
	// CreateIfAbsent inserts the payment unless its intent id is already
	// recorded, and reports whether a row was written.
	CreateIfAbsent(ctx context.Context, payment *model.Payment) (bool, error)
	ByIntentID(ctx context.Context, paymentIntentID string) (*model.Payment, error)
	ByGoal(ctx context.Context, goalID string) ([]*model.Payment, error)
	// UpdateStatus moves the payment to status unless it is already there.
	UpdateStatus(ctx context.Context, paymentIntentID, status string, failureReason *string, now time.Time) (bool, error)
}

type paymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreateIfAbsent(ctx context.Context, p *model.Payment) (bool, error) {
	query := `INSERT INTO payments (
	              id, goal_id, user_id, payment_intent_id, amount, currency, status,
	              failure_reason, processed_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          ON CONFLICT (payment_intent_id) DO NOTHING`

	var processedAt *time.Time
	if p.ProcessedAt != nil {
		t := p.ProcessedAt.UTC()
		processedAt = &t
	}

	result, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.GoalID,
		p.UserID,
		p.PaymentIntentID,
		p.Amount,
		p.Currency,
		p.Status,
		p.FailureReason,
		processedAt,
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *paymentRepository) ByIntentID(ctx context.Context, paymentIntentID string) (*model.Payment, error) {
	payment := &model.Payment{}
	err := r.db.GetContext(ctx, payment, `SELECT * FROM payments WHERE payment_intent_id = $1`, paymentIntentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *paymentRepository) ByGoal(ctx context.Context, goalID string) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.SelectContext(ctx, &payments, `SELECT * FROM payments WHERE goal_id = $1 ORDER BY created_at ASC`, goalID)
	return payments, err
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, paymentIntentID, status string, failureReason *string, now time.Time) (bool, error) {
	query := `UPDATE payments
	          SET status = $1, failure_reason = $2, processed_at = $3, updated_at = $3
	          WHERE payment_intent_id = $4 AND status <> $1`

	result, err := r.db.ExecContext(ctx, query, status, failureReason, now.UTC(), paymentIntentID)
	if err != nil {
		return false, err
	}
	return affected(result)
}
