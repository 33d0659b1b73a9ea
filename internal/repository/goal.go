package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/model"
)

var (
	ErrGoalNotFound     = fmt.Errorf("goal not found: %w", apperr.ErrNotFound)
	ErrDuplicateSession = fmt.Errorf("goal already exists for session: %w", apperr.ErrConflict)
)

// GoalRepository is the authoritative goal store. Mutations that can race
// are expressed as conditional updates returning whether they applied.
type GoalRepository interface {
	Create(ctx context.Context, goal *model.Goal) error
	ByID(ctx context.Context, goalID string) (*model.Goal, error)
	BySessionID(ctx context.Context, sessionID string) (*model.Goal, error)
	// FindMatch returns the oldest goal of userID with the exact title and
	// deadline whose status is one of statuses.
	FindMatch(ctx context.Context, userID, title string, deadline time.Time, statuses []string) (*model.Goal, error)
	ByUser(ctx context.Context, userID, status string) ([]*model.Goal, error)
	Public(ctx context.Context, after *PublicCursor, limit int) ([]*model.Goal, error)
	Delete(ctx context.Context, goalID string) error

	AttachSession(ctx context.Context, goalID, sessionID string, now time.Time) (bool, error)
	CompleteSetup(ctx context.Context, goalID, paymentMethodID string, now time.Time) (bool, error)
	ReplacePaymentMethod(ctx context.Context, goalID, paymentMethodID string, now time.Time) (bool, error)
	TransitionStatus(ctx context.Context, goalID string, from []string, to string, now time.Time) (bool, error)
	// CancelUnpaidSetup cancels a goal only while it is pending without a
	// recorded payment method.
	CancelUnpaidSetup(ctx context.Context, goalID string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, goalID string, now time.Time) (bool, error)

	Expired(ctx context.Context, now time.Time, maxAttempts int) ([]*model.Goal, error)
	RecordSettlementAttempt(ctx context.Context, goalID string, retry bool, now time.Time) error
	MarkPaymentProcessed(ctx context.Context, goalID, paymentIntentID string, now time.Time) (bool, error)

	DueForReminder(ctx context.Context, now, horizon, lastBefore time.Time, maxReminders int) ([]*model.Goal, error)
	RecordReminder(ctx context.Context, goalID string, previousCount int, now time.Time) (bool, error)

	StatsForUser(ctx context.Context, userID string) (*model.UserStats, error)
}

type goalRepository struct {
	db *sqlx.DB
}

func NewGoalRepository(db *sqlx.DB) GoalRepository {
	return &goalRepository{db: db}
}

func (r *goalRepository) Create(ctx context.Context, goal *model.Goal) error {
	query := `INSERT INTO goals (
	              id, user_id, title, description, deadline, pledge_amount, status, completed,
	              payment_setup_complete, is_public, external_session_id, payment_method_id,
	              created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		goal.ID,
		goal.UserID,
		goal.Title,
		goal.Description,
		goal.Deadline.UTC(),
		goal.PledgeAmount,
		goal.Status,
		goal.Completed,
		goal.PaymentSetupComplete,
		goal.IsPublic,
		goal.ExternalSessionID,
		goal.PaymentMethodID,
		goal.CreatedAt.UTC(),
		goal.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}

	return err
}

func (r *goalRepository) ByID(ctx context.Context, goalID string) (*model.Goal, error) {
	return r.get(ctx, `SELECT * FROM goals WHERE id = $1`, goalID)
}

func (r *goalRepository) BySessionID(ctx context.Context, sessionID string) (*model.Goal, error) {
	return r.get(ctx, `SELECT * FROM goals WHERE external_session_id = $1`, sessionID)
}

func (r *goalRepository) FindMatch(ctx context.Context, userID, title string, deadline time.Time, statuses []string) (*model.Goal, error) {
	query, args, err := psql.Select("*").From("goals").
		Where(squirrel.Eq{"user_id": userID, "title": title, "deadline": deadline.UTC(), "status": statuses}).
		OrderBy("created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	return r.get(ctx, query, args...)
}

func (r *goalRepository) get(ctx context.Context, query string, args ...any) (*model.Goal, error) {
	goal := &model.Goal{}
	err := r.db.GetContext(ctx, goal, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGoalNotFound
	}
	if err != nil {
		return nil, err
	}
	return goal, nil
}

func (r *goalRepository) ByUser(ctx context.Context, userID, status string) ([]*model.Goal, error) {
	q := psql.Select("*").From("goals").Where(squirrel.Eq{"user_id": userID})
	if status != "" {
		q = q.Where(squirrel.Eq{"status": status})
	}

	query, args, err := q.OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, err
	}

	var goals []*model.Goal
	err = r.db.SelectContext(ctx, &goals, query, args...)
	return goals, err
}

// PublicCursor marks the last goal of a feed page. Goals sharing a creation
// time are ordered by id.
type PublicCursor struct {
	CreatedAt time.Time
	ID        string
}

func (r *goalRepository) Public(ctx context.Context, after *PublicCursor, limit int) ([]*model.Goal, error) {
	q := psql.Select("*").From("goals").
		Where(squirrel.Eq{"is_public": true, "payment_setup_complete": true})
	if after != nil {
		createdAt := after.CreatedAt.UTC()
		if after.ID == "" {
			q = q.Where(squirrel.Lt{"created_at": createdAt})
		} else {
			q = q.Where(squirrel.Or{
				squirrel.Lt{"created_at": createdAt},
				squirrel.And{squirrel.Eq{"created_at": createdAt}, squirrel.Lt{"id": after.ID}},
			})
		}
	}

	query, args, err := q.OrderBy("created_at DESC", "id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}

	var goals []*model.Goal
	err = r.db.SelectContext(ctx, &goals, query, args...)
	return goals, err
}

func (r *goalRepository) Delete(ctx context.Context, goalID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE id = $1`, goalID)
	if err != nil {
		return err
	}

	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGoalNotFound
	}

	return nil
}

// AttachSession records the setup session handle while setup is still open.
// A retried setup replaces the earlier handle.
func (r *goalRepository) AttachSession(ctx context.Context, goalID, sessionID string, now time.Time) (bool, error) {
	query := `UPDATE goals SET external_session_id = $1, updated_at = $2
	          WHERE id = $3 AND payment_setup_complete = FALSE AND status IN ('pending', 'active')`

	result, err := r.db.ExecContext(ctx, query, sessionID, now.UTC(), goalID)
	if isUniqueViolation(err) {
		return false, ErrDuplicateSession
	}
	if err != nil {
		return false, err
	}
	return affected(result)
}

// CompleteSetup attaches the payment method and flips pending to active, only
// if setup has not been recorded yet and the goal is still open.
func (r *goalRepository) CompleteSetup(ctx context.Context, goalID, paymentMethodID string, now time.Time) (bool, error) {
	query := `UPDATE goals
	          SET payment_method_id = $1,
	              payment_setup_complete = TRUE,
	              status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
	              updated_at = $2
	          WHERE id = $3 AND payment_setup_complete = FALSE AND status IN ('pending', 'active')`

	result, err := r.db.ExecContext(ctx, query, paymentMethodID, now.UTC(), goalID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// ReplacePaymentMethod swaps the stored payment method on an open or
// unsettled goal. A failed goal becomes eligible for another capture attempt.
// A no-op when the handle is already current.
func (r *goalRepository) ReplacePaymentMethod(ctx context.Context, goalID, paymentMethodID string, now time.Time) (bool, error) {
	query := `UPDATE goals
	          SET payment_method_id = $1,
	              payment_setup_complete = TRUE,
	              settlement_retry = CASE WHEN status = 'failed' THEN TRUE ELSE settlement_retry END,
	              settlement_attempts = CASE WHEN status = 'failed' THEN 0 ELSE settlement_attempts END,
	              updated_at = $2
	          WHERE id = $3
	            AND payment_processed = FALSE
	            AND status IN ('pending', 'active', 'failed')
	            AND (payment_method_id IS NULL OR payment_method_id <> $1)`

	result, err := r.db.ExecContext(ctx, query, paymentMethodID, now.UTC(), goalID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *goalRepository) TransitionStatus(ctx context.Context, goalID string, from []string, to string, now time.Time) (bool, error) {
	q := psql.Update("goals").
		Set("status", to).
		Set("updated_at", now.UTC()).
		Where(squirrel.Eq{"id": goalID, "status": from})
	if to == model.GoalStatusCompleted {
		q = q.Set("completed", true).Set("completed_at", now.UTC())
	}

	query, args, err := q.ToSql()
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *goalRepository) CancelUnpaidSetup(ctx context.Context, goalID string, now time.Time) (bool, error) {
	query := `UPDATE goals
	          SET status = 'cancelled', updated_at = $1
	          WHERE id = $2 AND status = 'pending' AND payment_setup_complete = FALSE`

	result, err := r.db.ExecContext(ctx, query, now.UTC(), goalID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *goalRepository) MarkCompleted(ctx context.Context, goalID string, now time.Time) (bool, error) {
	query := `UPDATE goals
	          SET status = 'completed', completed = TRUE, completed_at = $1, updated_at = $1
	          WHERE id = $2 AND status = 'active' AND completed = FALSE AND deadline >= $1`

	result, err := r.db.ExecContext(ctx, query, now.UTC(), goalID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// Expired returns goals due for settlement: active goals past their deadline,
// plus failed goals whose capture hit a retryable error.
func (r *goalRepository) Expired(ctx context.Context, now time.Time, maxAttempts int) ([]*model.Goal, error) {
	query := `SELECT * FROM goals
	          WHERE deadline < $1
	            AND completed = FALSE
	            AND payment_processed = FALSE
	            AND (status = 'active'
	                 OR (status = 'failed' AND settlement_retry = TRUE AND settlement_attempts < $2))
	          ORDER BY deadline ASC`

	var goals []*model.Goal
	err := r.db.SelectContext(ctx, &goals, query, now.UTC(), maxAttempts)
	return goals, err
}

func (r *goalRepository) RecordSettlementAttempt(ctx context.Context, goalID string, retry bool, now time.Time) error {
	query := `UPDATE goals
	          SET settlement_attempts = settlement_attempts + 1, settlement_retry = $1, updated_at = $2
	          WHERE id = $3 AND payment_processed = FALSE`

	_, err := r.db.ExecContext(ctx, query, retry, now.UTC(), goalID)
	return err
}

func (r *goalRepository) MarkPaymentProcessed(ctx context.Context, goalID, paymentIntentID string, now time.Time) (bool, error) {
	query := `UPDATE goals
	          SET payment_processed = TRUE, payment_processed_at = $1, payment_intent_id = $2,
	              settlement_retry = FALSE, updated_at = $1
	          WHERE id = $3 AND status = 'failed' AND payment_processed = FALSE`

	result, err := r.db.ExecContext(ctx, query, now.UTC(), paymentIntentID, goalID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *goalRepository) DueForReminder(ctx context.Context, now, horizon, lastBefore time.Time, maxReminders int) ([]*model.Goal, error) {
	query := `SELECT * FROM goals
	          WHERE status = 'active'
	            AND completed = FALSE
	            AND deadline > $1
	            AND deadline < $2
	            AND reminders_sent < $3
	            AND (last_reminder_sent IS NULL OR last_reminder_sent < $4)
	          ORDER BY deadline ASC`

	var goals []*model.Goal
	err := r.db.SelectContext(ctx, &goals, query, now.UTC(), horizon.UTC(), maxReminders, lastBefore.UTC())
	return goals, err
}

func (r *goalRepository) RecordReminder(ctx context.Context, goalID string, previousCount int, now time.Time) (bool, error) {
	query := `UPDATE goals
	          SET reminders_sent = reminders_sent + 1, last_reminder_sent = $1, updated_at = $1
	          WHERE id = $2 AND reminders_sent = $3`

	result, err := r.db.ExecContext(ctx, query, now.UTC(), goalID, previousCount)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *goalRepository) StatsForUser(ctx context.Context, userID string) (*model.UserStats, error) {
	query := `SELECT
	              COUNT(*) AS created,
	              COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0) AS completed,
	              COALESCE(SUM(pledge_amount), 0) AS pledged,
	              COALESCE(SUM(CASE WHEN completed THEN pledge_amount ELSE 0 END), 0) AS saved,
	              COALESCE(SUM(CASE WHEN status = 'failed' AND payment_processed THEN pledge_amount ELSE 0 END), 0) AS lost
	          FROM goals WHERE user_id = $1`

	var row struct {
		Created   int             `db:"created"`
		Completed int             `db:"completed"`
		Pledged   decimal.Decimal `db:"pledged"`
		Saved     decimal.Decimal `db:"saved"`
		Lost      decimal.Decimal `db:"lost"`
	}
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		return nil, err
	}

	return &model.UserStats{
		TotalGoalsCreated:   row.Created,
		TotalGoalsCompleted: row.Completed,
		TotalMoneyPledged:   row.Pledged,
		TotalMoneySaved:     row.Saved,
		TotalMoneyLost:      row.Lost,
	}, nil
}
