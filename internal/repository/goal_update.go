package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/pledge/internal/model"
)

type GoalUpdateRepository interface {
	Create(ctx context.Context, update *model.GoalUpdate) error
	ByGoal(ctx context.Context, goalID string) ([]*model.GoalUpdate, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type goalUpdateRepository struct {
	db *sqlx.DB
}

func NewGoalUpdateRepository(db *sqlx.DB) GoalUpdateRepository {
	return &goalUpdateRepository{db: db}
}

func (r *goalUpdateRepository) Create(ctx context.Context, update *model.GoalUpdate) error {
	query := `INSERT INTO goal_updates (id, goal_id, user_id, type, message, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		update.ID,
		update.GoalID,
		update.UserID,
		update.Type,
		update.Message,
		update.CreatedAt.UTC(),
	)
	return err
}

func (r *goalUpdateRepository) ByGoal(ctx context.Context, goalID string) ([]*model.GoalUpdate, error) {
	var updates []*model.GoalUpdate
	query := `SELECT * FROM goal_updates WHERE goal_id = $1 ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &updates, query, goalID)
	return updates, err
}

func (r *goalUpdateRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM goal_updates WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
