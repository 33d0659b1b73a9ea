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

var ErrUserNotFound = fmt.Errorf("user not found: %w", apperr.ErrNotFound)

type UserRepository interface {
	ByID(ctx context.Context, id string) (*model.User, error)
	// Upsert creates the user or refreshes non-empty profile fields.
	Upsert(ctx context.Context, user *model.User) error
	// SetStripeCustomerID stores the customer handle only if none is set yet.
	SetStripeCustomerID(ctx context.Context, userID, customerID string) (bool, error)
	All(ctx context.Context) ([]*model.User, error)
}

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) ByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	query := `SELECT * FROM users WHERE id = $1`

	err := r.db.GetContext(ctx, user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}

	return user, err
}

func (r *userRepository) Upsert(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (id, email, name, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $4)
	          ON CONFLICT (id) DO UPDATE SET
	              email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE users.email END,
	              name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
	              updated_at = excluded.updated_at`

	now := user.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, now)
	return err
}

func (r *userRepository) SetStripeCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	query := `UPDATE users SET stripe_customer_id = $1, updated_at = $2
	          WHERE id = $3 AND (stripe_customer_id IS NULL OR stripe_customer_id = '')`

	result, err := r.db.ExecContext(ctx, query, customerID, time.Now().UTC(), userID)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *userRepository) All(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := r.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY created_at`)
	return users, err
}
