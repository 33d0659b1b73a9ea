package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/templui/pledge/internal/db"
	"github.com/templui/pledge/internal/model"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	database, err := db.Init("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })

	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))
	return database
}

func seedUser(t *testing.T, users UserRepository, id string) {
	t.Helper()
	require.NoError(t, users.Upsert(context.Background(), &model.User{ID: id, Email: id + "@example.com", Name: id}))
}

func newGoal(userID, status string, deadline time.Time) *model.Goal {
	now := time.Now().UTC()
	return &model.Goal{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        "Run a marathon",
		Deadline:     deadline,
		PledgeAmount: decimal.RequireFromString("25.50"),
		Status:       status,
		IsPublic:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
