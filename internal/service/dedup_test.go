package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/pledge/internal/model"
)

func TestCompareRank(t *testing.T) {
	older := testStart
	newer := testStart.Add(time.Hour)

	tests := []struct {
		name string
		a, b rankKey
		want int
	}{
		{"session beats everything", rankKey{hasSession: true, createdAt: older}, rankKey{active: true, setupComplete: true, createdAt: newer}, -1},
		{"active beats setup", rankKey{active: true, createdAt: older}, rankKey{setupComplete: true, createdAt: newer}, -1},
		{"setup beats recency", rankKey{setupComplete: true, createdAt: older}, rankKey{createdAt: newer}, -1},
		{"newer wins a tie", rankKey{createdAt: newer}, rankKey{createdAt: older}, -1},
		{"worse sorts after", rankKey{createdAt: older}, rankKey{active: true, createdAt: older}, 1},
		{"equal", rankKey{active: true, createdAt: older}, rankKey{active: true, createdAt: older}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compareRank(tt.a, tt.b))
		})
	}
}

// insertGoal bypasses create-time dedup to seed duplicates.
func insertGoal(t *testing.T, env *testEnv, title, status string, deadline, created time.Time, session string) string {
	t.Helper()
	g := &model.Goal{
		ID:           uuid.NewString(),
		UserID:       "u1",
		Title:        title,
		Deadline:     deadline,
		PledgeAmount: decimal.NewFromInt(10),
		Status:       status,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if session != "" {
		g.ExternalSessionID = &session
	}
	require.NoError(t, env.goals.Create(context.Background(), g))
	return g.ID
}

func TestDedupCleanupKeepsBestRanked(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedUser(t, "u1", "")

	deadline := testStart.Add(96 * time.Hour).Truncate(time.Millisecond)
	withSession := insertGoal(t, env, "Learn Go", model.GoalStatusPending, deadline, testStart, "cs_keep")
	insertGoal(t, env, "Learn Go ", model.GoalStatusActive, deadline, testStart.Add(time.Minute), "")
	insertGoal(t, env, "Learn Go", model.GoalStatusPending, deadline, testStart.Add(2*time.Minute), "")
	unique := insertGoal(t, env, "Learn Rust", model.GoalStatusActive, deadline, testStart, "")

	groups, err := env.dedup.FindDuplicates(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Learn Go", groups[0].Title)
	require.Len(t, groups[0].Goals, 3)
	assert.Equal(t, withSession, groups[0].Goals[0].ID)

	deleted, err := env.dedup.Cleanup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := env.goals.ByUser(ctx, "u1", "")
	require.NoError(t, err)
	ids := []string{}
	for _, g := range remaining {
		ids = append(ids, g.ID)
	}
	assert.ElementsMatch(t, []string{withSession, unique}, ids)

	groups, err = env.dedup.FindDuplicates(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, groups)
}
