package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/pledge/internal/model"
)

func TestUserUpsertKeepsExistingProfile(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository(newTestDB(t))

	require.NoError(t, users.Upsert(ctx, &model.User{ID: "u1", Email: "a@example.com", Name: "Ada"}))
	require.NoError(t, users.Upsert(ctx, &model.User{ID: "u1", Email: "", Name: "Ada L"}))

	user, err := users.ByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", user.Email)
	assert.Equal(t, "Ada L", user.Name)
	assert.False(t, user.HasCustomer())

	_, err = users.ByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSetStripeCustomerIDOnlyOnce(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepository(newTestDB(t))
	seedUser(t, users, "u1")

	ok, err := users.SetStripeCustomerID(ctx, "u1", "cus_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = users.SetStripeCustomerID(ctx, "u1", "cus_2")
	require.NoError(t, err)
	assert.False(t, ok)

	user, err := users.ByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", *user.StripeCustomerID)

	all, err := users.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
