package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("failed to create goal: %w", Invalid("title", "Goal title cannot be empty"))

	assert.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Fields[0].Field)
	assert.Equal(t, "Goal title cannot be empty", Message(err))
}

func TestValidationErrorMultipleFields(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{
		{Field: "amount", Message: "required"},
		{Field: "goalId", Message: "invalid"},
	}}

	assert.Equal(t, "validation failed: amount: required; goalId: invalid", err.Error())
}

func TestMessageStripsSentinel(t *testing.T) {
	assert.Equal(t, "Goal is already completed or not active", Message(Conflict("Goal is already completed or not active")))
	assert.Equal(t, "not yours", Message(Forbidden("not yours")))
	assert.Equal(t, "goal not found", Message(fmt.Errorf("goal not found: %w", ErrNotFound)))
	assert.Equal(t, "boom", Message(errors.New("boom")))
}

func TestGatewayError(t *testing.T) {
	declined := &GatewayError{Kind: GatewayDeclined, Code: "card_declined", Message: "Your card was declined."}
	assert.ErrorIs(t, declined, ErrGateway)
	assert.False(t, declined.Retryable())
	assert.Equal(t, "gateway declined (card_declined): Your card was declined.", declined.Error())

	transport := &GatewayError{Kind: GatewayTransport, Message: "timeout", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, transport, ErrGateway)
	assert.ErrorIs(t, transport, context.DeadlineExceeded)
	assert.True(t, transport.Retryable())
}

func TestJoinMergesFields(t *testing.T) {
	assert.NoError(t, Join(nil, errors.New("not a validation error")))

	err := Join(Invalid("title", "empty"), nil, Invalid("deadline", "past"))
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 2)
	assert.ErrorIs(t, err, ErrValidation)
}
