package service

import (
	"context"
	"fmt"
	"time"

	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/validation"
)

type UserService struct {
	userRepository repository.UserRepository
}

func NewUserService(userRepository repository.UserRepository) *UserService {
	return &UserService{userRepository: userRepository}
}

// Sync mirrors an externally authenticated identity into the users table.
// A malformed email claim is dropped rather than stored.
func (s *UserService) Sync(ctx context.Context, id, email, name string) (*model.User, error) {
	if email != "" && validation.ValidateEmail(email) != nil {
		email = ""
	}

	err := s.userRepository.Upsert(ctx, &model.User{
		ID:        id,
		Email:     email,
		Name:      name,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync user: %w", err)
	}

	return s.userRepository.ByID(ctx, id)
}

func (s *UserService) ByID(ctx context.Context, id string) (*model.User, error) {
	return s.userRepository.ByID(ctx, id)
}
