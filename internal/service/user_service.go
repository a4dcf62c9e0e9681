package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/repository"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user or display id already exists")
	ErrForbidden    = errors.New("users may only manage their own profile")
)

type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

type CreateUserInput struct {
	ID        string `json:"id"`
	DisplayID string `json:"display_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Create stores the caller's own profile. The display id is chosen by the
// client; a clash with an existing id or display id is ErrUserExists.
func (s *UserService) Create(ctx context.Context, callerID string, input CreateUserInput) (*domain.User, error) {
	if input.ID != callerID {
		return nil, ErrForbidden
	}

	user := &domain.User{
		ID:        input.ID,
		DisplayID: input.DisplayID,
		Name:      input.Name,
		Email:     input.Email,
		AvatarURL: input.AvatarURL,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrUserExists, err)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

func (s *UserService) Update(ctx context.Context, callerID, id string, upd domain.ProfileUpdate) (*domain.User, error) {
	if id != callerID {
		return nil, ErrForbidden
	}

	user, err := s.userRepo.Update(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}
