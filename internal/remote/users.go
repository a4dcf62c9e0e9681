package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/vedran77/chatspace/internal/domain"
)

// Users is the gateway-backed user repository.
type Users struct {
	c *Client
}

func (c *Client) Users() *Users {
	return &Users{c: c}
}

type createUserRequest struct {
	ID        string `json:"id"`
	DisplayID string `json:"display_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *Users) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := u.c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(id), nil, nil, &user)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create stores user and copies the gateway's timestamps back into it.
func (u *Users) Create(ctx context.Context, user *domain.User) error {
	req := createUserRequest{
		ID:        user.ID,
		DisplayID: user.DisplayID,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}
	var created domain.User
	if err := u.c.do(ctx, http.MethodPost, "/api/v1/users", nil, req, &created); err != nil {
		return err
	}
	user.CreatedAt = created.CreatedAt
	user.UpdatedAt = created.UpdatedAt
	return nil
}

func (u *Users) Update(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error) {
	var user domain.User
	err := u.c.do(ctx, http.MethodPatch, "/api/v1/users/"+url.PathEscape(id), nil, upd, &user)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
