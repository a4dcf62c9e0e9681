package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/identity"
)

// AuthProvider resolves ID tokens through the gateway. A successful
// Resolve leaves the client holding the issued access token.
type AuthProvider struct {
	c *Client
}

func NewAuthProvider(c *Client) *AuthProvider {
	return &AuthProvider{c: c}
}

type tokenResponse struct {
	Identity    *identity.Claims `json:"identity"`
	User        *domain.User     `json:"user,omitempty"`
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

func (p *AuthProvider) Resolve(ctx context.Context, credential string) (*identity.Claims, error) {
	var resp tokenResponse
	err := p.c.do(ctx, http.MethodPost, "/api/v1/auth/token", nil, map[string]string{"id_token": credential}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: %s", identity.ErrAuth, apiErr.Message)
		}
		return nil, err
	}
	if resp.Identity == nil || resp.AccessToken == "" {
		return nil, errors.New("gateway returned an incomplete token response")
	}

	p.c.SetToken(resp.AccessToken)
	return resp.Identity, nil
}

// SignOut forgets the access token.
func (p *AuthProvider) SignOut(ctx context.Context) error {
	p.c.SetToken("")
	return nil
}
