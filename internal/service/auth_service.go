package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/identity"
	"github.com/vedran77/chatspace/internal/repository"
)

var ErrInvalidCreds = errors.New("invalid identity token")

type AuthService struct {
	provider  identity.Provider
	userRepo  repository.UserRepository
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(provider identity.Provider, userRepo repository.UserRepository, jwtSecret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		provider:  provider,
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

type TokenInput struct {
	IDToken string `json:"id_token"`
}

type TokenResponse struct {
	Identity    *identity.Claims `json:"identity"`
	User        *domain.User     `json:"user,omitempty"`
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// Exchange verifies an ID token and issues a gateway access token for its
// subject. User is the stored profile, nil before the first login created
// one.
func (s *AuthService) Exchange(ctx context.Context, input TokenInput) (*TokenResponse, error) {
	claims, err := s.provider.Resolve(ctx, input.IDToken)
	if err != nil {
		if errors.Is(err, identity.ErrAuth) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCreds, err)
		}
		return nil, fmt.Errorf("resolving id token: %w", err)
	}

	user, err := s.userRepo.GetByID(ctx, claims.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	token, expiresAt, err := s.generateToken(claims)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	return &TokenResponse{
		Identity:    claims,
		User:        user,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *AuthService) generateToken(claims *identity.Claims) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   claims.ExternalID,
		"email": claims.Email,
		"exp":   expiresAt.Unix(),
		"iat":   now.Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
