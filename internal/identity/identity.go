// Package identity resolves opaque login credentials into identity claims.
package identity

import (
	"context"
	"errors"
)

// ErrAuth is returned (wrapped) whenever a credential is rejected.
var ErrAuth = errors.New("credential rejected")

// Claims is what the identity provider vouches for.
type Claims struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// Provider verifies a credential and returns the identity behind it.
type Provider interface {
	Resolve(ctx context.Context, credential string) (*Claims, error)
}

// SignOuter is implemented by providers that keep a server-side session.
type SignOuter interface {
	SignOut(ctx context.Context) error
}
