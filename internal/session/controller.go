// Package session ties a logged-in identity to a live synchronization
// session: it resolves credentials, creates the profile on first login and
// starts or stops the engine session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vedran77/chatspace/internal/chatsync"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/identity"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/repository"
	"github.com/vedran77/chatspace/pkg/validator"
)

const defaultCreateRetryDelay = 250 * time.Millisecond

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrInvalidProfile = errors.New("invalid profile")
)

// ProfileCreateError reports that a first-login profile could not be
// stored, after the automatic retry.
type ProfileCreateError struct {
	Attempts int
	Err      error
}

func (e *ProfileCreateError) Error() string {
	return fmt.Sprintf("creating profile (%d attempts): %v", e.Attempts, e.Err)
}

func (e *ProfileCreateError) Unwrap() error { return e.Err }

// Starter starts engine sessions. *chatsync.Engine implements it.
type Starter interface {
	Start(ctx context.Context, identity domain.User, obs chatsync.Observer) (*chatsync.Session, error)
}

type Option func(*Controller)

func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the observer handed to every started session.
func WithObserver(obs chatsync.Observer) Option {
	return func(c *Controller) { c.observer = obs }
}

// WithCreateRetryDelay sets the pause before the profile insert is retried.
func WithCreateRetryDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithDisplayIDs replaces the display id generator.
func WithDisplayIDs(gen func() (string, error)) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newDisplayID = gen
		}
	}
}

type Controller struct {
	provider     identity.Provider
	users        repository.UserRepository
	engine       Starter
	observer     chatsync.Observer
	logger       logging.Logger
	retryDelay   time.Duration
	newDisplayID func() (string, error)

	mu      sync.Mutex
	current *domain.User
	session *chatsync.Session
}

func NewController(provider identity.Provider, users repository.UserRepository, engine Starter, opts ...Option) *Controller {
	c := &Controller{
		provider:     provider,
		users:        users,
		engine:       engine,
		logger:       logging.Nop(),
		retryDelay:   defaultCreateRetryDelay,
		newDisplayID: NewDisplayID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login resolves credential, loads or creates the profile and starts a
// session for it, replacing any active one. The session is not bound to
// ctx's cancellation; it runs until Logout.
func (c *Controller) Login(ctx context.Context, credential string) (*domain.User, error) {
	claims, err := c.provider.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("resolving credential: %w", err)
	}

	user, err := c.users.GetByID(ctx, claims.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	if user == nil {
		user, err = c.createProfile(ctx, claims)
		if err != nil {
			return nil, err
		}
	}

	s, err := c.engine.Start(context.WithoutCancel(ctx), *user, c.observer)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	c.mu.Lock()
	prev := c.session
	c.session = s
	u := *user
	c.current = &u
	c.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	c.logger.Info(ctx, "logged in", "user_id", user.ID, "display_id", user.DisplayID)
	return user, nil
}

// createProfile inserts a new profile, retrying once. Each attempt draws a
// fresh display id. A conflict on the user id means another client created
// the profile first; that one is returned.
func (c *Controller) createProfile(ctx context.Context, claims *identity.Claims) (*domain.User, error) {
	var (
		created  *domain.User
		attempts int
	)
	backoff := retry.WithMaxRetries(1, retry.NewConstant(c.retryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		displayID, err := c.newDisplayID()
		if err != nil {
			return err
		}
		user := newProfile(claims, displayID)
		if errs := validator.ValidateNewUser(user.ID, user.DisplayID, user.Name, user.Email, user.AvatarURL); errs.HasErrors() {
			return fmt.Errorf("%w: %v", ErrInvalidProfile, errs)
		}

		err = c.users.Create(ctx, user)
		if err == nil {
			created = user
			return nil
		}

		if errors.Is(err, repository.ErrConflict) {
			existing, gerr := c.users.GetByID(ctx, claims.ExternalID)
			if gerr == nil && existing != nil {
				created = existing
				return nil
			}
		}
		c.logger.Warn(ctx, "profile insert failed", "user_id", claims.ExternalID, "attempt", attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, &ProfileCreateError{Attempts: attempts, Err: err}
	}
	return created, nil
}

func newProfile(claims *identity.Claims, displayID string) *domain.User {
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name, _, _ = strings.Cut(claims.Email, "@")
	}
	avatar := claims.AvatarURL
	if avatar == "" {
		avatar = DefaultAvatarURL(claims.Email)
	}
	return &domain.User{
		ID:        claims.ExternalID,
		DisplayID: displayID,
		Name:      name,
		Email:     claims.Email,
		AvatarURL: avatar,
	}
}

// Logout stops the active session, signs out of the provider when it
// supports that, and forgets the identity. Calling it again is a no-op.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	user := c.current
	c.session = nil
	c.current = nil
	c.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	if user == nil {
		return nil
	}

	c.logger.Info(ctx, "logged out", "user_id", user.ID)
	if so, ok := c.provider.(identity.SignOuter); ok {
		if err := so.SignOut(ctx); err != nil {
			return fmt.Errorf("signing out: %w", err)
		}
	}
	return nil
}

// UpdateProfile edits the current user's name or avatar. Messages already
// in the log keep the author snapshot they were merged with.
func (c *Controller) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.User, error) {
	current := c.Current()
	if current == nil {
		return nil, ErrNotLoggedIn
	}
	if upd.Empty() {
		return current, nil
	}
	if errs := validator.ValidateProfile(upd.Name, upd.AvatarURL); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, errs)
	}

	updated, err := c.users.Update(ctx, current.ID, upd)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("updating profile: user %s disappeared", current.ID)
	}

	c.mu.Lock()
	if c.current != nil && c.current.ID == updated.ID {
		u := *updated
		c.current = &u
	}
	c.mu.Unlock()
	return updated, nil
}

// Current returns a copy of the logged-in user, or nil.
func (c *Controller) Current() *domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	u := *c.current
	return &u
}

// Session returns the active engine session, or nil.
func (c *Controller) Session() *chatsync.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
