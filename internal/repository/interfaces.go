package repository

import (
	"context"

	"github.com/vedran77/chatspace/internal/domain"
)

// UserRepository reads and writes user profiles. GetByID returns (nil, nil)
// when the user does not exist.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error)
}

// MessageRepository reads and writes the shared message stream.
type MessageRepository interface {
	// Create stores a message. The store assigns ID and CreatedAt when they
	// are empty and writes them back into msg.
	Create(ctx context.Context, msg *domain.Message) error
	// GetByID returns the message joined with its author, or (nil, nil).
	GetByID(ctx context.Context, id string) (*domain.EnrichedMessage, error)
	// ListRecent returns up to limit most recent messages in ascending
	// CreatedAt order, each joined with its author.
	ListRecent(ctx context.Context, limit int) ([]domain.EnrichedMessage, error)
}

// ChangeFeed opens live subscriptions to row inserts of a table.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string) (Subscription, error)
}

// Subscription is a live stream of change events. Events yields a
// StateSubscribed notification once the transport acknowledged the
// subscription, then inserts, and finally one terminal status (Closed or
// Errored) before the channel is closed.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}
