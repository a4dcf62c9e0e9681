// Package memory is a process-local store with the same contract as the
// postgres repositories and change feed. The gateway runs on it when no
// database is configured.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/repository"
)

type Store struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	displayIDs map[string]string
	messages   []domain.Message
	byID       map[string]int
	now        func() time.Time

	subMu sync.Mutex
	subs  map[string]map[*repository.Stream]struct{}
}

func NewStore() *Store {
	return &Store{
		users:      make(map[string]domain.User),
		displayIDs: make(map[string]string),
		byID:       make(map[string]int),
		now:        time.Now,
		subs:       make(map[string]map[*repository.Stream]struct{}),
	}
}

// Users returns the store's user repository.
func (s *Store) Users() repository.UserRepository { return userRepo{s} }

// Messages returns the store's message repository.
func (s *Store) Messages() repository.MessageRepository { return messageRepo{s} }

// Feed returns a change feed of the store's inserts.
func (s *Store) Feed() repository.ChangeFeed { return changeFeed{s} }

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, user *domain.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%w: users_pkey", repository.ErrConflict)
	}
	if _, ok := s.displayIDs[user.DisplayID]; ok {
		return fmt.Errorf("%w: users_display_id_key", repository.ErrConflict)
	}

	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = *user
	s.displayIDs[user.DisplayID] = user.ID
	return nil
}

func (r userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r userRepo) Update(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.AvatarURL != nil {
		u.AvatarURL = *upd.AvatarURL
	}
	u.UpdatedAt = s.now()
	s.users[id] = u
	return &u, nil
}

type messageRepo struct{ s *Store }

func (r messageRepo) Create(ctx context.Context, msg *domain.Message) error {
	s := r.s
	s.mu.Lock()
	if _, ok := s.users[msg.AuthorID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: messages_author_id_fkey", repository.ErrMissingReference)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, ok := s.byID[msg.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: messages_pkey", repository.ErrConflict)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.byID[msg.ID] = len(s.messages)
	s.messages = append(s.messages, *msg)
	s.mu.Unlock()

	s.publish(domain.TableMessages, msg.ID)
	return nil
}

func (r messageRepo) GetByID(ctx context.Context, id string) (*domain.EnrichedMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	i, ok := r.s.byID[id]
	if !ok {
		return nil, nil
	}
	m := r.s.enrich(r.s.messages[i])
	return &m, nil
}

func (r messageRepo) ListRecent(ctx context.Context, limit int) ([]domain.EnrichedMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sorted := slices.Clone(r.s.messages)
	slices.SortStableFunc(sorted, func(a, b domain.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}

	out := make([]domain.EnrichedMessage, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, r.s.enrich(m))
	}
	return out, nil
}

// enrich joins m with its author. Callers hold mu.
func (s *Store) enrich(m domain.Message) domain.EnrichedMessage {
	return domain.EnrichedMessage{Message: m, Author: s.users[m.AuthorID]}
}

type changeFeed struct{ s *Store }

func (f changeFeed) Subscribe(ctx context.Context, table string) (repository.Subscription, error) {
	s := f.s
	stream := repository.NewStream(ctx, 0)
	stream.Send(domain.StatusEvent(domain.StateSubscribed, nil))

	s.subMu.Lock()
	if s.subs[table] == nil {
		s.subs[table] = make(map[*repository.Stream]struct{})
	}
	s.subs[table][stream] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-stream.Context().Done()
		s.subMu.Lock()
		delete(s.subs[table], stream)
		s.subMu.Unlock()
		stream.Finish(nil)
	}()
	return stream, nil
}

// publish hands id to every subscriber of table without waiting. A
// subscriber whose buffer is full is closed.
func (s *Store) publish(table, id string) {
	var lagging []*repository.Stream
	s.subMu.Lock()
	for stream := range s.subs[table] {
		if !stream.TrySend(domain.InsertEvent(id)) {
			lagging = append(lagging, stream)
		}
	}
	s.subMu.Unlock()

	for _, stream := range lagging {
		_ = stream.Close()
	}
}

// SubscriberCount reports the live subscriptions to table.
func (s *Store) SubscriberCount(table string) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs[table])
}
