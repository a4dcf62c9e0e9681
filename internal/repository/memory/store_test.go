package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/repository"
)

func withUser(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.Users().Create(context.Background(), &domain.User{ID: "u1", DisplayID: "123456", Name: "Ana"}))
	return s
}

func TestUsers_Conflicts(t *testing.T) {
	s := withUser(t)
	ctx := context.Background()

	err := s.Users().Create(ctx, &domain.User{ID: "u1", DisplayID: "654321"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	err = s.Users().Create(ctx, &domain.User{ID: "u2", DisplayID: "123456"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	missing, err := s.Users().GetByID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUsers_Update(t *testing.T) {
	s := withUser(t)
	name := "Ana K"

	u, err := s.Users().Update(context.Background(), "u1", domain.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Ana K", u.Name)
	assert.Equal(t, "123456", u.DisplayID)

	u, err = s.Users().Update(context.Background(), "u2", domain.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestMessages_CreateRequiresAuthor(t *testing.T) {
	s := NewStore()
	err := s.Messages().Create(context.Background(), &domain.Message{AuthorID: "ghost", Content: "hi"})
	assert.ErrorIs(t, err, repository.ErrMissingReference)
}

func TestMessages_ListRecentAscending(t *testing.T) {
	s := withUser(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, at := range []time.Duration{2, 0, 1} {
		msg := &domain.Message{ID: string(rune('a' + i)), AuthorID: "u1", Content: "x", CreatedAt: base.Add(at * time.Minute)}
		require.NoError(t, s.Messages().Create(ctx, msg))
	}

	got, err := s.Messages().ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "Ana", got[1].Author.Name)
}

func TestMessages_CreateAssignsIDAndTime(t *testing.T) {
	s := withUser(t)
	msg := &domain.Message{AuthorID: "u1", Content: "hi"}
	require.NoError(t, s.Messages().Create(context.Background(), msg))

	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	got, err := s.Messages().GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Content)
}

func TestFeed_DeliversInserts(t *testing.T) {
	s := withUser(t)
	ctx := context.Background()

	sub, err := s.Feed().Subscribe(ctx, domain.TableMessages)
	require.NoError(t, err)
	defer sub.Close()

	first := <-sub.Events()
	assert.Equal(t, domain.StateSubscribed, first.Status)

	msg := &domain.Message{AuthorID: "u1", Content: "hi"}
	require.NoError(t, s.Messages().Create(ctx, msg))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, msg.ID, ev.NewRowID)
	case <-time.After(time.Second):
		t.Fatal("no insert delivered")
	}
}

func TestFeed_CloseUnsubscribes(t *testing.T) {
	s := withUser(t)

	sub, err := s.Feed().Subscribe(context.Background(), domain.TableMessages)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SubscriberCount(domain.TableMessages))

	require.NoError(t, sub.Close())
	assert.Eventually(t, func() bool {
		return s.SubscriberCount(domain.TableMessages) == 0
	}, time.Second, 10*time.Millisecond)

	for ev := range sub.Events() {
		assert.NotEqual(t, domain.StateErrored, ev.Status)
	}
}

func TestFeed_SlowSubscriberDoesNotBlockWrites(t *testing.T) {
	s := withUser(t)
	ctx := context.Background()

	slow, err := s.Feed().Subscribe(ctx, domain.TableMessages)
	require.NoError(t, err)
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			_ = s.Messages().Create(ctx, &domain.Message{AuthorID: "u1", Content: "flood"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writes blocked on an undrained subscriber")
	}
	assert.Equal(t, 0, s.SubscriberCount(domain.TableMessages))

	// the dropped subscriber still sees a closed channel, never an error
	for ev := range slow.Events() {
		assert.NotEqual(t, domain.StateErrored, ev.Status)
	}
}
