package redisfeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/logging"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := NewClient(srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func next(t *testing.T, ch <-chan domain.ChangeEvent) domain.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.ChangeEvent{}
}

func TestFeed_DeliversPublishedInserts(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	sub, err := NewFeed(client).Subscribe(ctx, domain.TableMessages)
	require.NoError(t, err)
	defer sub.Close()

	ev := next(t, sub.Events())
	require.Equal(t, domain.StateSubscribed, ev.Status)

	pub := NewPublisher(client, logging.Nop())
	pub.NotifyNewMessage(&domain.EnrichedMessage{Message: domain.Message{ID: "m1"}})
	require.NoError(t, pub.Publish(ctx, domain.TableMessages, "m2"))

	assert.Equal(t, "m1", next(t, sub.Events()).NewRowID)
	assert.Equal(t, "m2", next(t, sub.Events()).NewRowID)
}

func TestFeed_OtherTablesAreIgnored(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	sub, err := NewFeed(client).Subscribe(ctx, domain.TableMessages)
	require.NoError(t, err)
	defer sub.Close()
	require.Equal(t, domain.StateSubscribed, next(t, sub.Events()).Status)

	pub := NewPublisher(client, logging.Nop())
	require.NoError(t, pub.Publish(ctx, "users", "u1"))
	require.NoError(t, pub.Publish(ctx, domain.TableMessages, "m1"))

	assert.Equal(t, "m1", next(t, sub.Events()).NewRowID)
}

func TestFeed_CloseEndsStream(t *testing.T) {
	client := newClient(t)

	sub, err := NewFeed(client).Subscribe(context.Background(), domain.TableMessages)
	require.NoError(t, err)
	require.Equal(t, domain.StateSubscribed, next(t, sub.Events()).Status)

	require.NoError(t, sub.Close())

	for ev := range sub.Events() {
		assert.Equal(t, domain.StateClosed, ev.Status)
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)

	c, err := NewClient("redis://:secret@localhost:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)
	_ = c.Close()
}
