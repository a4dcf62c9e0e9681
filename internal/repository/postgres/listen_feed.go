package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/repository"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NotifyChannel is the LISTEN channel the insert trigger notifies for table.
func NotifyChannel(table string) string {
	return "chatspace_" + table
}

// ListenFeed turns the insert trigger's pg_notify calls into a change feed.
// Every subscription holds one dedicated connection taken out of the pool.
type ListenFeed struct {
	pool *pgxpool.Pool
}

func NewListenFeed(pool *pgxpool.Pool) *ListenFeed {
	return &ListenFeed{pool: pool}
}

func (f *ListenFeed) Subscribe(ctx context.Context, table string) (repository.Subscription, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	s := repository.NewStream(ctx, 0)
	go f.listen(s, NotifyChannel(table))
	return s, nil
}

func (f *ListenFeed) listen(s *repository.Stream, channel string) {
	ctx := s.Context()

	pooled, err := f.pool.Acquire(ctx)
	if err != nil {
		s.Finish(fmt.Errorf("acquiring listen connection: %w", err))
		return
	}
	// The connection leaves the pool: a LISTENing session must not be reused.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		s.Finish(fmt.Errorf("listen %s: %w", channel, err))
		return
	}
	if !s.Send(domain.StatusEvent(domain.StateSubscribed, nil)) {
		s.Finish(nil)
		return
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			s.Finish(fmt.Errorf("waiting for notification: %w", err))
			return
		}
		if n.Payload == "" {
			continue
		}
		if !s.Send(domain.InsertEvent(n.Payload)) {
			s.Finish(nil)
			return
		}
	}
}
