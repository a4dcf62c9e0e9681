package ws

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/repository"
)

const (
	relayBaseDelay = 500 * time.Millisecond
	relayMaxDelay  = 30 * time.Second
)

// Relay forwards inserts from the store's change feed to the hub. It keeps
// one upstream subscription per table and resubscribes with capped
// exponential backoff when the upstream ends.
type Relay struct {
	hub    *Hub
	feed   repository.ChangeFeed
	logger logging.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewRelay(hub *Hub, feed repository.ChangeFeed, logger logging.Logger) *Relay {
	return &Relay{
		hub:       hub,
		feed:      feed,
		logger:    logger,
		baseDelay: relayBaseDelay,
		maxDelay:  relayMaxDelay,
	}
}

func (r *Relay) backoff() retry.Backoff {
	return retry.WithCappedDuration(r.maxDelay, retry.NewExponential(r.baseDelay))
}

// Run relays table until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, table string) error {
	logger := r.logger.With("table", table)
	b := r.backoff()

	for {
		subscribed, err := r.follow(ctx, table)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			b = r.backoff()
		}

		delay, _ := b.Next()
		logger.Warn(ctx, "relay: upstream feed ended, resubscribing", "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// follow consumes one upstream subscription and reports whether it got as
// far as being acknowledged.
func (r *Relay) follow(ctx context.Context, table string) (bool, error) {
	sub, err := r.feed.Subscribe(ctx, table)
	if err != nil {
		return false, err
	}
	defer sub.Close()

	subscribed := false
	for ev := range sub.Events() {
		if ev.IsInsert() {
			r.hub.BroadcastInsert(table, ev.NewRowID)
			continue
		}
		switch ev.Status {
		case domain.StateSubscribed:
			subscribed = true
			r.logger.Info(ctx, "relay: subscribed", "table", table)
		case domain.StateErrored:
			return subscribed, ev.Err
		}
	}
	return subscribed, nil
}
