// Package redisfeed carries insert notifications over Redis pub/sub, for
// gateways that don't rely on Postgres LISTEN/NOTIFY.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/repository"
)

const publishTimeout = 3 * time.Second

// Channel is the pub/sub channel carrying inserts of table.
func Channel(table string) string {
	return "chatspace:" + table
}

// NewClient accepts either a redis:// URL or a bare host:port address.
func NewClient(url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis url required")
	}
	if strings.Contains(url, "://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: url}), nil
}

type Feed struct {
	client *redis.Client
}

func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client}
}

func (f *Feed) Subscribe(ctx context.Context, table string) (repository.Subscription, error) {
	s := repository.NewStream(ctx, 0)
	go f.run(s, Channel(table))
	return s, nil
}

func (f *Feed) run(s *repository.Stream, channel string) {
	ctx := s.Context()

	ps := f.client.Subscribe(ctx, channel)
	defer ps.Close()

	// The first reply is the subscription confirmation.
	if _, err := ps.Receive(ctx); err != nil {
		s.Finish(fmt.Errorf("subscribe %s: %w", channel, err))
		return
	}
	if !s.Send(domain.StatusEvent(domain.StateSubscribed, nil)) {
		s.Finish(nil)
		return
	}

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Finish(nil)
			return
		case msg, ok := <-messages:
			if !ok {
				s.Finish(errors.New("redis subscription closed"))
				return
			}
			if msg.Payload == "" {
				continue
			}
			if !s.Send(domain.InsertEvent(msg.Payload)) {
				s.Finish(nil)
				return
			}
		}
	}
}

// Publisher announces stored messages on the messages channel.
type Publisher struct {
	client *redis.Client
	logger logging.Logger
}

func NewPublisher(client *redis.Client, logger logging.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish announces a new row of table.
func (p *Publisher) Publish(ctx context.Context, table, id string) error {
	return p.client.Publish(ctx, Channel(table), id).Err()
}

// NotifyNewMessage implements service.Notifier.
func (p *Publisher) NotifyNewMessage(msg *domain.EnrichedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, domain.TableMessages, msg.ID); err != nil {
		p.logger.Error(ctx, "redis publish failed", "message_id", msg.ID, "err", err)
	}
}
