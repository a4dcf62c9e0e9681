package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/repository"
)

const (
	DefaultMessageLimit = 100
	MaxMessageLimit     = 100
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrProfileRequired = errors.New("author has no profile")
)

// Notifier broadcasts real-time events to connected clients. Only the
// message id is guaranteed to be set; the author may be missing.
type Notifier interface {
	NotifyNewMessage(msg *domain.EnrichedMessage)
}

type MessageService struct {
	messageRepo repository.MessageRepository
	notifier    Notifier
	logger      logging.Logger
}

func NewMessageService(messageRepo repository.MessageRepository) *MessageService {
	return &MessageService{messageRepo: messageRepo, logger: logging.Nop()}
}

func (s *MessageService) SetLogger(l logging.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetNotifier sets the real-time notifier (optional dependency). Stores
// with their own change feed, like the Postgres trigger, don't need one.
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

type SendMessageInput struct {
	Content string `json:"content"`
}

type MessageListResponse struct {
	Messages []domain.EnrichedMessage `json:"messages"`
}

func (s *MessageService) Send(ctx context.Context, userID string, input SendMessageInput) (*domain.EnrichedMessage, error) {
	msg := &domain.Message{
		AuthorID: userID,
		Content:  strings.TrimSpace(input.Content),
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrMissingReference) {
			return nil, ErrProfileRequired
		}
		return nil, fmt.Errorf("creating message: %w", err)
	}

	stored := &domain.EnrichedMessage{Message: *msg}
	if s.notifier != nil {
		s.notifier.NotifyNewMessage(stored)
	}

	// The row is committed; a failed re-read only loses the author join.
	full, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil || full == nil {
		s.logger.Warn(ctx, "re-reading sent message failed", "message_id", msg.ID, "error", err)
		return stored, nil
	}
	return full, nil
}

// ListRecent returns the newest messages in ascending time order. limit
// outside 1..MaxMessageLimit falls back to DefaultMessageLimit.
func (s *MessageService) ListRecent(ctx context.Context, limit int) (*MessageListResponse, error) {
	if limit <= 0 || limit > MaxMessageLimit {
		limit = DefaultMessageLimit
	}

	messages, err := s.messageRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.EnrichedMessage{}
	}

	return &MessageListResponse{Messages: messages}, nil
}

func (s *MessageService) Get(ctx context.Context, id string) (*domain.EnrichedMessage, error) {
	msg, err := s.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}
