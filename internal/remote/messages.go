package remote

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vedran77/chatspace/internal/domain"
)

// Messages is the gateway-backed message repository. The gateway takes
// the author from the access token.
type Messages struct {
	c *Client
}

func (c *Client) Messages() *Messages {
	return &Messages{c: c}
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type messageList struct {
	Messages []domain.EnrichedMessage `json:"messages"`
}

func (m *Messages) Create(ctx context.Context, msg *domain.Message) error {
	var stored domain.EnrichedMessage
	if err := m.c.do(ctx, http.MethodPost, "/api/v1/messages", nil, sendMessageRequest{Content: msg.Content}, &stored); err != nil {
		return err
	}
	*msg = stored.Message
	return nil
}

func (m *Messages) GetByID(ctx context.Context, id string) (*domain.EnrichedMessage, error) {
	var msg domain.EnrichedMessage
	err := m.c.do(ctx, http.MethodGet, "/api/v1/messages/"+url.PathEscape(id), nil, nil, &msg)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *Messages) ListRecent(ctx context.Context, limit int) ([]domain.EnrichedMessage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var list messageList
	if err := m.c.do(ctx, http.MethodGet, "/api/v1/messages", query, nil, &list); err != nil {
		return nil, err
	}
	return list.Messages, nil
}
