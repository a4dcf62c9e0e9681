package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/repository"
	"github.com/vedran77/chatspace/internal/transport/ws"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ProtocolError is an error event sent by the gateway over the feed.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("feed error [%s]: %s", e.Code, e.Message)
}

// WSFeed is a ChangeFeed over the gateway WebSocket. Each subscription
// owns one connection.
type WSFeed struct {
	c *Client
}

func (c *Client) Feed() *WSFeed {
	return &WSFeed{c: c}
}

func (f *WSFeed) url() string {
	u := *f.c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = f.c.baseURL.Path + "/ws"
	u.RawQuery = url.Values{"token": {f.c.Token()}}.Encode()
	return u.String()
}

func (f *WSFeed) Subscribe(ctx context.Context, table string) (repository.Subscription, error) {
	conn, resp, err := websocket.Dial(ctx, f.url(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial feed: %w", &APIError{Status: resp.StatusCode, Message: "invalid token"})
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	if err := wsjson.Write(ctx, conn, ws.Event{Type: ws.EventTypeSubscribe, Table: table}); err != nil {
		conn.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	s := repository.NewStream(ctx, 0)
	go f.read(s, conn, table)
	return s, nil
}

func (f *WSFeed) read(s *repository.Stream, conn *websocket.Conn, table string) {
	ctx := s.Context()
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var evt ws.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			s.Finish(closeReason(err))
			return
		}

		switch evt.Type {
		case ws.EventTypeSubscribed:
			if evt.Table == table && !s.Send(domain.StatusEvent(domain.StateSubscribed, nil)) {
				s.Finish(nil)
				return
			}
		case ws.EventTypeInsert:
			if evt.Table != table {
				continue
			}
			var payload ws.InsertPayload
			if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload.ID == "" {
				f.c.logger.Warn(ctx, "feed: malformed insert event", "error", err)
				continue
			}
			if !s.Send(domain.InsertEvent(payload.ID)) {
				s.Finish(nil)
				return
			}
		case ws.EventTypeError:
			var payload ws.ErrorPayload
			_ = json.Unmarshal(evt.Payload, &payload)
			s.Finish(&ProtocolError{Code: payload.Code, Message: payload.Message})
			return
		}
	}
}

// closeReason turns a read failure into the stream's terminal error: nil
// when the connection closed or dropped, the error when the gateway closed
// it with a protocol or policy status.
func closeReason(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusAbnormalClosure:
		return nil
	case -1:
	default:
		return err
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET):
		return nil
	}
	return err
}
