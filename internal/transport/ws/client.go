package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vedran77/chatspace/internal/logging"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// Client represents a single WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	logger logging.Logger

	// tables tracks which tables this client listens to.
	tables map[string]struct{}
	mu     sync.RWMutex

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, logger logging.Logger) *Client {
	conn.SetReadLimit(maxMessageSize)
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		logger: logger.With("user_id", userID),
		tables: make(map[string]struct{}),
		send:   make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
	}
}

// IsSubscribed checks if this client is subscribed to a table.
func (c *Client) IsSubscribed(table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[table]
	return ok
}

func (c *Client) Subscribe(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[table] = struct{}{}
}

func (c *Client) Unsubscribe(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, table)
}

// ReadPump reads messages from the WebSocket and handles them.
func (c *Client) ReadPump() {
	ctx := context.Background()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.logger.Debug(ctx, "ws: client disconnected")
			} else {
				c.logger.Debug(ctx, "ws: read error", "error", err)
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.Warn(ctx, "ws: write error", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Debug(ctx, "ws: ping error", "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeSubscribe:
		if !c.hub.Knows(event.Table) {
			c.sendError("UNKNOWN_TABLE", "unknown table: "+event.Table)
			return
		}
		c.Subscribe(event.Table)
		c.sendEvent(EventTypeSubscribed, event.Table, nil)

	case EventTypeUnsubscribe:
		c.Unsubscribe(event.Table)

	case EventTypePing:
		c.sendEvent(EventTypePong, "", nil)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) sendEvent(eventType, table string, payload any) {
	evt, err := NewEvent(eventType, table, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(code, message string) {
	c.sendEvent(EventTypeError, "", ErrorPayload{Code: code, Message: message})
}
