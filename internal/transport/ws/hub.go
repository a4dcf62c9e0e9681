package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/vedran77/chatspace/internal/logging"
)

// Hub manages all active WebSocket clients and routes inserts to the
// clients subscribed to their table.
type Hub struct {
	clients map[*Client]struct{}
	tables  map[string]struct{}
	logger  logging.Logger
	count   atomic.Int64

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMsg
	done       chan struct{}
}

type broadcastMsg struct {
	table string
	data  []byte
}

// NewHub creates a hub serving subscriptions to the given tables.
func NewHub(logger logging.Logger, tables ...string) *Hub {
	known := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		known[t] = struct{}{}
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		tables:     known,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMsg, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.logger.Debug(ctx, "ws hub: client connected", "user_id", client.userID, "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug(ctx, "ws hub: client disconnected", "user_id", client.userID, "total", len(h.clients))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.IsSubscribed(msg.table) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full - disconnect
					h.logger.Warn(ctx, "ws hub: dropping slow client", "user_id", client.userID)
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	h.count.Store(int64(len(h.clients)))
	client.mu.Lock()
	close(client.send)
	close(client.done)
	client.mu.Unlock()
}

// Knows reports whether clients may subscribe to table.
func (h *Hub) Knows(table string) bool {
	_, ok := h.tables[table]
	return ok
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Register hands a client to the hub. It reports false when the hub has
// stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastInsert sends an insert event to all subscribers of table,
// including the client that wrote the row.
func (h *Hub) BroadcastInsert(table, id string) {
	evt, err := NewEvent(EventTypeInsert, table, InsertPayload{ID: id})
	if err != nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error(context.Background(), "ws hub: marshal error", "error", err)
		return
	}
	select {
	case h.broadcast <- &broadcastMsg{table: table, data: data}:
	case <-h.done:
	}
}
