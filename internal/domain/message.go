package domain

import "time"

type Message struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrichedMessage is a message joined with a snapshot of its author.
// Author is a copy taken at merge time, later profile edits don't reach it.
type EnrichedMessage struct {
	Message
	Author User `json:"author"`
}

// Before reports whether m sorts before other: by CreatedAt, then by ID.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
