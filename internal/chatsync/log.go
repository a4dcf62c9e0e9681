package chatsync

import (
	"slices"
	"sort"

	"github.com/vedran77/chatspace/internal/domain"
)

// ConversationLog is the ordered, id-deduplicated message log of a session.
// Entries are non-decreasing in CreatedAt. It is not safe for concurrent
// use; Session guards it.
type ConversationLog struct {
	entries []domain.EnrichedMessage
	ids     map[string]struct{}
}

func NewConversationLog() *ConversationLog {
	return &ConversationLog{ids: make(map[string]struct{})}
}

// Merge adds msg unless its id is already present and reports whether the
// log changed. A message not older than the tail is appended; an older one
// goes right after the last entry created at or before it.
func (l *ConversationLog) Merge(msg domain.EnrichedMessage) bool {
	if _, ok := l.ids[msg.ID]; ok {
		return false
	}
	l.ids[msg.ID] = struct{}{}

	n := len(l.entries)
	if n == 0 || !msg.CreatedAt.Before(l.entries[n-1].CreatedAt) {
		l.entries = append(l.entries, msg)
		return true
	}

	i := sort.Search(n, func(i int) bool {
		return l.entries[i].CreatedAt.After(msg.CreatedAt)
	})
	l.entries = slices.Insert(l.entries, i, msg)
	return true
}

// MergeBatch merges batch in its given order and returns how many entries
// were added.
func (l *ConversationLog) MergeBatch(batch []domain.EnrichedMessage) int {
	added := 0
	for _, msg := range batch {
		if l.Merge(msg) {
			added++
		}
	}
	return added
}

func (l *ConversationLog) Len() int {
	return len(l.entries)
}

func (l *ConversationLog) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Snapshot returns a copy of the entries that the caller may keep.
func (l *ConversationLog) Snapshot() []domain.EnrichedMessage {
	return slices.Clone(l.entries)
}

func (l *ConversationLog) Reset() {
	l.entries = nil
	clear(l.ids)
}
