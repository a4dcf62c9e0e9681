package chatsync

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrSessionStopped = errors.New("session stopped")
	errMessageMissing = errors.New("message not found")
)

// LoadError reports a failed bulk load. The session keeps running with an
// empty or partial log.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading recent messages: %v", e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RecoverableMissError reports a live insert whose message could not be
// re-fetched. The event is dropped.
type RecoverableMissError struct {
	MessageID string
	Err       error
}

func (e *RecoverableMissError) Error() string {
	return fmt.Sprintf("fetching message %s: %v", e.MessageID, e.Err)
}

func (e *RecoverableMissError) Unwrap() error { return e.Err }

// SendError wraps a store rejection of an outgoing message.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending message: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
