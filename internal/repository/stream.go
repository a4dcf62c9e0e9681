package repository

import (
	"context"
	"sync"

	"github.com/vedran77/chatspace/internal/domain"
)

const defaultStreamBuffer = 64

// Stream is a Subscription fed by a single producer goroutine. The producer
// calls Send for every event and Finish exactly once when it stops; Close
// cancels the producer's context and waits for Finish.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func NewStream(ctx context.Context, buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan domain.ChangeEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Context is cancelled when the subscriber closes the stream.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Send delivers ev, giving up when the stream is closed.
func (s *Stream) Send(ev domain.ChangeEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// TrySend delivers ev only if the buffer has room and the stream is open.
func (s *Stream) TrySend(ev domain.ChangeEvent) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Finish emits the terminal status and closes the event channel. A stream
// closed by its subscriber always finishes as StateClosed.
func (s *Stream) Finish(err error) {
	s.once.Do(func() {
		status := domain.StateClosed
		if err != nil && s.ctx.Err() == nil {
			status = domain.StateErrored
		} else {
			err = nil
		}
		s.Send(domain.StatusEvent(status, err))
		close(s.events)
		s.cancel()
		close(s.done)
	})
}

func (s *Stream) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Close stops the producer and waits until it has finished.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}
