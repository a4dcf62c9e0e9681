// Package chatsync keeps a client's ordered view of the shared message
// stream: a bulk load of recent history followed by live inserts from the
// change feed, merged into a deduplicated ConversationLog.
package chatsync

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/logging"
	"github.com/vedran77/chatspace/internal/repository"
)

const DefaultHistoryLimit = 100

// Observer receives session notifications, one call at a time. Calls come
// from the session's consumer goroutine, except the final Closed of a
// session stopped after its feed had already ended, which Stop delivers.
type Observer interface {
	OnState(state domain.SubscriptionState, err error)
	// OnLoad reports the outcome of a bulk load; err is a *LoadError.
	OnLoad(err error)
	// OnLog delivers a copy of the log after every change.
	OnLog(snapshot []domain.EnrichedMessage)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	State func(state domain.SubscriptionState, err error)
	Load  func(err error)
	Log   func(snapshot []domain.EnrichedMessage)
}

func (o ObserverFuncs) OnState(state domain.SubscriptionState, err error) {
	if o.State != nil {
		o.State(state, err)
	}
}

func (o ObserverFuncs) OnLoad(err error) {
	if o.Load != nil {
		o.Load(err)
	}
}

func (o ObserverFuncs) OnLog(snapshot []domain.EnrichedMessage) {
	if o.Log != nil {
		o.Log(snapshot)
	}
}

type reconnectPolicy struct {
	base     time.Duration
	max      time.Duration
	attempts uint64
}

func (p reconnectPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.base)
	b = retry.WithCappedDuration(p.max, b)
	return retry.WithMaxRetries(p.attempts, b)
}

type Option func(*Engine)

// WithHistoryLimit sets how many recent messages the bulk load fetches.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithReconnect makes a session resubscribe after the feed closes or
// fails, waiting an exponential backoff between base and max, at most
// attempts times in a row. Each reconnect re-runs the bulk load.
func WithReconnect(base, maxDelay time.Duration, attempts uint64) Option {
	return func(e *Engine) {
		if base <= 0 || attempts == 0 {
			return
		}
		if maxDelay < base {
			maxDelay = base
		}
		e.reconnect = &reconnectPolicy{base: base, max: maxDelay, attempts: attempts}
	}
}

// Engine starts synchronization sessions against a message store and its
// change feed.
type Engine struct {
	messages     repository.MessageRepository
	feed         repository.ChangeFeed
	historyLimit int
	logger       logging.Logger
	reconnect    *reconnectPolicy
}

func New(messages repository.MessageRepository, feed repository.ChangeFeed, opts ...Option) *Engine {
	e := &Engine{
		messages:     messages,
		feed:         feed,
		historyLimit: DefaultHistoryLimit,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a session for identity and returns at once in the
// Connecting state. Loading and subscribing happen on the session's
// consumer goroutine, which lives until Stop is called, ctx is cancelled,
// or the feed ends without a reconnect.
func (e *Engine) Start(ctx context.Context, identity domain.User, obs Observer) (*Session, error) {
	if identity.ID == "" {
		return nil, errors.New("chatsync: identity id is required")
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		engine:   e,
		identity: identity,
		obs:      obs,
		logger:   e.logger.With("user_id", identity.ID),
		ctx:      sctx,
		cancel:   cancel,
		log:      NewConversationLog(),
		state:    domain.StateConnecting,
		reported: domain.StateConnecting,
		loaded:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Session is one identity's live view of the message stream.
type Session struct {
	engine   *Engine
	identity domain.User
	obs      Observer
	logger   logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	log     *ConversationLog
	state   domain.SubscriptionState
	stopped bool
	// reported is the last state pushed to the observer.
	reported domain.SubscriptionState
	exited   bool

	loadOnce sync.Once
	loaded   chan struct{}
	done     chan struct{}
}

func (s *Session) run() {
	defer close(s.done)
	defer s.exit()
	defer s.markLoaded()

	s.obs.OnState(domain.StateConnecting, nil)

	var backoff retry.Backoff
	for {
		s.load()
		subscribed, state, err := s.follow()
		if s.ctx.Err() != nil {
			break
		}
		s.transition(state, err)

		if s.engine.reconnect == nil {
			return
		}
		if subscribed || backoff == nil {
			backoff = s.engine.reconnect.backoff()
		}
		delay, stop := backoff.Next()
		if stop {
			s.logger.Warn(s.ctx, "giving up on reconnect", "last_state", state.String())
			return
		}
		s.logger.Info(s.ctx, "reconnecting", "delay", delay, "last_state", state.String())

		t := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
		case <-t.C:
		}
		if s.ctx.Err() != nil {
			break
		}
		s.transition(domain.StateConnecting, nil)
	}

	// Stopped, either by Stop or by the parent context.
	s.halt()
}

// exit records that the consumer goroutine is done and reports Closed if
// the session was stopped and the observer hasn't heard it yet.
func (s *Session) exit() {
	s.mu.Lock()
	s.exited = true
	notify := s.stopped && s.reported != domain.StateClosed
	if notify {
		s.reported = domain.StateClosed
	}
	s.mu.Unlock()

	if notify {
		s.obs.OnState(domain.StateClosed, nil)
	}
}

func (s *Session) load() {
	batch, err := s.engine.messages.ListRecent(s.ctx, s.engine.historyLimit)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		lerr := &LoadError{Err: err}
		s.logger.Warn(s.ctx, "bulk load failed, continuing with live feed only", "error", lerr)
		s.markLoaded()
		s.obs.OnLoad(lerr)
		return
	}

	slices.SortStableFunc(batch, compareMessages)
	s.apply(func(l *ConversationLog) bool {
		return l.MergeBatch(batch) > 0
	})
	s.logger.Debug(s.ctx, "bulk load complete", "count", len(batch))
	s.markLoaded()
	s.obs.OnLoad(nil)
}

// follow subscribes to message inserts and drains the feed until it ends.
// It reports whether the subscription was ever acknowledged and the
// terminal state.
func (s *Session) follow() (bool, domain.SubscriptionState, error) {
	sub, err := s.engine.feed.Subscribe(s.ctx, domain.TableMessages)
	if err != nil {
		return false, domain.StateErrored, err
	}
	defer sub.Close()

	subscribed := false
	events := sub.Events()
	for {
		select {
		case <-s.ctx.Done():
			return subscribed, domain.StateClosed, nil
		case ev, ok := <-events:
			if !ok {
				return subscribed, domain.StateClosed, nil
			}
			if ev.IsInsert() {
				s.ingest(ev.NewRowID)
				continue
			}
			switch ev.Status {
			case domain.StateSubscribed:
				subscribed = true
				s.transition(domain.StateSubscribed, nil)
			case domain.StateClosed, domain.StateErrored:
				return subscribed, ev.Status, ev.Err
			}
		}
	}
}

// ingest re-fetches an inserted message with its author and merges it.
func (s *Session) ingest(id string) {
	msg, err := s.engine.messages.GetByID(s.ctx, id)
	if err == nil && msg == nil {
		err = errMessageMissing
	}
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		miss := &RecoverableMissError{MessageID: id, Err: err}
		s.logger.Warn(s.ctx, "dropping live insert", "message_id", id, "error", miss)
		return
	}

	s.apply(func(l *ConversationLog) bool {
		return l.Merge(*msg)
	})
}

// apply mutates the log unless the session is stopped and publishes a
// snapshot when something changed.
func (s *Session) apply(fn func(l *ConversationLog) bool) {
	s.mu.Lock()
	if s.stopped || !fn(s.log) {
		s.mu.Unlock()
		return
	}
	snapshot := s.log.Snapshot()
	s.mu.Unlock()

	// A Stop racing with this point may still see one last snapshot, but
	// never one taken after it.
	if s.isStopped() {
		return
	}
	s.obs.OnLog(snapshot)
}

func (s *Session) transition(state domain.SubscriptionState, err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.reported = state
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn(s.ctx, "subscription state changed", "state", state.String(), "error", err)
	} else {
		s.logger.Debug(s.ctx, "subscription state changed", "state", state.String())
	}
	s.obs.OnState(state, err)
}

func (s *Session) markLoaded() {
	s.loadOnce.Do(func() { close(s.loaded) })
}

// halt marks the session stopped and drops its log. It reports whether
// this call did it.
func (s *Session) halt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	s.state = domain.StateClosed
	s.log.Reset()
	return true
}

// Send stores a new message authored by the session identity. The message
// reaches the log only through the live feed echo.
func (s *Session) Send(ctx context.Context, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.isStopped() {
		return nil, ErrSessionStopped
	}

	msg := &domain.Message{AuthorID: s.identity.ID, Content: content}
	if err := s.engine.messages.Create(ctx, msg); err != nil {
		return nil, &SendError{Err: err}
	}
	return msg, nil
}

// Stop cancels in-flight work, closes the subscription and clears the log.
// No merge happens after it returns. The observer is told Closed once,
// either here when the feed had already ended or by the exiting consumer.
// Safe to call more than once and from Observer callbacks.
func (s *Session) Stop() {
	if s.halt() {
		s.logger.Info(s.ctx, "session stopped")
	}
	s.cancel()

	s.mu.Lock()
	notify := s.exited && s.reported != domain.StateClosed
	if notify {
		s.reported = domain.StateClosed
	}
	s.mu.Unlock()

	if notify {
		s.obs.OnState(domain.StateClosed, nil)
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Session) State() domain.SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() []domain.EnrichedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Snapshot()
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Len()
}

func (s *Session) Identity() domain.User {
	return s.identity
}

// Loaded is closed once the first bulk load has finished, failed or been
// cancelled.
func (s *Session) Loaded() <-chan struct{} {
	return s.loaded
}

// Done is closed when the consumer goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func compareMessages(a, b domain.EnrichedMessage) int {
	switch {
	case a.Before(b.Message):
		return -1
	case b.Before(a.Message):
		return 1
	}
	return 0
}
