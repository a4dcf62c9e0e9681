package chatsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/chatspace/internal/domain"
	"github.com/vedran77/chatspace/internal/repository"
)

const waitFor = 2 * time.Second

// fakeMessages is an in-memory MessageRepository.
type fakeMessages struct {
	repository.MessageRepository

	mu        sync.Mutex
	recent    []domain.EnrichedMessage
	listErr   error
	listCalls int
	byID      map[string]domain.EnrichedMessage
	getErr    map[string]error
	created   []domain.Message
	createErr error

	// when set, GetByID signals on getStarted and blocks until ctx is done
	blockGet   bool
	getStarted chan string
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byID:       map[string]domain.EnrichedMessage{},
		getErr:     map[string]error{},
		getStarted: make(chan string, 8),
	}
}

func (f *fakeMessages) put(msgs ...domain.EnrichedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.byID[m.ID] = m
	}
}

func (f *fakeMessages) ListRecent(ctx context.Context, limit int) ([]domain.EnrichedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]domain.EnrichedMessage(nil), f.recent...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) GetByID(ctx context.Context, id string) (*domain.EnrichedMessage, error) {
	f.mu.Lock()
	block := f.blockGet
	f.mu.Unlock()
	if block {
		f.getStarted <- id
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	m, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeMessages) Create(ctx context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	msg.ID = "new-id"
	msg.CreatedAt = t0
	f.created = append(f.created, *msg)
	return nil
}

func (f *fakeMessages) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeMessages) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// fakeFeed hands every subscription to the test through streams.
type fakeFeed struct {
	err     error
	streams chan *repository.Stream
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{streams: make(chan *repository.Stream, 8)}
}

func (f *fakeFeed) Subscribe(ctx context.Context, table string) (repository.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := repository.NewStream(ctx, 0)
	go func() {
		<-s.Context().Done()
		s.Finish(nil)
	}()
	f.streams <- s
	return s, nil
}

func (f *fakeFeed) next(t *testing.T) *repository.Stream {
	t.Helper()
	select {
	case s := <-f.streams:
		return s
	case <-time.After(waitFor):
		t.Fatal("no subscription opened")
		return nil
	}
}

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu     sync.Mutex
	states []domain.SubscriptionState
	errs   []error
	loads  []error
	logs   [][]domain.EnrichedMessage
}

func (r *recorder) OnState(s domain.SubscriptionState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	r.errs = append(r.errs, err)
}

func (r *recorder) OnLoad(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, err)
}

func (r *recorder) OnLog(snapshot []domain.EnrichedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, snapshot)
}

func (r *recorder) stateHistory() []domain.SubscriptionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SubscriptionState(nil), r.states...)
}

func (r *recorder) lastState() (domain.SubscriptionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return domain.StateIdle, nil
	}
	return r.states[len(r.states)-1], r.errs[len(r.errs)-1]
}

func (r *recorder) logCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

func (r *recorder) loadResults() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.loads...)
}

func waitState(t *testing.T, r *recorder, want domain.SubscriptionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, _ := r.lastState()
		return s == want
	}, waitFor, 5*time.Millisecond, "state never became %s", want)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session goroutine did not exit")
	}
}

var ana = domain.User{ID: "u1", DisplayID: "123456", Name: "Ana", Email: "ana@example.com"}

func startSession(t *testing.T, msgs *fakeMessages, feed *fakeFeed, opts ...Option) (*Session, *recorder, *repository.Stream) {
	t.Helper()
	rec := &recorder{}
	s, err := New(msgs, feed, opts...).Start(context.Background(), ana, rec)
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	stream := feed.next(t)
	stream.Send(domain.StatusEvent(domain.StateSubscribed, nil))
	waitState(t, rec, domain.StateSubscribed)
	return s, rec, stream
}

func TestStart_RequiresIdentity(t *testing.T) {
	_, err := New(newFakeMessages(), newFakeFeed()).Start(context.Background(), domain.User{}, nil)
	require.Error(t, err)
}

func TestSession_LoadsHistoryThenFollowsLiveInserts(t *testing.T) {
	msgs := newFakeMessages()
	// the store may return ties in any order; the log sorts them by id
	msgs.recent = []domain.EnrichedMessage{
		enriched("m2", "u2", t0),
		enriched("m1", "u1", t0),
		enriched("m0", "u1", t0.Add(-time.Minute)),
	}
	msgs.put(enriched("m3", "u1", t0.Add(time.Minute)))
	feed := newFakeFeed()

	s, rec, stream := startSession(t, msgs, feed)
	assert.Equal(t, []string{"m0", "m1", "m2"}, ids(s.Snapshot()))
	assert.Equal(t, []domain.SubscriptionState{domain.StateConnecting, domain.StateSubscribed}, rec.stateHistory())
	assert.Equal(t, []error{nil}, rec.loadResults())

	stream.Send(domain.InsertEvent("m3"))
	require.Eventually(t, func() bool { return s.Len() == 4 }, waitFor, 5*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, ids(snap))
	assertOrdered(t, snap)
	assert.Equal(t, "u1", snap[3].Author.Name)
}

func TestSession_HistoryLimit(t *testing.T) {
	msgs := newFakeMessages()
	for i, id := range []string{"a", "b", "c"} {
		msgs.recent = append(msgs.recent, enriched(id, "u1", t0.Add(time.Duration(i)*time.Second)))
	}

	s, _, _ := startSession(t, msgs, newFakeFeed(), WithHistoryLimit(2))
	assert.Equal(t, []string{"b", "c"}, ids(s.Snapshot()))
}

func TestSession_DuplicateDeliveryMergesOnce(t *testing.T) {
	msgs := newFakeMessages()
	msgs.put(enriched("m1", "u1", t0), enriched("m2", "u1", t0.Add(time.Second)))

	s, rec, stream := startSession(t, msgs, newFakeFeed())
	stream.Send(domain.InsertEvent("m1"))
	stream.Send(domain.InsertEvent("m1"))
	stream.Send(domain.InsertEvent("m2"))

	// one notification per actual change
	require.Eventually(t, func() bool { return rec.logCount() == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Snapshot()))
}

func TestSession_LoadErrorIsNotFatal(t *testing.T) {
	msgs := newFakeMessages()
	msgs.listErr = errors.New("store unavailable")
	msgs.put(enriched("m1", "u1", t0))

	s, rec, stream := startSession(t, msgs, newFakeFeed())

	loads := rec.loadResults()
	require.Len(t, loads, 1)
	var lerr *LoadError
	require.ErrorAs(t, loads[0], &lerr)
	assert.EqualError(t, lerr.Err, "store unavailable")
	assert.Equal(t, 0, s.Len())

	stream.Send(domain.InsertEvent("m1"))
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, domain.StateSubscribed, s.State())
}

func TestSession_RefetchMissDropsOnlyThatEvent(t *testing.T) {
	msgs := newFakeMessages()
	msgs.getErr["broken"] = errors.New("timeout")
	msgs.put(enriched("m1", "u1", t0))

	s, _, stream := startSession(t, msgs, newFakeFeed())
	stream.Send(domain.InsertEvent("broken"))
	stream.Send(domain.InsertEvent("gone"))
	stream.Send(domain.InsertEvent("m1"))

	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, ids(s.Snapshot()))
	assert.Equal(t, domain.StateSubscribed, s.State())
}

func TestSession_SendRejectsEmptyContent(t *testing.T) {
	msgs := newFakeMessages()
	s, rec, _ := startSession(t, msgs, newFakeFeed())
	logsBefore := rec.logCount()

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := s.Send(context.Background(), content)
		require.ErrorIs(t, err, ErrEmptyContent)
	}
	assert.Equal(t, 0, msgs.createdCount())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, logsBefore, rec.logCount())
}

func TestSession_SendDoesNotAppendLocally(t *testing.T) {
	msgs := newFakeMessages()
	s, _, stream := startSession(t, msgs, newFakeFeed())

	msg, err := s.Send(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, ana.ID, msg.AuthorID)
	assert.Equal(t, "new-id", msg.ID)
	assert.Equal(t, 0, s.Len())

	// the echo is what lands in the log
	msgs.put(domain.EnrichedMessage{Message: *msg, Author: ana})
	stream.Send(domain.InsertEvent(msg.ID))
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "hello", s.Snapshot()[0].Content)
}

func TestSession_SendError(t *testing.T) {
	msgs := newFakeMessages()
	msgs.createErr = errors.New("permission denied")
	s, _, _ := startSession(t, msgs, newFakeFeed())

	_, err := s.Send(context.Background(), "hi")
	var serr *SendError
	require.ErrorAs(t, err, &serr)
	assert.EqualError(t, serr.Err, "permission denied")
	assert.Equal(t, 0, s.Len())
}

func TestSession_StopIsIdempotentAndClears(t *testing.T) {
	msgs := newFakeMessages()
	msgs.recent = []domain.EnrichedMessage{enriched("m1", "u1", t0)}
	s, rec, _ := startSession(t, msgs, newFakeFeed())
	require.Equal(t, 1, s.Len())

	s.Stop()
	s.Stop()
	waitDone(t, s)

	assert.Equal(t, domain.StateClosed, s.State())
	assert.Equal(t, 0, s.Len())
	last, err := rec.lastState()
	assert.Equal(t, domain.StateClosed, last)
	assert.NoError(t, err)

	_, err = s.Send(context.Background(), "too late")
	require.ErrorIs(t, err, ErrSessionStopped)
	assert.Equal(t, 0, msgs.createdCount())
}

func TestSession_StopCancelsInFlightRefetch(t *testing.T) {
	msgs := newFakeMessages()
	msgs.blockGet = true
	s, rec, stream := startSession(t, msgs, newFakeFeed())
	logsBefore := rec.logCount()

	stream.Send(domain.InsertEvent("m1"))
	select {
	case <-msgs.getStarted:
	case <-time.After(waitFor):
		t.Fatal("re-fetch never started")
	}

	s.Stop()
	waitDone(t, s)

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, logsBefore, rec.logCount())
}

func TestSession_StopDuringLoadStillReleasesLoaded(t *testing.T) {
	msgs := newFakeMessages()
	feed := newFakeFeed()
	s, err := New(msgs, feed).Start(context.Background(), ana, nil)
	require.NoError(t, err)

	s.Stop()
	waitDone(t, s)
	select {
	case <-s.Loaded():
	default:
		t.Fatal("Loaded not closed after stop")
	}
	assert.Equal(t, domain.StateClosed, s.State())
}

func TestSession_TransportClosedIsTerminal(t *testing.T) {
	s, rec, stream := startSession(t, newFakeMessages(), newFakeFeed())

	stream.Finish(nil)
	waitDone(t, s)

	assert.Equal(t, domain.StateClosed, s.State())
	assert.Equal(t, []domain.SubscriptionState{
		domain.StateConnecting, domain.StateSubscribed, domain.StateClosed,
	}, rec.stateHistory())
}

func TestSession_ProtocolErrorIsErrored(t *testing.T) {
	s, rec, stream := startSession(t, newFakeMessages(), newFakeFeed())

	stream.Finish(errors.New("unauthorized"))
	waitDone(t, s)

	assert.Equal(t, domain.StateErrored, s.State())
	last, err := rec.lastState()
	assert.Equal(t, domain.StateErrored, last)
	assert.EqualError(t, err, "unauthorized")
}

func TestSession_StopAfterFeedEndedReportsClosed(t *testing.T) {
	s, rec, stream := startSession(t, newFakeMessages(), newFakeFeed())

	stream.Finish(errors.New("unauthorized"))
	waitDone(t, s)
	s.Stop()
	s.Stop()

	assert.Equal(t, domain.StateClosed, s.State())
	assert.Equal(t, []domain.SubscriptionState{
		domain.StateConnecting, domain.StateSubscribed, domain.StateErrored, domain.StateClosed,
	}, rec.stateHistory())
}

func TestSession_NoSnapshotAfterStop(t *testing.T) {
	msgs := newFakeMessages()
	msgs.put(enriched("m1", "u1", t0))
	s, rec, stream := startSession(t, msgs, newFakeFeed())

	s.Stop()
	waitDone(t, s)
	before := rec.logCount()

	stream.Send(domain.InsertEvent("m1"))
	assert.Equal(t, before, rec.logCount())
	assert.Equal(t, 0, s.Len())
}

func TestSession_SubscribeFailureIsErrored(t *testing.T) {
	feed := newFakeFeed()
	feed.err = errors.New("dial refused")
	rec := &recorder{}

	s, err := New(newFakeMessages(), feed).Start(context.Background(), ana, rec)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	waitDone(t, s)

	assert.Equal(t, domain.StateErrored, s.State())
}

func TestSession_ParentContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	feed := newFakeFeed()
	rec := &recorder{}
	s, err := New(newFakeMessages(), feed).Start(ctx, ana, rec)
	require.NoError(t, err)
	feed.next(t)

	cancel()
	waitDone(t, s)

	_, err = s.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrSessionStopped)
	waitState(t, rec, domain.StateClosed)
}

func TestSession_ReconnectReloadsAndResubscribes(t *testing.T) {
	msgs := newFakeMessages()
	msgs.recent = []domain.EnrichedMessage{enriched("m1", "u1", t0)}
	feed := newFakeFeed()

	s, rec, first := startSession(t, msgs, feed, WithReconnect(time.Millisecond, 5*time.Millisecond, 3))

	// a message written while disconnected shows up through the reload
	msgs.mu.Lock()
	msgs.recent = append(msgs.recent, enriched("m2", "u2", t0.Add(time.Second)))
	msgs.mu.Unlock()

	first.Finish(errors.New("connection reset"))
	second := feed.next(t)
	second.Send(domain.StatusEvent(domain.StateSubscribed, nil))

	require.Eventually(t, func() bool { return s.Len() == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 2, msgs.listCount())
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Snapshot()))
	waitState(t, rec, domain.StateSubscribed)
	assert.Equal(t, []domain.SubscriptionState{
		domain.StateConnecting, domain.StateSubscribed,
		domain.StateErrored, domain.StateConnecting, domain.StateSubscribed,
	}, rec.stateHistory())
}

func TestSession_ReconnectGivesUp(t *testing.T) {
	feed := newFakeFeed()
	s, _, first := startSession(t, newFakeMessages(), feed, WithReconnect(time.Millisecond, time.Millisecond, 2))

	first.Finish(errors.New("down"))
	feed.next(t).Finish(errors.New("down"))
	feed.next(t).Finish(errors.New("down"))
	waitDone(t, s)

	assert.Equal(t, domain.StateErrored, s.State())
}
