package domain

// SubscriptionState is the lifecycle of a live change-feed subscription.
type SubscriptionState int

const (
	StateIdle SubscriptionState = iota
	StateConnecting
	StateSubscribed
	StateClosed
	StateErrored
)

func (s SubscriptionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow this state.
func (s SubscriptionState) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Table names known to the change feed.
const TableMessages = "messages"

// ChangeEvent is one item of a live feed: either a row insert or a
// lifecycle notification. Both kinds travel on the same channel so their
// relative order is preserved.
type ChangeEvent struct {
	// NewRowID is set for inserts.
	NewRowID string
	// Status is set for lifecycle notifications (Subscribed, Closed, Errored).
	Status SubscriptionState
	// Err explains an Errored status.
	Err error
}

// IsInsert reports whether the event announces a new row.
func (e ChangeEvent) IsInsert() bool {
	return e.NewRowID != ""
}

func InsertEvent(id string) ChangeEvent {
	return ChangeEvent{NewRowID: id}
}

func StatusEvent(s SubscriptionState, err error) ChangeEvent {
	return ChangeEvent{Status: s, Err: err}
}
