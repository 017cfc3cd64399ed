// Package connection keeps a finite-state view of the live transport.
// Transitions are driven only by transport callbacks; everything else reads.
package connection

import (
	"time"

	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/observability/log"
)

type State uint8

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// allowed lists the legal successors of each state. Error is reachable from
// everywhere; connecting is re-entered only after the link went down.
var allowed = map[State][]State{
	StateConnecting:   {StateConnected, StateDisconnected, StateError},
	StateConnected:    {StateDisconnected, StateError},
	StateDisconnected: {StateConnecting, StateConnected, StateError},
	StateError:        {StateConnecting, StateConnected, StateDisconnected},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is a read-only snapshot. LastMessageAt is zero until the first
// message arrived.
type Status struct {
	State         State     `json:"status"`
	LastMessageAt time.Time `json:"lastMessageAt,omitzero"`
	Since         time.Time `json:"since"`
	LastError     string    `json:"lastError,omitempty"`
}

// Listener is called after every accepted transition.
type Listener func(from, to State, status Status)

// Tracker is not safe for concurrent use; transport callbacks are posted to
// the same executor that reads it.
type Tracker struct {
	clock  clock.Clock
	logger log.Log

	state         State
	since         time.Time
	created       time.Time
	lastMessageAt time.Time
	lastErr       error
	messages      uint64
	transitions   uint64

	listeners []Listener
	closed    bool
}

// NewTracker returns a tracker in the connecting state.
func NewTracker(clk clock.Clock, logger log.Log) *Tracker {
	if logger == nil {
		logger = log.NewNop()
	}
	now := clk.Now()
	return &Tracker{
		clock:   clk,
		logger:  logger.With(log.String("component", "connection")),
		state:   StateConnecting,
		since:   now,
		created: now,
	}
}

func (t *Tracker) OnOpen() bool {
	return t.Transition(StateConnected, nil)
}

func (t *Tracker) OnClose() bool {
	return t.Transition(StateDisconnected, nil)
}

func (t *Tracker) OnError(err error) bool {
	return t.Transition(StateError, err)
}

// OnReconnecting marks a new dial attempt after the link went down.
func (t *Tracker) OnReconnecting() bool {
	return t.Transition(StateConnecting, nil)
}

// OnMessage records message arrival without changing state.
func (t *Tracker) OnMessage() {
	if t.closed {
		return
	}
	t.lastMessageAt = t.clock.Now()
	t.messages++
}

// Transition moves to the given state. Illegal transitions, repeats of the
// current state and anything after Close are ignored and reported as false.
func (t *Tracker) Transition(to State, err error) bool {
	if t.closed {
		return false
	}
	from := t.state
	if from == to {
		if to == StateError && err != nil {
			t.lastErr = err
		}
		return false
	}
	if !CanTransition(from, to) {
		t.logger.Debug("Ignored connection transition",
			log.String("from", from.String()),
			log.String("to", to.String()),
		)
		return false
	}

	t.state = to
	t.since = t.clock.Now()
	t.transitions++
	if to == StateError {
		t.lastErr = err
	} else if to == StateConnected {
		t.lastErr = nil
	}

	fields := []log.Field{log.String("from", from.String()), log.String("to", to.String())}
	if err != nil {
		fields = append(fields, log.Error(err))
	}
	t.logger.Info("Connection state changed", fields...)

	status := t.Status()
	for _, l := range t.listeners {
		l(from, to, status)
	}
	return true
}

func (t *Tracker) State() State {
	return t.state
}

// Status returns the current snapshot.
func (t *Tracker) Status() Status {
	s := Status{State: t.state, LastMessageAt: t.lastMessageAt, Since: t.since}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}

// TimeSinceLastUpdate is computed on every read. ok is false until the first
// message arrived.
func (t *Tracker) TimeSinceLastUpdate() (d time.Duration, ok bool) {
	if t.lastMessageAt.IsZero() {
		return 0, false
	}
	return t.clock.Now().Sub(t.lastMessageAt), true
}

// IsStale reports whether no message arrived within threshold. Before the
// first message the tracker's creation time is the reference.
func (t *Tracker) IsStale(threshold time.Duration) bool {
	ref := t.lastMessageAt
	if ref.IsZero() {
		ref = t.created
	}
	return t.clock.Now().Sub(ref) > threshold
}

// Messages returns how many messages were recorded.
func (t *Tracker) Messages() uint64 {
	return t.messages
}

// Transitions returns how many transitions were accepted.
func (t *Tracker) Transitions() uint64 {
	return t.transitions
}

// AddListener registers l for future transitions.
func (t *Tracker) AddListener(l Listener) {
	if l == nil || t.closed {
		return
	}
	t.listeners = append(t.listeners, l)
}

// Close tears the tracker down: listeners are dropped and later transport
// callbacks are ignored.
func (t *Tracker) Close() {
	t.closed = true
	t.listeners = nil
}
