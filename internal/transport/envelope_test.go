package transport

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/notify"
)

type update struct {
	channel  string
	payload  string
	priority []int
}

// recorder is a Sink that remembers every call.
type recorder struct {
	mu      sync.Mutex
	updates []update
	notes   []notify.Event
	states  []connection.State
	errs    []error
	onState func(connection.State)
}

func (r *recorder) OnUpdate(channel string, payload json.RawMessage, priority ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update{channel: channel, payload: string(payload), priority: priority})
}

func (r *recorder) OnConnectionChange(state connection.State) {
	r.mu.Lock()
	r.states = append(r.states, state)
	hook := r.onState
	r.mu.Unlock()
	if hook != nil {
		hook(state)
	}
}

func (r *recorder) OnConnectionError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.states = append(r.states, connection.StateError)
}

func (r *recorder) OnNotification(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, ev)
}

func (r *recorder) snapshot() (u []update, n []notify.Event, s []connection.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]update(nil), r.updates...), append([]notify.Event(nil), r.notes...), append([]connection.State(nil), r.states...)
}

func TestDecodeUpdate(t *testing.T) {
	env, err := Decode([]byte(`{"kind":"update","channel":"cpu","priority":3,"payload":{"v":0.5}}`))
	require.NoError(t, err)
	assert.Equal(t, KindUpdate, env.Kind)
	assert.Equal(t, "cpu", env.Channel)
	require.NotNil(t, env.Priority)
	assert.Equal(t, 3, *env.Priority)
	assert.JSONEq(t, `{"v":0.5}`, string(env.Payload))
}

func TestDecodeNotification(t *testing.T) {
	env, err := Decode([]byte(`{"kind":"notification","notification":{"type":"order","severity":"warning","title":"Late","message":"order 7"}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Notification)
	assert.Equal(t, notify.SeverityWarning, env.Notification.Severity)
	assert.Equal(t, "Late", env.Notification.Title)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"kind":`,
		"unknown kind":      `{"kind":"ping"}`,
		"update no channel": `{"kind":"update","payload":1}`,
		"empty note":        `{"kind":"notification"}`,
		"bad severity":      `{"kind":"notification","notification":{"severity":"loud"}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDispatch(t *testing.T) {
	r := &recorder{}
	p := 9

	Dispatch(r, Envelope{Kind: KindUpdate, Channel: "a", Payload: json.RawMessage(`1`)})
	Dispatch(r, Envelope{Kind: KindUpdate, Channel: "b", Priority: &p, Payload: json.RawMessage(`2`)})
	Dispatch(r, Envelope{Kind: KindNotification, Notification: &notify.Event{Title: "x"}})

	updates, notes, _ := r.snapshot()
	require.Len(t, updates, 2)
	assert.Equal(t, update{channel: "a", payload: "1"}, updates[0])
	assert.Equal(t, update{channel: "b", payload: "2", priority: []int{9}}, updates[1])
	require.Len(t, notes, 1)
	assert.Equal(t, "x", notes[0].Title)
}
