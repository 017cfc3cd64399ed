package connection

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/observability/log"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestInitialStateIsConnecting(t *testing.T) {
	tr := NewTracker(clock.NewManual(epoch), log.NewNop())
	s := tr.Status()
	assert.Equal(t, StateConnecting, s.State)
	assert.True(t, s.LastMessageAt.IsZero())
	assert.Equal(t, epoch, s.Since)

	_, ok := tr.TimeSinceLastUpdate()
	assert.False(t, ok)
}

func TestLifecycle(t *testing.T) {
	c := clock.NewManual(epoch)
	tr := NewTracker(c, log.NewNop())

	require.True(t, tr.OnOpen())
	assert.Equal(t, StateConnected, tr.State())

	c.Advance(time.Second)
	require.True(t, tr.OnClose())
	assert.Equal(t, StateDisconnected, tr.State())
	assert.Equal(t, epoch.Add(time.Second), tr.Status().Since)

	require.True(t, tr.OnReconnecting())
	require.True(t, tr.OnOpen())
	assert.EqualValues(t, 4, tr.Transitions())
}

func TestErrorReachableFromAnyState(t *testing.T) {
	boom := errors.New("handshake failed")
	for _, from := range []State{StateConnecting, StateConnected, StateDisconnected} {
		assert.True(t, CanTransition(from, StateError), from.String())
	}

	tr := NewTracker(clock.NewManual(epoch), log.NewNop())
	require.True(t, tr.OnError(boom))
	assert.Equal(t, StateError, tr.State())
	assert.Equal(t, "handshake failed", tr.Status().LastError)

	require.True(t, tr.OnOpen())
	assert.Empty(t, tr.Status().LastError)
}

func TestIllegalTransitionsIgnored(t *testing.T) {
	tr := NewTracker(clock.NewManual(epoch), log.NewNop())
	tr.OnOpen()

	assert.False(t, tr.OnReconnecting())
	assert.False(t, tr.OnOpen())
	assert.Equal(t, StateConnected, tr.State())
	assert.EqualValues(t, 1, tr.Transitions())
}

func TestOnMessageKeepsState(t *testing.T) {
	c := clock.NewManual(epoch)
	tr := NewTracker(c, log.NewNop())
	tr.OnOpen()

	c.Advance(2 * time.Second)
	tr.OnMessage()
	assert.Equal(t, StateConnected, tr.State())
	assert.Equal(t, epoch.Add(2*time.Second), tr.Status().LastMessageAt)

	c.Advance(1500 * time.Millisecond)
	d, ok := tr.TimeSinceLastUpdate()
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	c.Advance(time.Second)
	d, _ = tr.TimeSinceLastUpdate()
	assert.Equal(t, 2500*time.Millisecond, d)
	assert.EqualValues(t, 1, tr.Messages())
}

func TestIsStale(t *testing.T) {
	c := clock.NewManual(epoch)
	tr := NewTracker(c, log.NewNop())

	c.Advance(5 * time.Second)
	assert.False(t, tr.IsStale(10*time.Second))
	c.Advance(6 * time.Second)
	assert.True(t, tr.IsStale(10*time.Second))

	tr.OnMessage()
	assert.False(t, tr.IsStale(10*time.Second))
	c.Advance(10*time.Second + time.Millisecond)
	assert.True(t, tr.IsStale(10*time.Second))
}

func TestListenersAndClose(t *testing.T) {
	tr := NewTracker(clock.NewManual(epoch), log.NewNop())
	type change struct{ from, to State }
	var got []change
	tr.AddListener(func(from, to State, s Status) {
		assert.Equal(t, to, s.State)
		got = append(got, change{from, to})
	})

	tr.OnOpen()
	tr.OnClose()
	tr.Close()
	tr.OnReconnecting()
	tr.OnMessage()

	assert.Equal(t, []change{
		{StateConnecting, StateConnected},
		{StateConnected, StateDisconnected},
	}, got)
	assert.Equal(t, StateDisconnected, tr.State())
	assert.Zero(t, tr.Messages())
}

func TestStatusJSON(t *testing.T) {
	tr := NewTracker(clock.NewManual(epoch), log.NewNop())
	tr.OnOpen()

	raw, err := json.Marshal(tr.Status())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"connected","since":"2024-01-01T00:00:00Z"}`, string(raw))
}
