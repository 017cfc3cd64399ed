package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/events/bus"
	"github.com/zeusync/pulse/internal/core/loop"
	"github.com/zeusync/pulse/internal/core/notify"
	"github.com/zeusync/pulse/internal/core/observability/log"
	"github.com/zeusync/pulse/internal/core/perf"
	"github.com/zeusync/pulse/internal/core/scheduler"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type batchRecord struct {
	channel string
	values  []float64
}

func newCore(t *testing.T, mutate func(*Config[float64])) (*Core[float64], *clock.Manual) {
	t.Helper()
	c := clock.NewManual(epoch)
	cfg := DefaultConfig[float64]()
	if mutate != nil {
		mutate(&cfg)
	}
	return New[float64](loop.Inline{}, c, cfg, nil, log.NewNop()), c
}

type recordingObserver struct {
	NopObserver
	flushes       []int
	evictions     []uint64
	renders       int
	changes       []connection.State
	notifications []int
	errs          []error
}

func (o *recordingObserver) OnFlush(items int, _ scheduler.Metrics) {
	o.flushes = append(o.flushes, items)
}
func (o *recordingObserver) OnRender(perf.Sample, bool) { o.renders++ }
func (o *recordingObserver) OnEvict(total uint64)       { o.evictions = append(o.evictions, total) }
func (o *recordingObserver) OnConnectionChange(_, to connection.State) {
	o.changes = append(o.changes, to)
}
func (o *recordingObserver) OnNotifications(n int)       { o.notifications = append(o.notifications, n) }
func (o *recordingObserver) OnSubscriberError(err error) { o.errs = append(o.errs, err) }

func TestUpdatesFlowToSubscribersGroupedByChannel(t *testing.T) {
	core, c := newCore(t, nil)
	var got []batchRecord
	_, err := core.Subscribe(bus.AllChannels, func(ch string, batch []float64) {
		got = append(got, batchRecord{ch, batch})
	})
	require.NoError(t, err)

	core.OnUpdate("cpu", 1, 1)
	core.OnUpdate("mem", 10, 5)
	core.OnUpdate("cpu", 2, 1)
	assert.Empty(t, got)

	c.Advance(time.Second)
	assert.Equal(t, []batchRecord{
		{"mem", []float64{10}},
		{"cpu", []float64{1, 2}},
	}, got)

	latest, ok := core.Latest("cpu")
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.Value)
	assert.Len(t, core.History("cpu"), 2)
	assert.Equal(t, []string{"cpu", "mem"}, core.Channels())
}

func TestChannelSubscriptionIsolated(t *testing.T) {
	core, _ := newCore(t, nil)
	var cpu [][]float64
	sub, err := core.Subscribe("cpu", func(_ string, batch []float64) { cpu = append(cpu, batch) })
	require.NoError(t, err)

	core.OnUpdate("cpu", 1)
	core.OnUpdate("mem", 2)
	core.Flush()
	require.Len(t, cpu, 1)
	assert.Equal(t, []float64{1}, cpu[0])

	require.NoError(t, sub.Cancel())
	core.OnUpdate("cpu", 3)
	core.Flush()
	assert.Len(t, cpu, 1)
}

func TestSubscribeRejectsNilCallback(t *testing.T) {
	core, _ := newCore(t, nil)
	_, err := core.Subscribe("cpu", nil)
	assert.ErrorIs(t, err, bus.ErrNilHandler)
	_, err = core.SubscribeNotifications(nil)
	assert.ErrorIs(t, err, bus.ErrNilHandler)
}

func TestPriorityFunctionAppliesToPayload(t *testing.T) {
	core, _ := newCore(t, func(cfg *Config[float64]) {
		cfg.Scheduler.PriorityFunction = func(v float64) int { return int(v) }
	})
	var got []float64
	_, _ = core.Subscribe("cpu", func(_ string, batch []float64) { got = append(got, batch...) })

	core.OnUpdate("cpu", 3)
	core.OnUpdate("cpu", 7)
	core.OnUpdate("cpu", 5)
	core.Flush()
	assert.Equal(t, []float64{7, 5, 3}, got)
}

func TestAlertPriorityAppliesImmediately(t *testing.T) {
	core, _ := newCore(t, nil)
	var got []float64
	_, _ = core.Subscribe("alerts", func(_ string, batch []float64) { got = append(got, batch...) })

	core.OnUpdate("alerts", 1, scheduler.DefaultImmediatePriority)
	assert.Equal(t, []float64{1}, got)
}

func TestSubscriberPanicDoesNotStopRendering(t *testing.T) {
	core, _ := newCore(t, nil)
	obs := &recordingObserver{}
	core.AddObserver(obs)

	_, _ = core.Subscribe("cpu", func(string, []float64) { panic("chart exploded") })
	var card []float64
	_, _ = core.Subscribe("cpu", func(_ string, batch []float64) { card = append(card, batch...) })

	core.OnUpdate("cpu", 1)
	core.Flush()

	assert.Equal(t, []float64{1}, card)
	assert.EqualValues(t, 1, core.SubscriberErrors())
	require.Len(t, obs.errs, 1)
	assert.True(t, errors.Is(obs.errs[0], bus.ErrSubscriberPanic))
}

func TestConnectionIngress(t *testing.T) {
	core, c := newCore(t, nil)
	obs := &recordingObserver{}
	core.AddObserver(obs)

	assert.Equal(t, connection.StateConnecting, core.GetConnectionStatus().State)
	core.OnConnectionChange(connection.StateConnected)

	c.Advance(time.Second)
	core.OnUpdate("cpu", 1)
	c.Advance(2 * time.Second)

	s := core.GetConnectionStatus()
	assert.Equal(t, connection.StateConnected, s.State)
	assert.Equal(t, epoch.Add(time.Second), s.LastMessageAt)

	d, ok := core.TimeSinceLastUpdate()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	core.OnConnectionError(errors.New("reset by peer"))
	assert.Equal(t, "reset by peer", core.GetConnectionStatus().LastError)
	assert.Equal(t, []connection.State{connection.StateConnected, connection.StateError}, obs.changes)
}

func TestStaleAfterThreshold(t *testing.T) {
	core, c := newCore(t, func(cfg *Config[float64]) { cfg.StaleAfter = 5 * time.Second })
	core.OnConnectionChange(connection.StateConnected)
	core.OnUpdate("cpu", 1)
	c.Advance(4 * time.Second)
	assert.False(t, core.IsStale())
	c.Advance(2 * time.Second)
	assert.True(t, core.IsStale())
}

func TestNotificationsAggregated(t *testing.T) {
	core, c := newCore(t, nil)
	obs := &recordingObserver{}
	core.AddObserver(obs)
	var got [][]notify.Event
	_, err := core.SubscribeNotifications(func(evs []notify.Event) { got = append(got, evs) })
	require.NoError(t, err)

	alert := notify.Event{Type: "alert", Title: "CPU high", Severity: notify.SeverityWarning}
	core.OnNotification(alert)
	core.OnNotification(alert)
	core.OnNotification(notify.Event{Type: "deploy", Title: "v2"})

	c.Advance(notify.DefaultWindow)
	require.Len(t, got, 1)
	require.Len(t, got[0], 2)
	assert.Equal(t, 2, got[0][0].Count)
	assert.Equal(t, []int{2}, obs.notifications)
	assert.EqualValues(t, 3, core.NotificationStats().Received)
	assert.EqualValues(t, 1, core.GetPerformanceMetrics().TotalRenders)
}

func TestNotificationFlushInsideUpdateFlushKeepsBothRenders(t *testing.T) {
	core, _ := newCore(t, func(cfg *Config[float64]) { cfg.Notifications.MaxBatchSize = 1 })
	var notes int
	_, err := core.SubscribeNotifications(func(evs []notify.Event) { notes += len(evs) })
	require.NoError(t, err)
	_, err = core.Subscribe("cpu", func(string, []float64) {
		core.OnNotification(notify.Event{Type: "alert", Title: "CPU high"})
	})
	require.NoError(t, err)

	core.OnUpdate("cpu", 0.9)
	core.Flush()

	assert.Equal(t, 1, notes)
	assert.EqualValues(t, 2, core.GetPerformanceMetrics().TotalRenders)
}

func TestObserverSeesFlushesRendersAndEvictions(t *testing.T) {
	core, c := newCore(t, func(cfg *Config[float64]) { cfg.Scheduler.QueueCapacity = 2 })
	obs := &recordingObserver{}
	core.AddObserver(obs)

	core.OnUpdate("cpu", 1, 1)
	core.OnUpdate("cpu", 2, 2)
	core.OnUpdate("cpu", 3, 3)
	c.Advance(time.Second)

	assert.Equal(t, []uint64{1}, obs.evictions)
	assert.Equal(t, []int{2}, obs.flushes)
	assert.Equal(t, 1, obs.renders)

	m := core.GetSchedulerMetrics()
	assert.EqualValues(t, 1, m.Evicted)
	assert.Zero(t, m.QueueLength)
}

func TestSlowRendersRaiseThrottleDelay(t *testing.T) {
	core, c := newCore(t, func(cfg *Config[float64]) { cfg.Performance.Window = 1 })
	initial := core.GetSchedulerMetrics().CurrentThrottleDelay
	_, _ = core.Subscribe("cpu", func(string, []float64) { c.Advance(40 * time.Millisecond) })

	for i := 0; i < 3; i++ {
		core.OnUpdate("cpu", float64(i))
		core.Flush()
	}
	assert.Greater(t, core.GetSchedulerMetrics().CurrentThrottleDelay, initial)
	assert.EqualValues(t, 3, core.GetPerformanceMetrics().DroppedFrames)
}

func TestResetTwiceMatchesOnce(t *testing.T) {
	core, c := newCore(t, nil)
	core.OnUpdate("cpu", 1)
	core.OnNotification(notify.Event{Type: "t"})

	core.Reset()
	once := core.GetSchedulerMetrics()
	core.Reset()
	twice := core.GetSchedulerMetrics()

	assert.Equal(t, once, twice)
	assert.Zero(t, twice.QueueLength)
	assert.Equal(t, 0, c.Pending())
	assert.Empty(t, core.Channels())
}

func TestCloseIgnoresLaterTransitions(t *testing.T) {
	core, _ := newCore(t, nil)
	core.OnConnectionChange(connection.StateConnected)
	core.Close()
	core.OnConnectionChange(connection.StateDisconnected)
	assert.Equal(t, connection.StateConnected, core.GetConnectionStatus().State)
}

func TestStatusDocument(t *testing.T) {
	core, c := newCore(t, nil)
	core.OnConnectionChange(connection.StateConnected)
	core.OnUpdate("cpu", 1)
	c.Advance(time.Second)

	s := core.Status()
	assert.Equal(t, connection.StateConnected, s.Connection.State)
	require.NotNil(t, s.TimeSinceLastUpdateMs)
	assert.InDelta(t, 1000.0, *s.TimeSinceLastUpdateMs, 0.001)
	assert.EqualValues(t, 1, s.Scheduler.Flushes)
	assert.Equal(t, []string{"cpu"}, s.Channels)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"connected"`)
	assert.Contains(t, string(raw), `"queueLength":0`)
}

type deliveryRecord struct {
	channel  string
	size     int
	handlers int
	failed   bool
}

type recordingBusObserver struct {
	published []deliveryRecord
	delivered []deliveryRecord
}

func (o *recordingBusObserver) OnPublish(channel string, size int) {
	o.published = append(o.published, deliveryRecord{channel: channel, size: size})
}

func (o *recordingBusObserver) OnDelivered(channel string, handlers int, err error, _ int64) {
	o.delivered = append(o.delivered, deliveryRecord{channel: channel, handlers: handlers, failed: err != nil})
}

func TestBusObserverSeesBothBuses(t *testing.T) {
	core, c := newCore(t, nil)
	obs := &recordingBusObserver{}
	core.AddBusObserver(obs)

	sub, err := core.Subscribe("cpu", func(string, []float64) {})
	require.NoError(t, err)
	_, err = core.SubscribeNotifications(func([]notify.Event) { panic("boom") })
	require.NoError(t, err)

	core.OnUpdate("cpu", 1)
	core.OnUpdate("cpu", 2)
	core.OnNotification(notify.Event{Type: "deploy", Title: "v2"})
	c.Advance(time.Second)

	assert.Equal(t, []deliveryRecord{
		{channel: "cpu", size: 2},
		{channel: NotificationsChannel, size: 1},
	}, obs.published)
	assert.Equal(t, []deliveryRecord{
		{channel: "cpu", handlers: 1},
		{channel: NotificationsChannel, handlers: 1, failed: true},
	}, obs.delivered)

	s := core.Status()
	assert.Equal(t, []bus.ChannelInfo{{Name: "cpu", Subs: 1}, {Name: NotificationsChannel, Subs: 1}}, s.Subscribers)
	assert.Equal(t, DeliveryStatus{Published: 2, DeliveredHandlers: 2, Errors: 1}, s.Delivery)

	require.NoError(t, core.Unsubscribe(sub))
	assert.False(t, sub.IsActive())
	core.RemoveBusObserver(obs)
	core.OnUpdate("cpu", 3)
	c.Advance(time.Second)
	assert.Len(t, obs.published, 2)
	assert.Equal(t, []bus.ChannelInfo{{Name: NotificationsChannel, Subs: 1}}, core.Status().Subscribers)
}

func TestCoreOnRunningLoop(t *testing.T) {
	l := loop.New(64, log.NewNop())
	ctx, cancel := contextWithCancel(t)
	go func() { _ = l.Run(ctx) }()

	core := New[float64](l, clock.Real{}, DefaultConfig[float64](), nil, log.NewNop())
	got := make(chan []float64, 1)
	_, err := core.Subscribe("cpu", func(_ string, batch []float64) { got <- batch })
	require.NoError(t, err)

	core.OnUpdate("cpu", 42)
	select {
	case batch := <-got:
		assert.Equal(t, []float64{42}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("batch not delivered")
	}
	cancel()
	<-l.Done()
}

func contextWithCancel(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}
