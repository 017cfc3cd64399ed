// Package dashboard is the facade between a transport adapter and the render
// layer. Ingress callbacks feed the connection tracker, the update scheduler
// and the notification aggregator; flushed batches are stored per channel and
// fanned out to subscribers.
package dashboard

import (
	"time"

	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/events/bus"
	"github.com/zeusync/pulse/internal/core/loop"
	"github.com/zeusync/pulse/internal/core/notify"
	"github.com/zeusync/pulse/internal/core/observability/log"
	"github.com/zeusync/pulse/internal/core/perf"
	"github.com/zeusync/pulse/internal/core/scheduler"
	"github.com/zeusync/pulse/internal/core/store"
	"github.com/zeusync/pulse/pkg/sequence"
)

const (
	DefaultStaleAfter = 10 * time.Second
	// NotificationsChannel is the bus channel notification batches go out on.
	NotificationsChannel = "notifications"
)

// Update is one scheduled ingress item.
type Update[T any] struct {
	Channel string
	Payload T
}

// Config assembles the tunables of every owned component.
type Config[T any] struct {
	Scheduler     scheduler.Config[T]
	Performance   perf.Config
	Notifications notify.Config
	History       int
	StaleAfter    time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig[T any]() Config[T] {
	return Config[T]{
		Scheduler:     scheduler.DefaultConfig[T](),
		Notifications: notify.Config{Window: notify.DefaultWindow, MaxBatchSize: notify.DefaultMaxBatchSize},
		History:       store.DefaultHistory,
		StaleAfter:    DefaultStaleAfter,
	}
}

// Core owns the scheduling components. Every mutation runs on exec; the
// ingress and egress methods may be called from any goroutine.
type Core[T any] struct {
	exec   loop.Executor
	clock  clock.Clock
	logger log.Log
	config Config[T]

	tracker   *connection.Tracker
	monitor   *perf.Monitor
	scheduler *scheduler.Scheduler[Update[T]]
	notes     *notify.Aggregator
	store     *store.Store[T]

	updates       bus.Bus[T]
	notifications bus.Bus[notify.Event]

	observers        []Observer
	subscriberErrors uint64
}

// New wires a core. base is the time source; its timer callbacks are posted
// to exec. sampler may be nil.
func New[T any](exec loop.Executor, base clock.Clock, config Config[T], sampler perf.MemorySampler, logger log.Log) *Core[T] {
	if logger == nil {
		logger = log.NewNop()
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	clk := loop.Bind(base, exec)

	c := &Core[T]{
		exec:          exec,
		clock:         clk,
		logger:        logger.With(log.String("component", "dashboard")),
		config:        config,
		store:         store.New[T](config.History),
		updates:       bus.New[T](),
		notifications: bus.New[notify.Event](),
	}

	c.tracker = connection.NewTracker(clk, logger)
	c.tracker.AddListener(func(from, to connection.State, _ connection.Status) {
		for _, o := range c.observers {
			o.OnConnectionChange(from, to)
		}
	})

	perfConfig := config.Performance
	if perfConfig.RenderBudget <= 0 {
		perfConfig.RenderBudget = config.Scheduler.RenderBudget
	}
	userOnSample := perfConfig.OnSample
	perfConfig.OnSample = func(s perf.Sample, dropped bool) {
		if userOnSample != nil {
			userOnSample(s, dropped)
		}
		for _, o := range c.observers {
			o.OnRender(s, dropped)
		}
	}
	c.monitor = perf.NewMonitor(clk, perfConfig, sampler, logger)

	c.scheduler = scheduler.New(clk, c.schedulerConfig(config.Scheduler), c.monitor, c.applyBatch, logger)
	c.notes = notify.NewAggregator(clk, config.Notifications, c.applyNotifications, logger)
	return c
}

// schedulerConfig lifts the payload-level config to scheduled updates.
func (c *Core[T]) schedulerConfig(in scheduler.Config[T]) scheduler.Config[Update[T]] {
	out := scheduler.Config[Update[T]]{
		MaxFrequencyHz:     in.MaxFrequencyHz,
		BatchSize:          in.BatchSize,
		QueueCapacity:      in.QueueCapacity,
		AdaptiveThrottling: in.AdaptiveThrottling,
		RenderBudget:       in.RenderBudget,
		MaxDelay:           in.MaxDelay,
		ImmediatePriority:  in.ImmediatePriority,
		BackoffFactor:      in.BackoffFactor,
		RecoveryFactor:     in.RecoveryFactor,
		OnFlush: func(items int, m scheduler.Metrics) {
			if in.OnFlush != nil {
				in.OnFlush(items, m)
			}
			for _, o := range c.observers {
				o.OnFlush(items, m)
			}
		},
		OnEvict: func(total uint64) {
			if in.OnEvict != nil {
				in.OnEvict(total)
			}
			for _, o := range c.observers {
				o.OnEvict(total)
			}
		},
	}
	if in.PriorityFunction != nil {
		fn := in.PriorityFunction
		out.PriorityFunction = func(u Update[T]) int { return fn(u.Payload) }
	}
	return out
}

// OnUpdate is the ingress for channel data. An explicit priority overrides
// the configured priority function.
func (c *Core[T]) OnUpdate(channel string, payload T, priority ...int) {
	c.post(func() {
		c.tracker.OnMessage()
		c.scheduler.ScheduleUpdate(Update[T]{Channel: channel, Payload: payload}, priority...)
	})
}

// OnConnectionChange is the ingress for transport state changes.
func (c *Core[T]) OnConnectionChange(state connection.State) {
	c.post(func() { c.tracker.Transition(state, nil) })
}

// OnConnectionError moves the tracker to the error state with its cause.
func (c *Core[T]) OnConnectionError(err error) {
	c.post(func() { c.tracker.OnError(err) })
}

// OnNotification is the ingress for discrete notifications.
func (c *Core[T]) OnNotification(ev notify.Event) {
	c.post(func() {
		c.tracker.OnMessage()
		c.notes.Add(ev)
	})
}

// Subscribe registers cb for the batches of channel. bus.AllChannels
// receives every channel.
func (c *Core[T]) Subscribe(channel string, cb func(channel string, batch []T)) (bus.Subscription, error) {
	if cb == nil {
		return nil, bus.ErrNilHandler
	}
	return c.updates.Subscribe(channel, func(ch string, batch []T) error {
		cb(ch, batch)
		return nil
	})
}

// SubscribeNotifications registers cb for aggregated notification batches.
func (c *Core[T]) SubscribeNotifications(cb func(events []notify.Event)) (bus.Subscription, error) {
	if cb == nil {
		return nil, bus.ErrNilHandler
	}
	return c.notifications.Subscribe(NotificationsChannel, func(_ string, events []notify.Event) error {
		cb(events)
		return nil
	})
}

// Unsubscribe cancels a subscription returned by Subscribe or
// SubscribeNotifications.
func (c *Core[T]) Unsubscribe(sub bus.Subscription) error {
	return c.updates.Unsubscribe(sub)
}

// AddBusObserver watches deliveries on both the update and the notification
// bus. Observers run on the executor while a flush is being delivered.
func (c *Core[T]) AddBusObserver(o bus.Observer) {
	if o == nil {
		return
	}
	c.updates.AddObserver(o)
	c.notifications.AddObserver(o)
}

func (c *Core[T]) RemoveBusObserver(o bus.Observer) {
	c.updates.RemoveObserver(o)
	c.notifications.RemoveObserver(o)
}

// AddObserver registers o for future events. It does not wait for the
// executor, so it may be called before the loop runs.
func (c *Core[T]) AddObserver(o Observer) {
	if o == nil {
		return
	}
	c.post(func() { c.observers = append(c.observers, o) })
}

func (c *Core[T]) GetConnectionStatus() (s connection.Status) {
	c.call(func() { s = c.tracker.Status() })
	return s
}

// TimeSinceLastUpdate is derived on every read; ok is false before the first
// message.
func (c *Core[T]) TimeSinceLastUpdate() (d time.Duration, ok bool) {
	c.call(func() { d, ok = c.tracker.TimeSinceLastUpdate() })
	return d, ok
}

// IsStale reports whether data may be delayed: no message within StaleAfter.
func (c *Core[T]) IsStale() (stale bool) {
	c.call(func() { stale = c.tracker.IsStale(c.config.StaleAfter) })
	return stale
}

func (c *Core[T]) GetSchedulerMetrics() (m scheduler.Metrics) {
	c.call(func() { m = c.scheduler.Metrics() })
	return m
}

func (c *Core[T]) GetPerformanceMetrics() (m perf.Metrics) {
	c.call(func() { m = c.monitor.Metrics() })
	return m
}

func (c *Core[T]) NotificationStats() (s notify.Stats) {
	c.call(func() { s = c.notes.Stats() })
	return s
}

// Latest returns the most recent value applied to channel.
func (c *Core[T]) Latest(channel string) (e store.Entry[T], ok bool) {
	c.call(func() { e, ok = c.store.Latest(channel) })
	return e, ok
}

// History returns the stored values of channel, oldest first.
func (c *Core[T]) History(channel string) (h []store.Entry[T]) {
	c.call(func() { h = c.store.History(channel) })
	return h
}

func (c *Core[T]) Channels() (names []string) {
	c.call(func() { names = c.store.Channels() })
	return names
}

// Flush forces pending updates and notifications out now.
func (c *Core[T]) Flush() {
	c.call(func() {
		c.scheduler.Flush()
		c.notes.Flush()
	})
}

// Reset drops pending work and restores the initial throttle delay. Stored
// values and render statistics are cleared as well.
func (c *Core[T]) Reset() {
	c.call(func() {
		c.scheduler.Reset()
		c.notes.Reset()
		c.store.Clear()
		c.monitor.ResetMetrics()
		c.subscriberErrors = 0
	})
}

// Close tears the core down: pending work is dropped and later transport
// callbacks no longer change the connection state.
func (c *Core[T]) Close() {
	c.call(func() {
		c.scheduler.Reset()
		c.notes.Reset()
		c.tracker.Close()
	})
}

func (c *Core[T]) SubscriberErrors() (n uint64) {
	c.call(func() { n = c.subscriberErrors })
	return n
}

// applyBatch is the scheduler consumer. Items are grouped by channel in
// order of first appearance, keeping the flush order inside each group.
func (c *Core[T]) applyBatch(items []sequence.PriorityItem[Update[T]]) {
	now := c.clock.Now()
	order := make([]string, 0, 4)
	groups := make(map[string][]T)
	for _, it := range items {
		ch := it.Value.Channel
		if _, ok := groups[ch]; !ok {
			order = append(order, ch)
		}
		groups[ch] = append(groups[ch], it.Value.Payload)
	}

	for _, ch := range order {
		batch := groups[ch]
		c.store.Apply(ch, batch, now)
		if err := c.updates.Publish(ch, batch); err != nil {
			c.subscriberFailed(ch, err)
		}
	}
}

func (c *Core[T]) applyNotifications(events []notify.Event) {
	c.monitor.Measure(func() {
		if err := c.notifications.Publish(NotificationsChannel, events); err != nil {
			c.subscriberFailed(NotificationsChannel, err)
		}
	})
	for _, o := range c.observers {
		o.OnNotifications(len(events))
	}
}

func (c *Core[T]) subscriberFailed(channel string, err error) {
	c.subscriberErrors++
	c.logger.Warn("Subscriber error during flush", log.String("channel", channel), log.Error(err))
	for _, o := range c.observers {
		o.OnSubscriberError(err)
	}
}

func (c *Core[T]) post(task func()) {
	if err := c.exec.Post(task); err != nil {
		c.logger.Debug("Ingress dropped", log.Error(err))
	}
}

func (c *Core[T]) call(task func()) {
	if err := c.exec.Call(task); err != nil {
		c.logger.Debug("Core call dropped", log.Error(err))
	}
}
