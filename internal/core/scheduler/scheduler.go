// Package scheduler decides, for every incoming update, whether it is applied
// right away, queued for the next throttled flush, or dropped under overload,
// and adapts the flush delay to the measured render cost.
package scheduler

import (
	"time"

	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/observability/log"
	"github.com/zeusync/pulse/internal/core/perf"
	"github.com/zeusync/pulse/internal/core/throttle"
	"github.com/zeusync/pulse/pkg/sequence"
)

// Consumer receives every flushed batch in (priority desc, arrival asc) order.
type Consumer[T any] func(batch []sequence.PriorityItem[T])

// Metrics exposes the scheduler counters for diagnostics.
type Metrics struct {
	QueueLength          int
	CurrentThrottleDelay time.Duration
	Evicted              uint64
	Flushes              uint64
	ItemsFlushed         uint64
}

// Scheduler owns its queue and throttler. It is not safe for concurrent
// use; run it on one executor and bind the clock to that executor.
type Scheduler[T any] struct {
	config  Config[T]
	clock   clock.Clock
	logger  log.Log
	monitor *perf.Monitor
	consume Consumer[T]

	queue    *sequence.BoundedPriorityQueue[T]
	throttle *throttle.Throttler[struct{}]

	minDelay     time.Duration
	currentDelay time.Duration

	lastBacklog      int
	evictedAtLastRun uint64
	flushing         bool

	flushes      uint64
	itemsFlushed uint64
}

// New creates a scheduler. monitor is shared with other render call sites;
// when nil the scheduler creates a private one with Config.RenderBudget.
func New[T any](clk clock.Clock, config Config[T], monitor *perf.Monitor, consume Consumer[T], logger log.Log) *Scheduler[T] {
	config = config.withDefaults()
	if logger == nil {
		logger = log.NewNop()
	}
	if monitor == nil {
		monitor = perf.NewMonitor(clk, perf.Config{RenderBudget: config.RenderBudget}, nil, logger)
	}

	s := &Scheduler[T]{
		config:   config,
		clock:    clk,
		logger:   logger.With(log.String("component", "scheduler")),
		monitor:  monitor,
		consume:  consume,
		queue:    sequence.NewBoundedPriorityQueue[T](config.QueueCapacity),
		minDelay: config.minDelay(),
	}
	s.currentDelay = s.minDelay
	s.throttle = throttle.NewTrailing(clk, s.currentDelay, func(struct{}) { s.flush() })
	return s
}

// ScheduleUpdate accepts an update. It never blocks and never fails: when the
// queue is full the lowest ranked update is evicted. An explicit priority
// overrides Config.PriorityFunction.
func (s *Scheduler[T]) ScheduleUpdate(payload T, priority ...int) {
	p := s.priorityOf(payload, priority)

	if s.queue.Enqueue(payload, p, s.clock.Now()) > 0 {
		total := s.queue.Evicted()
		s.logger.Debug("Update evicted", log.Int("priority", p), log.Uint64("evicted_total", total))
		if s.config.OnEvict != nil {
			s.config.OnEvict(total)
		}
	}

	if s.flushing || s.queue.IsEmpty() {
		return
	}

	switch {
	case s.config.ImmediatePriority > 0 && p >= s.config.ImmediatePriority:
		s.Flush()
	case s.queue.Len() >= s.config.BatchSize:
		s.Flush()
	default:
		s.throttle.Call(struct{}{})
	}
}

// Flush drains the queue now regardless of the throttle delay.
func (s *Scheduler[T]) Flush() {
	if s.flushing || s.queue.IsEmpty() {
		return
	}
	s.throttle.Call(struct{}{})
	s.throttle.FlushNow()
}

// Reset clears the queue, throttle state and counters and restores the
// initial delay. Pending release timers are cancelled first.
func (s *Scheduler[T]) Reset() {
	s.throttle.Reset()
	s.queue.Reset()
	s.currentDelay = s.minDelay
	s.throttle.SetInterval(s.currentDelay)
	s.lastBacklog = 0
	s.evictedAtLastRun = 0
	s.flushes = 0
	s.itemsFlushed = 0
}

// Metrics returns the current counters.
func (s *Scheduler[T]) Metrics() Metrics {
	return Metrics{
		QueueLength:          s.queue.Len(),
		CurrentThrottleDelay: s.currentDelay,
		Evicted:              s.queue.Evicted(),
		Flushes:              s.flushes,
		ItemsFlushed:         s.itemsFlushed,
	}
}

// InitialDelay is the delay a fresh or reset scheduler starts with.
func (s *Scheduler[T]) InitialDelay() time.Duration {
	return s.minDelay
}

// Monitor returns the performance monitor the scheduler adapts to.
func (s *Scheduler[T]) Monitor() *perf.Monitor {
	return s.monitor
}

func (s *Scheduler[T]) priorityOf(payload T, explicit []int) int {
	if len(explicit) > 0 {
		return explicit[0]
	}
	if s.config.PriorityFunction != nil {
		return s.config.PriorityFunction(payload)
	}
	return 0
}

// flush is the throttled handler. It drains and delivers in one synchronous
// turn, then adapts the delay.
func (s *Scheduler[T]) flush() {
	if s.flushing || s.queue.IsEmpty() {
		return
	}

	backlog := s.queue.Len()
	items := s.queue.DequeueAll()

	s.flushing = true
	func() {
		defer func() { s.flushing = false }()
		s.monitor.StartRender()
		defer s.monitor.EndRender()
		s.consume(items)
	}()

	s.flushes++
	s.itemsFlushed += uint64(len(items))
	s.adapt(backlog)

	if s.config.OnFlush != nil {
		s.config.OnFlush(len(items), s.Metrics())
	}

	// updates that arrived while the consumer ran wait for the next slot
	if !s.queue.IsEmpty() {
		s.throttle.Call(struct{}{})
	}
}

// adapt moves the delay after a flush: back off multiplicatively when renders
// exceed the budget or the queue is growing, recover multiplicatively when
// renders are well under budget and the queue is not growing.
func (s *Scheduler[T]) adapt(backlog int) {
	evicted := s.queue.Evicted()
	growing := (s.lastBacklog > 0 && backlog > s.lastBacklog) || evicted > s.evictedAtLastRun
	s.lastBacklog = backlog
	s.evictedAtLastRun = evicted

	if !s.config.AdaptiveThrottling {
		return
	}

	avg := s.monitor.AverageRenderTime()
	budget := s.monitor.RenderBudget()
	next := s.currentDelay

	switch {
	case avg > budget || growing:
		next = time.Duration(float64(s.currentDelay) * s.config.BackoffFactor)
		if next > s.config.MaxDelay {
			next = s.config.MaxDelay
		}
	case avg < budget/2:
		next = time.Duration(float64(s.currentDelay) * s.config.RecoveryFactor)
		if next < s.minDelay {
			next = s.minDelay
		}
	}

	if next == s.currentDelay {
		return
	}
	s.logger.Debug("Throttle delay adapted",
		log.Duration("from", s.currentDelay),
		log.Duration("to", next),
		log.Duration("avg_render", avg),
		log.Int("backlog", backlog),
		log.Bool("growing", growing),
	)
	s.currentDelay = next
	s.throttle.SetInterval(next)
}
