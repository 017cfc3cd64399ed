package scheduler

import (
	"time"
)

const (
	DefaultMaxFrequencyHz    = 30.0
	DefaultBatchSize         = 50
	DefaultQueueCapacity     = 1000
	DefaultMaxDelay          = time.Second
	DefaultImmediatePriority = 100
	DefaultBackoffFactor     = 1.5
	DefaultRecoveryFactor    = 0.9
	DefaultRenderBudget      = 16 * time.Millisecond
)

// Config is fixed for the lifetime of a Scheduler; build a new one to change
// behaviour.
type Config[T any] struct {
	// MaxFrequencyHz bounds how often flushes happen when idle. Its inverse
	// is the floor of the adaptive delay.
	MaxFrequencyHz float64
	// BatchSize flushes the queue as soon as that many items are waiting.
	BatchSize int
	// QueueCapacity bounds the queue. Negative means zero capacity: every
	// update is dropped on arrival.
	QueueCapacity int
	// AdaptiveThrottling lets render cost and queue growth move the delay.
	AdaptiveThrottling bool
	// PriorityFunction computes the priority of updates scheduled without an
	// explicit one. Nil means priority 0.
	PriorityFunction func(T) int
	// RenderBudget is used when the scheduler creates its own monitor.
	RenderBudget time.Duration
	// MaxDelay caps the adaptive delay.
	MaxDelay time.Duration
	// ImmediatePriority makes updates at or above it flush right away.
	// Zero or negative disables it.
	ImmediatePriority int
	BackoffFactor     float64
	RecoveryFactor    float64

	// OnFlush, if set, runs after every flush with the post-flush metrics.
	OnFlush func(items int, m Metrics)
	// OnEvict, if set, runs whenever an update is dropped by the queue.
	OnEvict func(total uint64)
}

// DefaultConfig returns the documented defaults with adaptive throttling on.
func DefaultConfig[T any]() Config[T] {
	return Config[T]{
		MaxFrequencyHz:     DefaultMaxFrequencyHz,
		BatchSize:          DefaultBatchSize,
		QueueCapacity:      DefaultQueueCapacity,
		AdaptiveThrottling: true,
		RenderBudget:       DefaultRenderBudget,
		MaxDelay:           DefaultMaxDelay,
		ImmediatePriority:  DefaultImmediatePriority,
		BackoffFactor:      DefaultBackoffFactor,
		RecoveryFactor:     DefaultRecoveryFactor,
	}
}

func (c Config[T]) withDefaults() Config[T] {
	if c.MaxFrequencyHz <= 0 {
		c.MaxFrequencyHz = DefaultMaxFrequencyHz
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	switch {
	case c.QueueCapacity == 0:
		c.QueueCapacity = DefaultQueueCapacity
	case c.QueueCapacity < 0:
		c.QueueCapacity = 0
	}
	if c.RenderBudget <= 0 {
		c.RenderBudget = DefaultRenderBudget
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.RecoveryFactor <= 0 || c.RecoveryFactor >= 1 {
		c.RecoveryFactor = DefaultRecoveryFactor
	}
	minDelay := c.minDelay()
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < minDelay {
		c.MaxDelay = minDelay
	}
	return c
}

func (c Config[T]) minDelay() time.Duration {
	return time.Duration(float64(time.Second) / c.MaxFrequencyHz)
}
