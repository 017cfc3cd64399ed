// Package perf measures render cost. Render call sites bracket their work
// with StartRender/EndRender; the Monitor keeps rolling statistics the
// scheduler reads to adapt its throttle delay.
package perf

import (
	"time"

	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/observability/log"
)

const (
	DefaultRenderBudget         = 16 * time.Millisecond
	DefaultWindow               = 60
	DefaultMemorySampleInterval = 5 * time.Second
)

// Sample is one measured render.
type Sample struct {
	RenderTime time.Duration
	Timestamp  time.Time
}

// Metrics is a snapshot of the aggregates since the last reset.
type Metrics struct {
	AverageRenderTime time.Duration
	MaxRenderTime     time.Duration
	TotalRenders      uint64
	DroppedFrames     uint64
	// MemoryUsage is the last sampled resident memory in bytes.
	MemoryUsage uint64
}

// Config tunes a Monitor. Zero values take the defaults.
type Config struct {
	// RenderBudget is the longest a render may take before it counts as a
	// dropped frame.
	RenderBudget time.Duration
	// Window is the number of recent samples averaged.
	Window               int
	MemorySampleInterval time.Duration
	// OnSample, if set, is called after every recorded sample.
	OnSample func(s Sample, dropped bool)
}

// Monitor aggregates render samples. All mutation goes through its own
// methods; it is not safe for concurrent use.
type Monitor struct {
	clock  clock.Clock
	config Config
	logger log.Log

	sampler       MemorySampler
	lastMemSample time.Time

	ring  []time.Duration
	head  int
	count int
	sum   time.Duration

	maxRender time.Duration
	total     uint64
	dropped   uint64
	memory    uint64

	// open brackets, innermost last; nested renders are recorded separately
	starts []time.Time
}

// NewMonitor creates a monitor. sampler may be nil to disable memory sampling.
func NewMonitor(clk clock.Clock, config Config, sampler MemorySampler, logger log.Log) *Monitor {
	if config.RenderBudget <= 0 {
		config.RenderBudget = DefaultRenderBudget
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.MemorySampleInterval <= 0 {
		config.MemorySampleInterval = DefaultMemorySampleInterval
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Monitor{
		clock:   clk,
		config:  config,
		logger:  logger.With(log.String("component", "perf")),
		sampler: sampler,
		ring:    make([]time.Duration, config.Window),
	}
}

// StartRender opens a render bracket. Brackets nest: a render started
// inside another one is recorded as its own sample.
func (m *Monitor) StartRender() {
	m.starts = append(m.starts, m.clock.Now())
}

// EndRender closes the innermost open bracket and records its duration.
// Without a matching StartRender it does nothing and returns false.
func (m *Monitor) EndRender() (Sample, bool) {
	n := len(m.starts)
	if n == 0 {
		return Sample{}, false
	}
	start := m.starts[n-1]
	m.starts = m.starts[:n-1]

	now := m.clock.Now()
	s := Sample{RenderTime: now.Sub(start), Timestamp: now}
	m.record(s)
	return s, true
}

// Measure brackets fn as one render.
func (m *Monitor) Measure(fn func()) Sample {
	depth := len(m.starts)
	m.StartRender()
	defer func() {
		// keep the brackets balanced if fn panics
		for len(m.starts) > depth {
			m.EndRender()
		}
	}()
	fn()
	s, _ := m.EndRender()
	return s
}

// Record adds an externally measured render duration.
func (m *Monitor) Record(renderTime time.Duration) Sample {
	s := Sample{RenderTime: renderTime, Timestamp: m.clock.Now()}
	m.record(s)
	return s
}

// ResetMetrics zeroes every aggregate and abandons an open bracket.
func (m *Monitor) ResetMetrics() {
	for i := range m.ring {
		m.ring[i] = 0
	}
	m.head = 0
	m.count = 0
	m.sum = 0
	m.maxRender = 0
	m.total = 0
	m.dropped = 0
	m.memory = 0
	m.starts = m.starts[:0]
	m.lastMemSample = time.Time{}
}

// Metrics returns the current aggregates.
func (m *Monitor) Metrics() Metrics {
	return Metrics{
		AverageRenderTime: m.AverageRenderTime(),
		MaxRenderTime:     m.maxRender,
		TotalRenders:      m.total,
		DroppedFrames:     m.dropped,
		MemoryUsage:       m.memory,
	}
}

// AverageRenderTime is the mean over the rolling window.
func (m *Monitor) AverageRenderTime() time.Duration {
	if m.count == 0 {
		return 0
	}
	return m.sum / time.Duration(m.count)
}

// RenderBudget returns the configured budget.
func (m *Monitor) RenderBudget() time.Duration {
	return m.config.RenderBudget
}

// SampleMemory reads the memory sampler right away.
func (m *Monitor) SampleMemory() {
	if m.sampler == nil {
		return
	}
	m.lastMemSample = m.clock.Now()
	bytes, err := m.sampler.Sample()
	if err != nil {
		m.logger.Debug("Memory sample failed", log.Error(err))
		return
	}
	m.memory = bytes
}

func (m *Monitor) record(s Sample) {
	if m.count == len(m.ring) {
		m.sum -= m.ring[m.head]
	} else {
		m.count++
	}
	m.ring[m.head] = s.RenderTime
	m.sum += s.RenderTime
	m.head = (m.head + 1) % len(m.ring)

	m.total++
	if s.RenderTime > m.maxRender {
		m.maxRender = s.RenderTime
	}
	dropped := s.RenderTime > m.config.RenderBudget
	if dropped {
		m.dropped++
	}

	if m.sampler != nil && s.Timestamp.Sub(m.lastMemSample) >= m.config.MemorySampleInterval {
		m.SampleMemory()
	}

	if m.config.OnSample != nil {
		m.config.OnSample(s, dropped)
	}
}
