// Package config loads the pulsed YAML document.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/pulse/internal/core/notify"
	"github.com/zeusync/pulse/internal/core/perf"
	"github.com/zeusync/pulse/internal/core/scheduler"
	"github.com/zeusync/pulse/internal/core/store"
	"github.com/zeusync/pulse/internal/dashboard"
)

var ErrInvalidConfig = errors.New("invalid config")

type Scheduler struct {
	MaxFrequencyHz     float64 `yaml:"max_frequency_hz"`
	BatchSize          int     `yaml:"batch_size"`
	QueueCapacity      int     `yaml:"queue_capacity"`
	AdaptiveThrottling bool    `yaml:"adaptive_throttling"`
	RenderBudgetMs     int     `yaml:"render_budget_ms"`
	MaxDelayMs         int     `yaml:"max_delay_ms"`
	ImmediatePriority  int     `yaml:"immediate_priority"`
	BackoffFactor      float64 `yaml:"backoff_factor"`
	RecoveryFactor     float64 `yaml:"recovery_factor"`
}

type Performance struct {
	Window                 int `yaml:"window"`
	MemorySampleIntervalMs int `yaml:"memory_sample_interval_ms"`
	// SampleMemory enables resident memory sampling of the daemon process.
	SampleMemory bool `yaml:"sample_memory"`
}

type Notifications struct {
	WindowMs     int `yaml:"window_ms"`
	MaxBatchSize int `yaml:"max_batch_size"`
}

type Store struct {
	History int `yaml:"history"`
}

type Connection struct {
	StaleAfterMs int `yaml:"stale_after_ms"`
}

type Transport struct {
	// Kind is one of websocket, sse or quic.
	Kind             string            `yaml:"kind"`
	URL              string            `yaml:"url"`
	Headers          map[string]string `yaml:"headers,omitempty"`
	ReconnectMinMs   int               `yaml:"reconnect_min_ms"`
	ReconnectBurst   int               `yaml:"reconnect_burst"`
	HandshakeTimeout int               `yaml:"handshake_timeout_ms"`
	InsecureTLS      bool              `yaml:"insecure_tls"`
}

type Metrics struct {
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	StatusPath string `yaml:"status_path"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Root struct {
	Scheduler     Scheduler     `yaml:"scheduler"`
	Performance   Performance   `yaml:"performance"`
	Notifications Notifications `yaml:"notifications"`
	Store         Store         `yaml:"store"`
	Connection    Connection    `yaml:"connection"`
	Transport     Transport     `yaml:"transport"`
	Metrics       Metrics       `yaml:"metrics"`
	Log           Log           `yaml:"log"`
}

// Default returns the full default document.
func Default() Root {
	return Root{
		Scheduler: Scheduler{
			MaxFrequencyHz:     scheduler.DefaultMaxFrequencyHz,
			BatchSize:          scheduler.DefaultBatchSize,
			QueueCapacity:      scheduler.DefaultQueueCapacity,
			AdaptiveThrottling: true,
			RenderBudgetMs:     int(scheduler.DefaultRenderBudget / time.Millisecond),
			MaxDelayMs:         int(scheduler.DefaultMaxDelay / time.Millisecond),
			ImmediatePriority:  scheduler.DefaultImmediatePriority,
			BackoffFactor:      scheduler.DefaultBackoffFactor,
			RecoveryFactor:     scheduler.DefaultRecoveryFactor,
		},
		Performance: Performance{
			Window:                 perf.DefaultWindow,
			MemorySampleIntervalMs: int(perf.DefaultMemorySampleInterval / time.Millisecond),
			SampleMemory:           true,
		},
		Notifications: Notifications{
			WindowMs:     int(notify.DefaultWindow / time.Millisecond),
			MaxBatchSize: notify.DefaultMaxBatchSize,
		},
		Store:      Store{History: store.DefaultHistory},
		Connection: Connection{StaleAfterMs: int(dashboard.DefaultStaleAfter / time.Millisecond)},
		Transport: Transport{
			Kind:             "websocket",
			URL:              "ws://127.0.0.1:8080/stream",
			ReconnectMinMs:   1000,
			ReconnectBurst:   3,
			HandshakeTimeout: 10000,
		},
		Metrics: Metrics{
			ListenAddr: ":9090",
			Path:       "/metrics",
			StatusPath: "/status",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result. Keys missing
// from the file keep their default value.
func Load(path string) (Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(b []byte) (Root, error) {
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate reports every invalid field at once.
func (c Root) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	s := c.Scheduler
	check(s.MaxFrequencyHz > 0, "scheduler.max_frequency_hz must be positive, got %v", s.MaxFrequencyHz)
	check(s.BatchSize > 0, "scheduler.batch_size must be positive, got %d", s.BatchSize)
	check(s.QueueCapacity >= 0, "scheduler.queue_capacity must not be negative, got %d", s.QueueCapacity)
	check(s.RenderBudgetMs > 0, "scheduler.render_budget_ms must be positive, got %d", s.RenderBudgetMs)
	check(s.MaxDelayMs > 0, "scheduler.max_delay_ms must be positive, got %d", s.MaxDelayMs)
	check(s.BackoffFactor > 1, "scheduler.backoff_factor must be greater than 1, got %v", s.BackoffFactor)
	check(s.RecoveryFactor > 0 && s.RecoveryFactor < 1, "scheduler.recovery_factor must be in (0,1), got %v", s.RecoveryFactor)
	check(c.Performance.Window > 0, "performance.window must be positive, got %d", c.Performance.Window)
	check(c.Notifications.WindowMs > 0, "notifications.window_ms must be positive, got %d", c.Notifications.WindowMs)
	check(c.Notifications.MaxBatchSize > 0, "notifications.max_batch_size must be positive, got %d", c.Notifications.MaxBatchSize)
	check(c.Store.History > 0, "store.history must be positive, got %d", c.Store.History)

	switch c.Transport.Kind {
	case "websocket", "sse", "quic":
	default:
		check(false, "transport.kind must be websocket, sse or quic, got %q", c.Transport.Kind)
	}
	check(c.Transport.URL != "", "transport.url is required")
	check(c.Transport.ReconnectBurst > 0, "transport.reconnect_burst must be positive, got %d", c.Transport.ReconnectBurst)
	check(c.Transport.ReconnectMinMs >= 0, "transport.reconnect_min_ms must not be negative, got %d", c.Transport.ReconnectMinMs)
	check(c.Transport.HandshakeTimeout >= 0, "transport.handshake_timeout_ms must not be negative, got %d", c.Transport.HandshakeTimeout)

	switch c.Log.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		check(false, "log.level %q is not a level", c.Log.Level)
	}
	return errors.Join(errs...)
}

// Dashboard maps the document onto the dashboard core configuration.
func Dashboard[T any](c Root) dashboard.Config[T] {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	sc := scheduler.Config[T]{
		MaxFrequencyHz:     c.Scheduler.MaxFrequencyHz,
		BatchSize:          c.Scheduler.BatchSize,
		QueueCapacity:      c.Scheduler.QueueCapacity,
		AdaptiveThrottling: c.Scheduler.AdaptiveThrottling,
		RenderBudget:       ms(c.Scheduler.RenderBudgetMs),
		MaxDelay:           ms(c.Scheduler.MaxDelayMs),
		ImmediatePriority:  c.Scheduler.ImmediatePriority,
		BackoffFactor:      c.Scheduler.BackoffFactor,
		RecoveryFactor:     c.Scheduler.RecoveryFactor,
	}
	// zero capacity in the file means drop everything
	if sc.QueueCapacity == 0 {
		sc.QueueCapacity = -1
	}

	return dashboard.Config[T]{
		Scheduler: sc,
		Performance: perf.Config{
			RenderBudget:         ms(c.Scheduler.RenderBudgetMs),
			Window:               c.Performance.Window,
			MemorySampleInterval: ms(c.Performance.MemorySampleIntervalMs),
		},
		Notifications: notify.Config{
			Window:       ms(c.Notifications.WindowMs),
			MaxBatchSize: c.Notifications.MaxBatchSize,
		},
		History:    c.Store.History,
		StaleAfter: ms(c.Connection.StaleAfterMs),
	}
}
