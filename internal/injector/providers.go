// Package injector assembles the pulsed daemon from its configuration.
package injector

import (
	"encoding/json"
	"time"

	"github.com/google/wire"

	"github.com/zeusync/pulse/internal/config"
	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/loop"
	"github.com/zeusync/pulse/internal/core/observability/log"
	"github.com/zeusync/pulse/internal/core/observability/metrics"
	"github.com/zeusync/pulse/internal/core/perf"
	"github.com/zeusync/pulse/internal/dashboard"
	"github.com/zeusync/pulse/internal/transport"
)

// Core carries raw JSON payloads; the daemon never decodes them.
type Core = dashboard.Core[json.RawMessage]

// Daemon is everything cmd/pulsed runs.
type Daemon struct {
	Config    config.Root
	Logger    log.Log
	Loop      *loop.Loop
	Core      *Core
	Client    *transport.Client
	Collector *metrics.Collector
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvideLoop,
	ProvideSampler,
	ProvideCore,
	ProvideCollector,
	ProvideTransportOptions,
	transport.NewDialer,
	ProvideClient,
	wire.Struct(new(Daemon), "*"),
)

func ProvideLogger(cfg config.Root) log.Log {
	return log.New(log.ParseLevel(cfg.Log.Level))
}

func ProvideLoop(logger log.Log) *loop.Loop {
	return loop.New(0, logger)
}

// ProvideSampler returns nil when sampling is off or unsupported here.
func ProvideSampler(cfg config.Root, logger log.Log) perf.MemorySampler {
	if !cfg.Performance.SampleMemory {
		return nil
	}
	s, err := perf.NewProcessMemorySampler()
	if err != nil {
		logger.Warn("Memory sampling disabled", log.Error(err))
		return nil
	}
	return s
}

func ProvideCore(l *loop.Loop, cfg config.Root, sampler perf.MemorySampler, logger log.Log) *Core {
	core := dashboard.New[json.RawMessage](l, clock.Real{}, config.Dashboard[json.RawMessage](cfg), sampler, logger)
	core.AddObserver(dashboard.NewLogObserver(logger))
	return core
}

func ProvideCollector(core *Core) *metrics.Collector {
	c := metrics.NewCollector()
	core.AddObserver(c)
	core.AddBusObserver(c)
	c.WatchMemory(func() uint64 { return core.GetPerformanceMetrics().MemoryUsage })
	return c
}

func ProvideTransportOptions(cfg config.Root) transport.Options {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	t := cfg.Transport
	return transport.Options{
		Kind:             t.Kind,
		URL:              t.URL,
		Headers:          t.Headers,
		HandshakeTimeout: ms(t.HandshakeTimeout),
		InsecureTLS:      t.InsecureTLS,
		ReconnectMin:     ms(t.ReconnectMinMs),
		ReconnectBurst:   t.ReconnectBurst,
	}
}

func ProvideClient(dialer transport.Dialer, core *Core, opts transport.Options, collector *metrics.Collector, logger log.Log) *transport.Client {
	c := transport.NewClient(dialer, core, opts, logger)
	collector.WatchTransport(c.Stats)
	return c
}
