// Package metrics exports dashboard core activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/events/bus"
	"github.com/zeusync/pulse/internal/core/perf"
	"github.com/zeusync/pulse/internal/core/scheduler"
	"github.com/zeusync/pulse/internal/dashboard"
	"github.com/zeusync/pulse/internal/transport"
)

const namespace = "pulse"

var (
	_ dashboard.Observer = (*Collector)(nil)
	_ bus.Observer       = (*Collector)(nil)
)

var states = []connection.State{
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateDisconnected,
	connection.StateError,
}

// Collector is a dashboard.Observer backed by its own registry. Observer
// callbacks arrive on the core executor; scrapes may run concurrently.
type Collector struct {
	registry *prometheus.Registry

	flushes          prometheus.Counter
	flushedItems     prometheus.Counter
	batchSize        prometheus.Histogram
	queueLength      prometheus.Gauge
	throttleDelay    prometheus.Gauge
	evicted          prometheus.Counter
	renderTime       prometheus.Histogram
	droppedFrames    prometheus.Counter
	connectionState  *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	notifications    prometheus.Counter
	subscriberErrors prometheus.Counter

	busBatches  *prometheus.CounterVec
	busItems    *prometheus.CounterVec
	busDelivery *prometheus.HistogramVec
	busErrors   *prometheus.CounterVec

	lastEvicted uint64
}

// NewCollector registers every metric on a fresh registry, together with
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "flushes_total",
			Help: "Scheduler flushes that delivered at least one update",
		}),
		flushedItems: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "flushed_items_total",
			Help: "Updates delivered to subscribers",
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "batch_size",
			Help:    "Updates per flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		}),
		queueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "queue_length",
			Help: "Updates left in the queue after the last flush",
		}),
		throttleDelay: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "throttle_delay_seconds",
			Help: "Current adaptive throttle delay",
		}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "evicted_total",
			Help: "Updates evicted from a full queue",
		}),
		renderTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "render", Name: "duration_seconds",
			Help:    "Time spent delivering one flush",
			Buckets: []float64{.001, .002, .004, .008, .016, .033, .066, .133, .25, .5, 1},
		}),
		droppedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "dropped_frames_total",
			Help: "Renders that exceeded the render budget",
		}),
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "connection", Name: "state",
			Help: "1 for the current connection state",
		}, []string{"state"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "transitions_total",
			Help: "Connection state transitions",
		}, []string{"from", "to"}),
		notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifications", Name: "delivered_total",
			Help: "Aggregated notifications delivered",
		}),
		subscriberErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "subscriber_errors_total",
			Help: "Subscriber callbacks that failed or panicked",
		}),
		busBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "published_batches_total",
			Help: "Batches published per channel",
		}, []string{"channel"}),
		busItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "published_items_total",
			Help: "Items published per channel",
		}, []string{"channel"}),
		busDelivery: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "bus", Name: "delivery_seconds",
			Help:    "Time to hand one batch to every subscriber of a channel",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"channel"}),
		busErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "delivery_errors_total",
			Help: "Deliveries where at least one subscriber failed",
		}, []string{"channel"}),
	}
	c.setState(connection.StateConnecting)
	return c
}

// WatchTransport exports the counters of a transport client.
func (c *Collector) WatchTransport(stats func() transport.Stats) {
	f := promauto.With(c.registry)
	counter := func(name, help string, v func(transport.Stats) uint64) {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: name, Help: help,
		}, func() float64 { return float64(v(stats())) })
	}
	counter("sessions_total", "Sessions established", func(s transport.Stats) uint64 { return s.Sessions })
	counter("frames_total", "Frames received", func(s transport.Stats) uint64 { return s.Frames })
	counter("decode_errors_total", "Frames dropped as malformed", func(s transport.Stats) uint64 { return s.DecodeErrors })
	counter("dial_errors_total", "Failed dial attempts", func(s transport.Stats) uint64 { return s.DialErrors })
}

// WatchMemory exports the last sampled resident memory of the monitor.
func (c *Collector) WatchMemory(read func() uint64) {
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "render", Name: "memory_bytes",
		Help: "Last sampled resident memory",
	}, func() float64 { return float64(read()) })
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) OnFlush(items int, m scheduler.Metrics) {
	c.flushes.Inc()
	c.flushedItems.Add(float64(items))
	c.batchSize.Observe(float64(items))
	c.queueLength.Set(float64(m.QueueLength))
	c.throttleDelay.Set(m.CurrentThrottleDelay.Seconds())
}

func (c *Collector) OnRender(s perf.Sample, dropped bool) {
	c.renderTime.Observe(s.RenderTime.Seconds())
	if dropped {
		c.droppedFrames.Inc()
	}
}

// OnEvict receives the running total; a reset of the scheduler restarts it.
func (c *Collector) OnEvict(total uint64) {
	if total < c.lastEvicted {
		c.lastEvicted = 0
	}
	c.evicted.Add(float64(total - c.lastEvicted))
	c.lastEvicted = total
}

func (c *Collector) OnConnectionChange(from, to connection.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	c.setState(to)
}

func (c *Collector) OnNotifications(events int) {
	c.notifications.Add(float64(events))
}

func (c *Collector) OnSubscriberError(error) {
	c.subscriberErrors.Inc()
}

func (c *Collector) OnPublish(channel string, size int) {
	c.busBatches.WithLabelValues(channel).Inc()
	c.busItems.WithLabelValues(channel).Add(float64(size))
}

func (c *Collector) OnDelivered(channel string, _ int, err error, durationMicros int64) {
	c.busDelivery.WithLabelValues(channel).Observe(float64(durationMicros) / 1e6)
	if err != nil {
		c.busErrors.WithLabelValues(channel).Inc()
	}
}

func (c *Collector) setState(current connection.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		c.connectionState.WithLabelValues(s.String()).Set(v)
	}
}
