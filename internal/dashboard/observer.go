package dashboard

import (
	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/observability/log"
	"github.com/zeusync/pulse/internal/core/perf"
	"github.com/zeusync/pulse/internal/core/scheduler"
)

// Observer receives core events for export. Callbacks run on the core
// executor and should return quickly.
type Observer interface {
	OnFlush(items int, m scheduler.Metrics)
	OnRender(s perf.Sample, dropped bool)
	OnEvict(total uint64)
	OnConnectionChange(from, to connection.State)
	OnNotifications(events int)
	OnSubscriberError(err error)
}

// NopObserver implements Observer with no-ops; embed it to override a subset.
type NopObserver struct{}

func (NopObserver) OnFlush(int, scheduler.Metrics)                        {}
func (NopObserver) OnRender(perf.Sample, bool)                            {}
func (NopObserver) OnEvict(uint64)                                        {}
func (NopObserver) OnConnectionChange(connection.State, connection.State) {}
func (NopObserver) OnNotifications(int)                                   {}
func (NopObserver) OnSubscriberError(error)                               {}

var _ Observer = (*LogObserver)(nil)

// LogObserver writes flushes and drops to a logger.
type LogObserver struct {
	NopObserver
	logger log.Log
}

func NewLogObserver(logger log.Log) *LogObserver {
	return &LogObserver{logger: logger.With(log.String("component", "dashboard.observer"))}
}

func (o *LogObserver) OnFlush(items int, m scheduler.Metrics) {
	o.logger.Debug("Batch flushed",
		log.Int("items", items),
		log.Int("queue_length", m.QueueLength),
		log.Duration("throttle_delay", m.CurrentThrottleDelay),
	)
}

func (o *LogObserver) OnRender(s perf.Sample, dropped bool) {
	if dropped {
		o.logger.Debug("Frame over budget", log.Duration("render_time", s.RenderTime))
	}
}

func (o *LogObserver) OnSubscriberError(err error) {
	o.logger.Warn("Subscriber failed", log.Error(err))
}
