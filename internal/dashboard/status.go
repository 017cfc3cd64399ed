package dashboard

import (
	"time"

	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/events/bus"
	"github.com/zeusync/pulse/internal/core/notify"
)

// Status is the JSON document served on the status endpoint. Durations are
// reported in milliseconds.
type Status struct {
	Connection            connection.Status `json:"connection"`
	TimeSinceLastUpdateMs *float64          `json:"timeSinceLastUpdateMs,omitempty"`
	Stale                 bool              `json:"stale"`
	Scheduler             SchedulerStatus   `json:"scheduler"`
	Performance           PerformanceStatus `json:"performance"`
	Notifications         notify.Stats      `json:"notifications"`
	Channels              []string          `json:"channels"`
	Subscribers           []bus.ChannelInfo `json:"subscribers"`
	Delivery              DeliveryStatus    `json:"delivery"`
	SubscriberErrors      uint64            `json:"subscriberErrors"`
}

// DeliveryStatus sums both buses. The counters only move while a bus
// observer is registered.
type DeliveryStatus struct {
	Published         uint64 `json:"published"`
	DeliveredHandlers uint64 `json:"deliveredHandlers"`
	Errors            uint64 `json:"errors"`
}

type SchedulerStatus struct {
	QueueLength            int     `json:"queueLength"`
	CurrentThrottleDelayMs float64 `json:"currentThrottleDelayMs"`
	Evicted                uint64  `json:"evicted"`
	Flushes                uint64  `json:"flushes"`
	ItemsFlushed           uint64  `json:"itemsFlushed"`
}

type PerformanceStatus struct {
	AverageRenderTimeMs float64 `json:"averageRenderTime"`
	MaxRenderTimeMs     float64 `json:"maxRenderTime"`
	TotalRenders        uint64  `json:"totalRenders"`
	DroppedFrames       uint64  `json:"droppedFrames"`
	MemoryUsage         uint64  `json:"memoryUsage"`
}

// Status collects every diagnostic in one executor turn.
func (c *Core[T]) Status() (s Status) {
	c.call(func() {
		s.Connection = c.tracker.Status()
		if d, ok := c.tracker.TimeSinceLastUpdate(); ok {
			ms := millis(d)
			s.TimeSinceLastUpdateMs = &ms
		}
		s.Stale = c.tracker.IsStale(c.config.StaleAfter)

		sm := c.scheduler.Metrics()
		s.Scheduler = SchedulerStatus{
			QueueLength:            sm.QueueLength,
			CurrentThrottleDelayMs: millis(sm.CurrentThrottleDelay),
			Evicted:                sm.Evicted,
			Flushes:                sm.Flushes,
			ItemsFlushed:           sm.ItemsFlushed,
		}

		pm := c.monitor.Metrics()
		s.Performance = PerformanceStatus{
			AverageRenderTimeMs: millis(pm.AverageRenderTime),
			MaxRenderTimeMs:     millis(pm.MaxRenderTime),
			TotalRenders:        pm.TotalRenders,
			DroppedFrames:       pm.DroppedFrames,
			MemoryUsage:         pm.MemoryUsage,
		}

		s.Notifications = c.notes.Stats()
		s.Channels = c.store.Channels()
		s.Subscribers = append(c.updates.Channels(), c.notifications.Channels()...)
		for _, m := range []bus.Metrics{c.updates.Metrics(), c.notifications.Metrics()} {
			s.Delivery.Published += m.Published
			s.Delivery.DeliveredHandlers += m.DeliveredHandlers
			s.Delivery.Errors += m.Errors
		}
		s.SubscriberErrors = c.subscriberErrors
	})
	return s
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
