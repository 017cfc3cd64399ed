// Package notify batches discrete notifications. Identical notifications
// arriving within one window collapse into a single event with a count.
package notify

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/zeusync/pulse/internal/core/batch"
	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/observability/log"
	"github.com/zeusync/pulse/pkg/generic"
)

const (
	DefaultWindow       = 250 * time.Millisecond
	DefaultMaxBatchSize = 20
)

type Config struct {
	Window time.Duration
	// MaxBatchSize bounds the number of distinct events per batch.
	MaxBatchSize int
}

type Stats struct {
	Received  uint64 `json:"received"`
	Collapsed uint64 `json:"collapsed"`
	Flushes   uint64 `json:"flushes"`
	Delivered uint64 `json:"delivered"`
}

// Aggregator is a Batcher of notifications with per-window deduplication.
// It is not safe for concurrent use.
type Aggregator struct {
	clock   clock.Clock
	logger  log.Log
	batcher *batch.Batcher[*Event]
	consume func([]Event)

	// seen maps the dedup key to the pending event of the current window
	seen map[uint64]*Event

	received  uint64
	collapsed uint64
}

// NewAggregator creates an aggregator delivering batches to consume.
func NewAggregator(clk clock.Clock, cfg Config, consume func([]Event), logger log.Log) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = log.NewNop()
	}
	a := &Aggregator{
		clock:   clk,
		logger:  logger.With(log.String("component", "notify")),
		consume: consume,
		seen:    make(map[uint64]*Event),
	}
	a.batcher = batch.New(clk, cfg.Window, cfg.MaxBatchSize, a.flush)
	return a
}

// Add queues ev. A missing ID or timestamp is filled in. A duplicate of an
// event already pending in this window only adds its count to the pending one
// and bumps the timestamp.
func (a *Aggregator) Add(ev Event) {
	a.received++
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.clock.Now()
	}

	key := Key(ev)
	if pending, ok := a.seen[key]; ok {
		pending.Count += max(ev.Count, 1)
		if ev.Timestamp.After(pending.Timestamp) {
			pending.Timestamp = ev.Timestamp
		}
		if ev.Severity > pending.Severity {
			pending.Severity = ev.Severity
		}
		a.collapsed++
		return
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Count <= 0 {
		ev.Count = 1
	}
	p := &ev
	a.seen[key] = p
	a.batcher.Add(p)
}

// Flush delivers the pending window now.
func (a *Aggregator) Flush() bool {
	return a.batcher.Flush()
}

// Reset drops pending events and cancels the window timer.
func (a *Aggregator) Reset() {
	a.batcher.Reset()
	clear(a.seen)
}

// Pending returns the number of distinct events waiting for the window.
func (a *Aggregator) Pending() int {
	return a.batcher.Len()
}

func (a *Aggregator) Stats() Stats {
	return Stats{
		Received:  a.received,
		Collapsed: a.collapsed,
		Flushes:   a.batcher.Flushes(),
		Delivered: a.batcher.Items(),
	}
}

func (a *Aggregator) flush(pending []*Event) {
	// delivered events are closed; duplicates from now on open a new entry
	out := make([]Event, len(pending))
	for i, p := range pending {
		delete(a.seen, Key(*p))
		out[i] = *p
	}
	a.logger.Debug("Notifications flushed", log.Int("events", len(out)))
	a.consume(out)
}

var digests = generic.NewPool(xxhash.New, (*xxhash.Digest).Reset)

// Key is the deduplication key: a hash of type, title and message.
func Key(ev Event) (sum uint64) {
	digests.With(func(d *xxhash.Digest) {
		_, _ = d.WriteString(ev.Type)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(ev.Title)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(ev.Message)
		sum = d.Sum64()
	})
	return sum
}
