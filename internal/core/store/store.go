// Package store keeps the latest value and a short history per channel, fed
// by scheduler flushes and read by render subscribers.
package store

import (
	"maps"
	"slices"
	"time"
)

const DefaultHistory = 50

// Entry is one stored value with the instant it was applied.
type Entry[T any] struct {
	Value     T
	AppliedAt time.Time
}

// ring is a fixed-size circular history, oldest first on read.
type ring[T any] struct {
	buf   []Entry[T]
	head  int
	count int
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{buf: make([]Entry[T], size)}
}

func (r *ring[T]) push(e Entry[T]) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring[T]) last() (Entry[T], bool) {
	if r.count == 0 {
		return Entry[T]{}, false
	}
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)], true
}

func (r *ring[T]) items() []Entry[T] {
	out := make([]Entry[T], 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Store is not safe for concurrent use; it is owned by the dashboard core.
type Store[T any] struct {
	history  int
	channels map[string]*ring[T]
	applied  uint64
}

// New returns a store keeping up to history values per channel.
func New[T any](history int) *Store[T] {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Store[T]{
		history:  history,
		channels: make(map[string]*ring[T]),
	}
}

// Apply appends batch to the channel history in order; the last value
// becomes the latest.
func (s *Store[T]) Apply(channel string, batch []T, at time.Time) {
	if len(batch) == 0 {
		return
	}
	r, ok := s.channels[channel]
	if !ok {
		r = newRing[T](s.history)
		s.channels[channel] = r
	}
	for _, v := range batch {
		r.push(Entry[T]{Value: v, AppliedAt: at})
	}
	s.applied += uint64(len(batch))
}

// Latest returns the most recent value of channel.
func (s *Store[T]) Latest(channel string) (Entry[T], bool) {
	r, ok := s.channels[channel]
	if !ok {
		return Entry[T]{}, false
	}
	return r.last()
}

// History returns a copy of the channel history, oldest first.
func (s *Store[T]) History(channel string) []Entry[T] {
	r, ok := s.channels[channel]
	if !ok {
		return nil
	}
	return r.items()
}

// Channels returns the known channel names in sorted order.
func (s *Store[T]) Channels() []string {
	return slices.Sorted(maps.Keys(s.channels))
}

// Applied returns the number of values applied since creation or Clear.
func (s *Store[T]) Applied() uint64 {
	return s.applied
}

// Clear forgets every channel.
func (s *Store[T]) Clear() {
	clear(s.channels)
	s.applied = 0
}
