// Package batch accumulates items over a time window or up to a size bound
// and hands them to a consumer as one slice.
package batch

import (
	"time"

	"github.com/zeusync/pulse/internal/core/clock"
)

// FlushFunc receives a non-empty batch. The slice is owned by the callee.
type FlushFunc[T any] func(batch []T)

// Batcher collects items and flushes them when the window timer expires or
// when MaxSize items are pending, whichever comes first. It is not safe for
// concurrent use; the clock must be bound to the executor that drives it.
type Batcher[T any] struct {
	clock   clock.Clock
	window  time.Duration
	maxSize int
	flush   FlushFunc[T]

	pending []T
	timer   clock.Timer
	gen     uint64

	flushing bool

	flushes uint64
	items   uint64
}

// New returns a batcher. A maxSize of 0 disables the size bound.
func New[T any](clk clock.Clock, window time.Duration, maxSize int, flush FlushFunc[T]) *Batcher[T] {
	if maxSize < 0 {
		maxSize = 0
	}
	return &Batcher[T]{
		clock:   clk,
		window:  window,
		maxSize: maxSize,
		flush:   flush,
	}
}

// Add appends item to the pending set. The first item after an empty state
// starts the window timer; reaching MaxSize flushes synchronously.
func (b *Batcher[T]) Add(item T) {
	b.pending = append(b.pending, item)
	if b.timer == nil {
		b.arm()
	}
	if b.full() && !b.flushing {
		b.Flush()
	}
}

// Flush delivers the pending items now. It reports whether anything was
// delivered; an empty batcher never calls the consumer.
func (b *Batcher[T]) Flush() bool {
	if len(b.pending) == 0 || b.flushing {
		return false
	}

	b.flushing = true
	for len(b.pending) > 0 {
		batch := b.take()
		b.stopTimer()

		b.flushes++
		b.items += uint64(len(batch))
		b.flush(batch)

		// Items added by the consumer open the next window; deliver them now
		// only if they already reached the size bound.
		if !b.full() {
			break
		}
	}
	b.flushing = false

	if len(b.pending) > 0 && b.timer == nil {
		b.arm()
	}
	return true
}

// Reset drops pending items and cancels the window timer.
func (b *Batcher[T]) Reset() {
	b.stopTimer()
	b.pending = nil
}

// Len returns the number of pending items.
func (b *Batcher[T]) Len() int {
	return len(b.pending)
}

// Flushes returns the number of batches delivered.
func (b *Batcher[T]) Flushes() uint64 {
	return b.flushes
}

// Items returns the number of items delivered across all batches.
func (b *Batcher[T]) Items() uint64 {
	return b.items
}

// take detaches at most maxSize pending items, oldest first.
func (b *Batcher[T]) take() []T {
	n := len(b.pending)
	if b.maxSize > 0 && n > b.maxSize {
		n = b.maxSize
	}
	batch := b.pending[:n:n]
	if n == len(b.pending) {
		b.pending = nil
	} else {
		b.pending = append([]T(nil), b.pending[n:]...)
	}
	return batch
}

func (b *Batcher[T]) full() bool {
	return b.maxSize > 0 && len(b.pending) >= b.maxSize
}

func (b *Batcher[T]) arm() {
	gen := b.gen
	b.timer = b.clock.AfterFunc(b.window, func() { b.expire(gen) })
}

func (b *Batcher[T]) expire(gen uint64) {
	if gen != b.gen {
		return
	}
	b.timer = nil
	b.Flush()
}

func (b *Batcher[T]) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}
