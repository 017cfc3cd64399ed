// Package loop provides the single-threaded execution model of the update
// core. Every ingress callback and timer callback is posted to one Executor
// and runs to completion before the next one starts, so the state owned by
// the scheduler, batchers and monitor never needs a lock.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeusync/pulse/internal/core/clock"
	"github.com/zeusync/pulse/internal/core/observability/log"
)

var ErrClosed = errors.New("loop is closed")

// Executor runs posted tasks one at a time.
type Executor interface {
	Post(task func()) error
	// Call runs task and waits for it to complete.
	Call(task func()) error
}

var _ Executor = (*Loop)(nil)

// Loop is a goroutine-backed Executor. Tasks posted before Run starts are
// buffered and executed once it does.
type Loop struct {
	tasks   chan func()
	done    chan struct{}
	logger  log.Log
	closeMu sync.Once
}

// New creates a loop with a task buffer of the given size.
func New(buffer int, logger log.Log) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger.With(log.String("component", "loop")),
	}
}

// Run executes tasks until ctx is cancelled. Tasks still buffered at that
// point are discarded.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closeMu.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-l.tasks:
			l.execute(task)
		}
	}
}

// Post enqueues task. It blocks while the buffer is full.
func (l *Loop) Post(task func()) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	select {
	case l.tasks <- task:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

func (l *Loop) Call(task func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		task()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Done is closed once Run returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked", log.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}

var _ Executor = Inline{}

// Inline runs tasks immediately on the calling goroutine. It is meant for
// callers that already serialise access themselves, and for tests.
type Inline struct{}

func (Inline) Post(task func()) error {
	task()
	return nil
}

func (Inline) Call(task func()) error {
	task()
	return nil
}

// Bind returns a clock whose timer callbacks are posted to exec instead of
// running on the timer goroutine.
func Bind(base clock.Clock, exec Executor) clock.Clock {
	return boundClock{base: base, exec: exec}
}

type boundClock struct {
	base clock.Clock
	exec Executor
}

func (c boundClock) Now() time.Time { return c.base.Now() }

func (c boundClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.base.AfterFunc(d, func() {
		_ = c.exec.Post(f)
	})
}
