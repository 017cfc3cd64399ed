package bus

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNilHandler      = errors.New("nil handler")
	ErrEmptyChannel    = errors.New("empty channel name")
	ErrSubscriberPanic = errors.New("subscriber panicked")
)

// subscription implements Subscription interface.
type subscription[T any] struct {
	id      string
	channel string
	handler Handler[T]
	active  atomic.Bool
	cancel  func()
}

func (s *subscription[T]) ID() string      { return s.id }
func (s *subscription[T]) Channel() string { return s.channel }
func (s *subscription[T]) IsActive() bool  { return s.active.Load() }
func (s *subscription[T]) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// inMemoryBus is a thread-safe implementation of Bus with optional observers.
type inMemoryBus[T any] struct {
	mu sync.RWMutex
	// handlers: channel -> subscriptions in subscribe order
	handlers  map[string][]*subscription[T]
	metrics   Metrics
	observers map[Observer]struct{}
}

// New creates a new Bus instance.
func New[T any]() Bus[T] {
	return &inMemoryBus[T]{
		handlers:  make(map[string][]*subscription[T]),
		observers: make(map[Observer]struct{}),
	}
}

func (b *inMemoryBus[T]) Subscribe(channel string, handler Handler[T]) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if channel == "" {
		return nil, ErrEmptyChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscription[T]{id: uuid.NewString(), channel: channel, handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		s.active.Store(false)
		subs := b.handlers[channel]
		if i := slices.Index(subs, s); i >= 0 {
			b.handlers[channel] = slices.Delete(slices.Clone(subs), i, i+1)
		}
		if len(b.handlers[channel]) == 0 {
			delete(b.handlers, channel)
		}
	}
	// copy on write so deliveries in flight keep their snapshot
	b.handlers[channel] = append(slices.Clone(b.handlers[channel]), s)
	return s, nil
}

func (b *inMemoryBus[T]) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus[T]) Publish(channel string, batch []T) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	b.mu.RLock()
	subs := b.handlers[channel]
	if channel != AllChannels {
		if wild := b.handlers[AllChannels]; len(wild) > 0 {
			subs = append(slices.Clone(subs), wild...)
		}
	}
	observers := make([]Observer, 0, len(b.observers))
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(channel, len(batch))
	}

	var all error
	delivered := 0
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		delivered++
		if err := invoke(s, channel, batch); err != nil {
			all = errors.Join(all, err)
		}
	}

	if len(observers) > 0 {
		dur := time.Since(start).Microseconds()
		for _, obs := range observers {
			obs.OnDelivered(channel, delivered, all, dur)
		}
		// update metrics only when observing
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.DeliveredHandlers += uint64(delivered)
		if all != nil {
			b.metrics.Errors++
		}
		b.metrics.Channels = uint64(len(b.handlers))
		var subsCount uint64
		for _, m := range b.handlers {
			subsCount += uint64(len(m))
		}
		b.metrics.SubscribersActive = subsCount
		b.mu.Unlock()
	}
	return all
}

func (b *inMemoryBus[T]) AddObserver(obs Observer) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *inMemoryBus[T]) RemoveObserver(obs Observer) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

func (b *inMemoryBus[T]) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (b *inMemoryBus[T]) Channels() []ChannelInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(b.handlers))
	for name, subs := range b.handlers {
		out = append(out, ChannelInfo{Name: name, Subs: len(subs)})
	}
	slices.SortFunc(out, func(x, y ChannelInfo) int { return cmp.Compare(x.Name, y.Name) })
	return out
}

// invoke runs one handler, turning a panic into an error so the remaining
// subscribers still receive the batch.
func invoke[T any](s *subscription[T], channel string, batch []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: subscription %s on %q: %v", ErrSubscriberPanic, s.id, channel, r)
		}
	}()
	return s.handler(channel, batch)
}
