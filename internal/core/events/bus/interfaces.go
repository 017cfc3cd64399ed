package bus

// Bus fans flushed batches out to the subscribers of a channel.
//
// Key characteristics:
//   - Channel-based fan-out: handlers subscribe by channel name.
//   - Wildcard: handlers subscribed to AllChannels receive every batch.
//   - Synchronous delivery: Publish calls handlers in the caller goroutine, in
//     subscription order, so batch N is observed before batch N+1.
//   - Error aggregation: handler errors and recovered panics are joined and
//     returned from Publish; remaining handlers still run.
//   - Optional observability: counters are kept only when observers are registered.
//
// All methods are safe for concurrent use. Handlers may subscribe or cancel
// from inside a delivery; the change applies to the next Publish.
type Bus[T any] interface {
	// Publish delivers batch to every active subscriber of channel and of
	// AllChannels. Empty batches are not delivered.
	Publish(channel string, batch []T) error
	// Subscribe registers handler for channel and returns a handle to cancel it.
	Subscribe(channel string, handler Handler[T]) (Subscription, error)
	// Unsubscribe cancels sub. It is safe to call with nil.
	Unsubscribe(sub Subscription) error

	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	// Metrics returns the counters accumulated while observers were registered.
	Metrics() Metrics
	// Channels returns a snapshot of channels with at least one subscriber.
	Channels() []ChannelInfo
}

// AllChannels subscribes to batches of every channel.
const AllChannels = "*"

// Handler is invoked per delivered batch. A returned error is aggregated into
// the Publish result.
type Handler[T any] func(channel string, batch []T) error

// Subscription represents a registered handler bound to a channel.
type Subscription interface {
	ID() string
	Channel() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// Observer is notified about deliveries. Observers should return quickly.
type Observer interface {
	OnPublish(channel string, size int)
	OnDelivered(channel string, handlers int, err error, durationMicros int64)
}

type Metrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
	Channels          uint64
}

type ChannelInfo struct {
	Name string `json:"name"`
	Subs int    `json:"subs"`
}
