package transport

import (
	"encoding/json"
	"fmt"

	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/notify"
)

const (
	KindUpdate       = "update"
	KindNotification = "notification"
)

// Envelope is one message on the wire. Payload is kept raw; the core never
// looks inside it.
type Envelope struct {
	Kind         string          `json:"kind"`
	Channel      string          `json:"channel,omitempty"`
	Priority     *int            `json:"priority,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Notification *notify.Event   `json:"notification,omitempty"`
}

// Sink receives decoded traffic. dashboard.Core[json.RawMessage] satisfies it.
type Sink interface {
	OnUpdate(channel string, payload json.RawMessage, priority ...int)
	OnConnectionChange(state connection.State)
	OnConnectionError(err error)
	OnNotification(ev notify.Event)
}

// Decode parses and validates one frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch env.Kind {
	case KindUpdate:
		if env.Channel == "" {
			return env, fmt.Errorf("%w: update without channel", ErrDecode)
		}
	case KindNotification:
		if env.Notification == nil {
			return env, fmt.Errorf("%w: notification without body", ErrDecode)
		}
	default:
		return env, fmt.Errorf("%w: unknown kind %q", ErrDecode, env.Kind)
	}
	return env, nil
}

// Dispatch hands a decoded envelope to the matching ingress callback.
func Dispatch(sink Sink, env Envelope) {
	switch env.Kind {
	case KindUpdate:
		if env.Priority != nil {
			sink.OnUpdate(env.Channel, env.Payload, *env.Priority)
			return
		}
		sink.OnUpdate(env.Channel, env.Payload)
	case KindNotification:
		sink.OnNotification(*env.Notification)
	}
}
