// Package transport connects the dashboard core to a live event source.
// Adapters for WebSocket, SSE and QUIC decode wire envelopes and drive the
// core's ingress callbacks; the core itself never sees the protocol.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zeusync/pulse/internal/core/connection"
	"github.com/zeusync/pulse/internal/core/observability/log"
)

const (
	DefaultReconnectMin     = time.Second
	DefaultReconnectBurst   = 3
	DefaultHandshakeTimeout = 10 * time.Second
)

// Session is one established link. Next blocks until the next frame and
// returns io.EOF when the peer closed cleanly.
type Session interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens sessions to one endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Options describe the endpoint and the reconnect policy.
type Options struct {
	Kind             string
	URL              string
	Headers          map[string]string
	HandshakeTimeout time.Duration
	InsecureTLS      bool
	// ReconnectMin is the average spacing of dial attempts once the burst
	// is spent.
	ReconnectMin   time.Duration
	ReconnectBurst int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = DefaultReconnectMin
	}
	if o.ReconnectBurst <= 0 {
		o.ReconnectBurst = DefaultReconnectBurst
	}
	return o
}

// NewDialer picks the adapter for opts.Kind.
func NewDialer(opts Options) (Dialer, error) {
	opts = opts.withDefaults()
	switch opts.Kind {
	case "websocket", "ws":
		return NewWebSocketDialer(opts), nil
	case "sse":
		return NewSSEDialer(opts), nil
	case "quic":
		return NewQUICDialer(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, opts.Kind)
	}
}

type Stats struct {
	Sessions     uint64
	Frames       uint64
	DecodeErrors uint64
	DialErrors   uint64
}

// Client keeps a session open and feeds every frame to the sink. Connection
// state changes are reported through the sink only.
type Client struct {
	dialer  Dialer
	sink    Sink
	limiter *rate.Limiter
	logger  log.Log

	sessions     atomic.Uint64
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	dialErrors   atomic.Uint64
}

func NewClient(dialer Dialer, sink Sink, opts Options, logger log.Log) *Client {
	opts = opts.withDefaults()
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		dialer:  dialer,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectMin), opts.ReconnectBurst),
		logger:  logger.With(log.String("component", "transport"), log.String("kind", opts.Kind)),
	}
}

// Run dials, reads and redials until ctx is done. It returns nil on
// cancellation; transport failures never end the loop.
func (c *Client) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			c.sink.OnConnectionChange(connection.StateDisconnected)
			return nil
		}
		if attempt > 0 {
			c.sink.OnConnectionChange(connection.StateConnecting)
		}

		sess, err := c.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.sink.OnConnectionChange(connection.StateDisconnected)
				return nil
			}
			c.dialErrors.Add(1)
			c.logger.Warn("Dial failed", log.Int("attempt", attempt), log.Error(err))
			c.sink.OnConnectionError(err)
			continue
		}

		id := uuid.NewString()
		c.sessions.Add(1)
		c.logger.Info("Session established", log.String("session_id", id))
		c.sink.OnConnectionChange(connection.StateConnected)

		err = c.consume(ctx, sess)
		_ = sess.Close()

		switch {
		case ctx.Err() != nil:
			c.sink.OnConnectionChange(connection.StateDisconnected)
			return nil
		case err == nil || errors.Is(err, io.EOF):
			c.logger.Info("Session closed by peer", log.String("session_id", id))
			c.sink.OnConnectionChange(connection.StateDisconnected)
		default:
			c.logger.Warn("Session failed", log.String("session_id", id), log.Error(err))
			c.sink.OnConnectionError(err)
		}
	}
}

func (c *Client) consume(ctx context.Context, sess Session) error {
	// unblock reads that do not watch ctx
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	for {
		frame, err := sess.Next(ctx)
		if err != nil {
			return err
		}
		c.frames.Add(1)

		env, err := Decode(frame)
		if err != nil {
			c.decodeErrors.Add(1)
			c.logger.Warn("Frame dropped", log.Int("bytes", len(frame)), log.Error(err))
			continue
		}
		Dispatch(c.sink, env)
	}
}

func (c *Client) Stats() Stats {
	return Stats{
		Sessions:     c.sessions.Load(),
		Frames:       c.frames.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		DialErrors:   c.dialErrors.Load(),
	}
}
