package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var _ Dialer = (*WebSocketDialer)(nil)

// WebSocketDialer reads envelopes from text or binary WebSocket messages.
type WebSocketDialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

func NewWebSocketDialer(opts Options) *WebSocketDialer {
	opts = opts.withDefaults()
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if opts.InsecureTLS {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &WebSocketDialer{
		url:    opts.URL,
		header: headers(opts.Headers),
		dialer: d,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Session, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s answered %d", ErrHandshake, d.url, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	return &wsSession{conn: conn}, nil
}

type wsSession struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (s *wsSession) Next(context.Context) ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (s *wsSession) Close() (err error) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func headers(in map[string]string) http.Header {
	h := make(http.Header, len(in))
	for k, v := range in {
		h.Set(k, v)
	}
	return h
}
