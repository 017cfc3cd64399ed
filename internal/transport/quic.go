package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

var _ Dialer = (*QUICDialer)(nil)

const (
	// QUICProtocol is the ALPN token the server must accept.
	QUICProtocol = "pulse-stream"
	maxFrameSize = 1 << 20
	frameHeader  = 4
)

// QUICDialer opens one bidirectional stream per session. The client writes a
// hello frame naming the requested path; the server answers with a sequence
// of length-prefixed envelopes.
type QUICDialer struct {
	addr string
	path string
	tls  *tls.Config
	quic *quic.Config
}

type hello struct {
	Session string `json:"session"`
	Path    string `json:"path,omitempty"`
}

// NewQUICDialer accepts quic://host:port/path or a bare host:port.
func NewQUICDialer(opts Options) (*QUICDialer, error) {
	opts = opts.withDefaults()
	addr, path := opts.URL, ""
	if u, err := url.Parse(opts.URL); err == nil && u.Host != "" {
		addr, path = u.Host, u.Path
	}
	if addr == "" {
		return nil, fmt.Errorf("%w: quic endpoint missing", ErrUnsupportedKind)
	}

	return &QUICDialer{
		addr: addr,
		path: path,
		tls: &tls.Config{
			InsecureSkipVerify: opts.InsecureTLS,
			NextProtos:         []string{QUICProtocol},
			MinVersion:         tls.VersionTLS13, // QUIC requires TLS 1.3
		},
		quic: &quic.Config{
			HandshakeIdleTimeout: opts.HandshakeTimeout,
			MaxIdleTimeout:       30 * time.Second,
			KeepAlivePeriod:      15 * time.Second,
		},
	}, nil
}

func (d *QUICDialer) Dial(ctx context.Context) (Session, error) {
	conn, err := quic.DialAddr(ctx, d.addr, d.tls.Clone(), d.quic)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, fmt.Errorf("open stream: %w", err)
	}

	b, _ := json.Marshal(hello{Session: uuid.NewString(), Path: d.path})
	if err := WriteFrame(stream, b); err != nil {
		_ = conn.CloseWithError(0, "hello")
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return &quicSession{conn: conn, stream: stream}, nil
}

type quicSession struct {
	conn      *quic.Conn
	stream    *quic.Stream
	closeOnce sync.Once
}

func (s *quicSession) Next(context.Context) ([]byte, error) {
	return ReadFrame(s.stream)
}

func (s *quicSession) Close() (err error) {
	s.closeOnce.Do(func() {
		_ = s.stream.Close()
		err = s.conn.CloseWithError(0, "client closed")
	})
	return err
}

// WriteFrame writes p behind a 4-byte big-endian length.
func WriteFrame(w io.Writer, p []byte) error {
	if len(p) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(p))
	}
	buf := make([]byte, frameHeader+len(p))
	binary.BigEndian.PutUint32(buf, uint32(len(p)))
	copy(buf[frameHeader:], p)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. A stream that ends between
// frames yields io.EOF; one that ends inside a frame yields
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeader]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}
