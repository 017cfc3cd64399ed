package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
)

var _ Dialer = (*SSEDialer)(nil)

const maxEventSize = 1 << 20

// SSEDialer reads envelopes from the data field of server-sent events. The
// last seen event id is sent back on reconnect so the server may resume.
type SSEDialer struct {
	url    string
	header http.Header
	client *http.Client

	mu          sync.Mutex
	lastEventID string
}

func NewSSEDialer(opts Options) *SSEDialer {
	opts = opts.withDefaults()
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = opts.HandshakeTimeout
	if opts.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &SSEDialer{
		url:    opts.URL,
		header: headers(opts.Headers),
		// no client timeout: the body is a stream
		client: &http.Client{Transport: tr},
	}
}

func (d *SSEDialer) Dial(ctx context.Context) (Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range d.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := d.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s answered %d", ErrHandshake, d.url, resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: content type %q", ErrHandshake, mt)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)
	return &sseSession{dialer: d, body: resp.Body, scanner: sc}, nil
}

func (d *SSEDialer) LastEventID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastEventID
}

func (d *SSEDialer) setLastEventID(id string) {
	d.mu.Lock()
	d.lastEventID = id
	d.mu.Unlock()
}

type sseSession struct {
	dialer  *SSEDialer
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the data of the next event with a non-empty data field.
// Multi-line data is joined with newlines.
func (s *sseSession) Next(context.Context) ([]byte, error) {
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "id":
			s.dialer.setLastEventID(value)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		return []byte(strings.Join(data, "\n")), nil
	}
	return nil, io.EOF
}

func (s *sseSession) Close() error {
	return s.body.Close()
}
