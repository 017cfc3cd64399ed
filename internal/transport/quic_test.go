package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodec(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"kind":"update"}`)))
	require.NoError(t, WriteFrame(&buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 17}, buf.Bytes()[:4])

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"update"}`, string(got))

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameTruncated(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 8, 'a', 'b'})
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameTooLarge(t *testing.T) {
	r := bytes.NewReader([]byte{0xff, 0, 0, 0})
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	err = WriteFrame(io.Discard, make([]byte, maxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestQUICDialerEndpoint(t *testing.T) {
	d, err := NewQUICDialer(Options{URL: "quic://example.org:4242/feed"})
	require.NoError(t, err)
	assert.Equal(t, "example.org:4242", d.addr)
	assert.Equal(t, "/feed", d.path)
	assert.Equal(t, []string{QUICProtocol}, d.tls.NextProtos)

	d, err = NewQUICDialer(Options{URL: "10.0.0.1:4242"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:4242", d.addr)
}
