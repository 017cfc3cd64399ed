package transport

import "errors"

var (
	ErrDecode          = errors.New("transport: malformed envelope")
	ErrUnsupportedKind = errors.New("transport: unsupported kind")
	ErrHandshake       = errors.New("transport: handshake rejected")
	ErrFrameTooLarge   = errors.New("transport: frame too large")
)
