// Package transport abstracts the bidirectional frame connection so the
// socket layer is independent of the websocket library in use.
package transport

import "context"

// Conn is a single established connection carrying frames as opaque byte
// slices. Decoding happens above this layer so a malformed frame can be
// dropped without tearing the connection down.
type Conn interface {
	// Read reads the next inbound frame. It returns an error when the
	// connection is closed, locally or remotely.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one frame. Safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection and unblocks any pending Read.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer establishes connections. The production implementation dials a
// websocket; tests substitute an in-memory fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
