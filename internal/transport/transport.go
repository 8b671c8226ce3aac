// Package transport defines the abstract byte-stream capability the muxer
// and demuxer are built against, and provides a TCP-backed implementation.
// Reliable delivery, addressing, and dialing are an external collaborator's
// job; this package only supplies the minimal capability set the core
// needs to drive an already-connected byte stream.
package transport

import "time"

// Transport is the capability set a muxer or demuxer needs from the
// underlying byte stream: switch blocking mode, write, read, and poll for
// readability. It is deliberately narrower than net.Conn, so the core can
// run against anything that looks like a socket -- a real TCP connection,
// an in-memory pipe for tests, or a future QUIC/unix-domain implementation.
type Transport interface {
	// SetBlocking switches the transport between blocking and
	// non-blocking mode. The core puts the transport into non-blocking
	// mode at construction.
	SetBlocking(blocking bool) error

	// Write writes up to len(p) bytes. It returns the number of bytes
	// written, 0 with a nil error if the call would have blocked in
	// non-blocking mode, or a non-nil error on a fatal transport
	// condition.
	Write(p []byte) (n int, err error)

	// Read reads up to len(p) bytes into p. It returns the number of
	// bytes read, 0 with a nil error if none were available in
	// non-blocking mode, or a non-nil error (including io.EOF) on a
	// fatal transport condition.
	Read(p []byte) (n int, err error)

	// ReadyForReading waits up to timeout for the transport to become
	// readable, returning true if it is. A timeout of 0 polls; a
	// negative timeout waits indefinitely.
	ReadyForReading(timeout time.Duration) (bool, error)
}
