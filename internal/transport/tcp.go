package transport

import (
	"bufio"
	"net"
	"time"
)

// TCP adapts a net.Conn to the Transport interface. Go's net.Conn has no
// native non-blocking mode; SetBlocking is accepted for interface
// compliance. ReadyForReading is built on a read deadline instead, and
// Write blocks until done or failed with no deadline.
type TCP struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCP wraps conn for use as a Transport.
func NewTCP(conn net.Conn) *TCP {
	return &TCP{conn: conn, reader: bufio.NewReader(conn)}
}

// SetBlocking is a no-op: net.Conn reads/writes always block the calling
// goroutine, and ReadyForReading/deadlines provide the non-blocking
// behaviour the core needs.
func (t *TCP) SetBlocking(blocking bool) error {
	return nil
}

// Write writes p in full or returns an error; net.Conn.Write already
// blocks until done or failed, so partial non-blocking writes never occur
// here.
func (t *TCP) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Read reads through the transport's buffered reader so ReadyForReading's
// Peek does not discard look-ahead bytes.
func (t *TCP) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

// ReadyForReading sets a read deadline of timeout and attempts a
// non-consuming Peek. A deadline expiring with nothing available reports
// not-ready rather than an error.
func (t *TCP) ReadyForReading(timeout time.Duration) (bool, error) {
	if timeout < 0 {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return false, err
		}
	} else if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}

	_, err := t.reader.Peek(1)
	if err == nil {
		return true, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false, nil
	}
	return false, err
}

// Close releases the underlying connection.
func (t *TCP) Close() error {
	return t.conn.Close()
}
