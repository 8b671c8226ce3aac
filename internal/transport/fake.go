package transport

import (
	"errors"
	"time"
)

// ErrFakeTransport is returned by Failing's Write/Read when the
// corresponding fault is armed.
var ErrFakeTransport = errors.New("transport: simulated failure")

// Failing is a Transport whose Write and/or Read always fail, for
// exercising a muxer's or demuxer's clean-shutdown-on-transport-failure
// path without a real socket.
type Failing struct {
	FailWrite bool
	FailRead  bool
}

// NewFailingWriter returns a Transport whose Write always fails.
func NewFailingWriter() *Failing {
	return &Failing{FailWrite: true}
}

// NewFailingReader returns a Transport whose Read always fails.
func NewFailingReader() *Failing {
	return &Failing{FailRead: true}
}

func (f *Failing) SetBlocking(blocking bool) error { return nil }

func (f *Failing) Write(p []byte) (int, error) {
	if f.FailWrite {
		return -1, ErrFakeTransport
	}
	return len(p), nil
}

func (f *Failing) Read(p []byte) (int, error) {
	if f.FailRead {
		return -1, ErrFakeTransport
	}
	return 0, nil
}

func (f *Failing) ReadyForReading(timeout time.Duration) (bool, error) {
	if f.FailRead {
		return true, nil
	}
	if timeout > 0 {
		time.Sleep(timeout)
	}
	return false, nil
}
