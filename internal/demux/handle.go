package demux

import "sync"

// Handle is a scoped token for one subscription. It is constructed only by
// Demuxer.Subscribe. Go has no deterministic destructors, so a Handle does
// not unsubscribe itself when it becomes unreachable: callers must call
// Close explicitly, exactly as they would for any other io.Closer-shaped
// resource.
//
// A Handle may be closed from inside its own callback: dispatch holds the
// subscription lock only while it copies the subscriber list, so this does
// not deadlock, and the callback is not invoked for any later packet.
// A Close from another goroutine that races with a dispatch may still see
// the callback invoked once by a dispatch that took its snapshot before
// the Close.
type Handle struct {
	demuxer *Demuxer
	record  *subscriberRecord

	mu     sync.Mutex
	closed bool
}

// IsSubscribed reports whether the underlying subscriber record is still
// registered with the demuxer.
func (h *Handle) IsSubscribed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Close removes the subscription from the demuxer. It is idempotent: a
// second call returns nil without error.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.demuxer.unsubscribe(h.record)
}
