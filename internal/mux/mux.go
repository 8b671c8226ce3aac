// Package mux implements the sending half of the packet multiplexing
// layer: a thread-safe post operation backed by per-type FIFO queues and a
// single dedicated sender goroutine that frames queued packets onto a
// transport, emitting the hello handshake and idle heartbeats along the
// way.
package mux

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpups/packetcomms/internal/protocol"
	"github.com/mpups/packetcomms/internal/transport"
)

// defaultHeartbeatInterval is how long the sender waits for new work
// before emitting a Control(HeartBeat) record to keep the connection from
// going quiet, when Options.HeartbeatInterval is left unset.
const defaultHeartbeatInterval = time.Second

// Options configures a Muxer beyond its transport and registry.
type Options struct {
	// HeartbeatInterval is how long the sender waits for new work before
	// emitting an idle heartbeat. Zero selects defaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	Logger            *log.Logger
}

// Muxer serialises packets posted from any number of producer goroutines
// into a single framed byte stream on one transport. One Muxer owns
// exactly one transport and exactly one sender goroutine.
type Muxer struct {
	registry          *protocol.IdRegistry
	transport         transport.Transport
	logger            *log.Logger
	heartbeatInterval time.Duration

	mu     sync.Mutex
	queues map[protocol.PacketTypeId][]*protocol.Packet
	posted uint32

	sent    uint32 // only ever written by the sender goroutine
	errFlag atomic.Bool
	lastErr atomic.Value // error

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// New starts a Muxer sending over t using the given packet type registry.
// The sender goroutine is started immediately and posts the initial Hello
// record before anything else reaches the wire.
func New(t transport.Transport, registry *protocol.IdRegistry, opts Options) *Muxer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	if err := t.SetBlocking(false); err != nil {
		logger.Printf("[mux] SetBlocking(false) failed: %v", err)
	}

	m := &Muxer{
		registry:          registry,
		transport:         t,
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		queues:            make(map[protocol.PacketTypeId][]*protocol.Packet, registry.Len()),
		signal:            make(chan struct{}, 1),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	go m.sendLoop()
	return m
}

// Post resolves name to a packet type id, enqueues payload for sending and
// wakes the sender goroutine. It never blocks on the transport and is safe
// to call from any number of goroutines concurrently.
func (m *Muxer) Post(name string, payload []byte) error {
	id, err := m.registry.IDOf(name)
	if err != nil {
		return err
	}
	m.enqueue(id, protocol.NewPacketCopy(id, payload))
	return nil
}

func (m *Muxer) enqueue(id protocol.PacketTypeId, p *protocol.Packet) {
	m.mu.Lock()
	m.queues[id] = append(m.queues[id], p)
	m.posted++
	m.mu.Unlock()
	m.wake()
}

func (m *Muxer) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Ok reports whether the muxer is still healthy. It becomes false
// permanently on the first transport failure.
func (m *Muxer) Ok() bool {
	return !m.errFlag.Load()
}

// Err returns the error that caused Ok to become false, or nil while the
// muxer is still healthy.
func (m *Muxer) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// PostedCount returns the number of packets posted so far, including
// internally generated control packets.
func (m *Muxer) PostedCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted
}

// SentCount returns the number of packets the sender has fully flushed to
// the transport so far.
func (m *Muxer) SentCount() uint32 {
	return atomic.LoadUint32(&m.sent)
}

// Close signals the sender goroutine to stop, joins it and discards any
// packets still queued. It is safe to call more than once.
func (m *Muxer) Close() error {
	m.errFlag.Store(true)
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
	return m.Err()
}

func (m *Muxer) fail(err error) {
	if m.errFlag.CompareAndSwap(false, true) {
		m.lastErr.Store(err)
		m.logger.Printf("[mux] transport failure, shutting down: %v", err)
	}
}

func (m *Muxer) sendLoop() {
	defer close(m.done)

	// Step 1: Hello is the very first record on the wire.
	m.enqueue(protocol.Control, protocol.NewControlPacket(protocol.Hello))

	for {
		if m.errFlag.Load() {
			return
		}

		batch := m.drainReady()
		if batch == nil {
			select {
			case <-m.stop:
				return
			case <-m.signal:
				continue
			case <-time.After(m.heartbeatInterval):
				m.enqueue(protocol.Control, protocol.NewControlPacket(protocol.HeartBeat))
				continue
			}
		}

		for _, p := range batch {
			select {
			case <-m.stop:
				return
			default:
			}
			if err := protocol.WriteFrame(m.transport, p); err != nil {
				m.fail(err)
				return
			}
			atomic.AddUint32(&m.sent, 1)
		}
	}
}

// drainReady takes every currently queued packet across all types, in the
// registry's fixed priority order, and clears the queues. It returns nil
// if nothing was queued (posted == sent), the sender's wait condition.
func (m *Muxer) drainReady() []*protocol.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.posted == atomic.LoadUint32(&m.sent) {
		return nil
	}

	var batch []*protocol.Packet
	for _, id := range m.registry.OrderedIDs() {
		if q := m.queues[id]; len(q) > 0 {
			batch = append(batch, q...)
			m.queues[id] = m.queues[id][:0]
		}
	}
	return batch
}
