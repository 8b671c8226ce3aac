// Package demux implements the receiving half of the packet multiplexing
// layer: a single dedicated receiver goroutine that parses framed packets
// off a transport and fans each one out, synchronously, to every live
// subscriber registered for its type.
package demux

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpups/packetcomms/internal/protocol"
	"github.com/mpups/packetcomms/internal/transport"
)

// defaultHelloTimeout is how long the receiver waits for the first record
// on a fresh connection before giving up, when Options.HelloTimeout is
// left unset.
const defaultHelloTimeout = 2000 * time.Millisecond

// pollInterval is how long ReadyForReading is given per iteration of the
// main receive loop.
const pollInterval = 1000 * time.Millisecond

// Callback is invoked synchronously on the receiver goroutine for every
// packet delivered to a subscription. It must not block indefinitely;
// long work must be handed off to another goroutine.
type Callback func(p *protocol.Packet)

type subscriberRecord struct {
	id       protocol.PacketTypeId
	callback Callback
}

// Demuxer parses one byte stream into many logical packet streams and
// dispatches each to its subscribers. One Demuxer owns exactly one
// transport and exactly one receiver goroutine.
type Demuxer struct {
	registry     *protocol.IdRegistry
	transport    transport.Transport
	logger       *log.Logger
	maxPayload   int
	helloTimeout time.Duration
	onControl    func(protocol.ControlMessage)

	mu            sync.Mutex
	subscriptions map[protocol.PacketTypeId][]*subscriberRecord

	errFlag atomic.Bool
	lastErr atomic.Value // error

	done chan struct{}
}

// Options configures a Demuxer beyond its transport and registry.
type Options struct {
	// MaxPayloadBytes bounds an incoming packet's declared payload size.
	// Zero selects protocol.MaxPayloadBytes.
	MaxPayloadBytes int
	// HelloTimeout bounds the wait for the first record on a fresh
	// connection. Zero selects defaultHelloTimeout.
	HelloTimeout time.Duration
	Logger       *log.Logger
	// OnControl, if set, is invoked synchronously on the receiver
	// goroutine for every Control packet observed, after the built-in
	// handling in handleControl. This is the hook a session.Registry
	// uses to refresh a connection's liveness TTL on every heartbeat.
	OnControl func(protocol.ControlMessage)
}

// New starts a Demuxer receiving from t using the given packet type
// registry. The receiver goroutine is started immediately.
func New(t transport.Transport, registry *protocol.IdRegistry, opts Options) *Demuxer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	maxPayload := opts.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = protocol.MaxPayloadBytes
	}
	helloTimeout := opts.HelloTimeout
	if helloTimeout <= 0 {
		helloTimeout = defaultHelloTimeout
	}
	if err := t.SetBlocking(false); err != nil {
		logger.Printf("[demux] SetBlocking(false) failed: %v", err)
	}

	d := &Demuxer{
		registry:      registry,
		transport:     t,
		logger:        logger,
		maxPayload:    maxPayload,
		helloTimeout:  helloTimeout,
		onControl:     opts.OnControl,
		subscriptions: make(map[protocol.PacketTypeId][]*subscriberRecord, registry.Len()),
		done:          make(chan struct{}),
	}
	go d.receiveLoop()
	return d
}

// Subscribe registers callback to be invoked for every packet of the
// named type, returning a Handle whose Close removes the subscription.
func (d *Demuxer) Subscribe(name string, callback Callback) (*Handle, error) {
	id, err := d.registry.IDOf(name)
	if err != nil {
		return nil, err
	}
	rec := &subscriberRecord{id: id, callback: callback}

	d.mu.Lock()
	d.subscriptions[id] = append(d.subscriptions[id], rec)
	d.mu.Unlock()

	return &Handle{demuxer: d, record: rec}, nil
}

// unsubscribe removes rec from its type's subscriber list. Removing a
// record that is not present is a programmer error, reported as
// ErrNotSubscribed rather than a panic. A Handle closed twice never gets
// here: Handle.Close returns nil on its second call.
func (d *Demuxer) unsubscribe(rec *subscriberRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.subscriptions[rec.id]
	for i, r := range list {
		if r == rec {
			d.subscriptions[rec.id] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotSubscribed
}

// Ok reports whether the demuxer is still healthy. It becomes false
// permanently on the first transport failure, including a failed hello
// check.
func (d *Demuxer) Ok() bool {
	return !d.errFlag.Load()
}

// Err returns the error that caused Ok to become false, or nil while the
// demuxer is still healthy.
func (d *Demuxer) Err() error {
	if v := d.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close signals the receiver goroutine to stop, joins it, and logs any
// subscriptions still registered as leaked.
func (d *Demuxer) Close() error {
	d.errFlag.Store(true)
	<-d.done

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, list := range d.subscriptions {
		for range list {
			name, _ := d.registry.NameOf(id)
			d.logger.Printf("[demux] leaked subscription on type %q at shutdown", name)
		}
	}
	return d.Err()
}

func (d *Demuxer) fail(err error) {
	if d.errFlag.CompareAndSwap(false, true) {
		d.lastErr.Store(err)
		d.logger.Printf("[demux] transport failure, shutting down: %v", err)
	}
}

func (d *Demuxer) receiveLoop() {
	defer close(d.done)

	if !d.waitForHello() {
		return
	}

	for {
		if d.errFlag.Load() {
			return
		}

		ready, err := d.transport.ReadyForReading(pollInterval)
		if err != nil {
			d.fail(fmt.Errorf("demux: poll failed: %w", err))
			return
		}
		if !ready {
			continue
		}

		p, err := protocol.ReadFrame(d.transport, d.maxPayload)
		if err != nil {
			d.fail(err)
			return
		}
		d.dispatch(p)
	}
}

// waitForHello enforces that the first record on a fresh connection must
// be Control(Hello). A read timeout leaves the demuxer quiet but still ok;
// anything else arriving first that is not Control(Hello) is a failed
// accident-detection check and marks the demuxer not-ok without ever
// reaching a subscriber.
func (d *Demuxer) waitForHello() bool {
	ready, err := d.transport.ReadyForReading(d.helloTimeout)
	if err != nil {
		d.fail(fmt.Errorf("demux: hello poll failed: %w", err))
		return false
	}
	if !ready {
		return true
	}

	p, err := protocol.ReadFrame(d.transport, d.maxPayload)
	if err != nil {
		d.fail(err)
		return false
	}

	msg, ok := protocol.AsControlMessage(p)
	if !ok || msg != protocol.Hello {
		d.fail(fmt.Errorf("demux: first record was not Control(Hello): %w: %w", protocol.ErrTransportFailure, protocol.ErrFramingViolation))
		return false
	}
	return true
}

// dispatch invokes every subscriber registered for p's type, synchronously,
// on the receiver goroutine. The subscriber list is snapshotted under the
// subscription lock and then iterated outside it, which lets a subscriber
// unsubscribe itself or another handle mid-callback without deadlocking
// against dispatch's own lock use.
func (d *Demuxer) dispatch(p *protocol.Packet) {
	if p.Type() == protocol.Control {
		d.handleControl(p)
		return
	}

	d.mu.Lock()
	list := d.subscriptions[p.Type()]
	snapshot := make([]*subscriberRecord, len(list))
	copy(snapshot, list)
	d.mu.Unlock()

	for _, rec := range snapshot {
		d.invoke(rec, p)
	}
}

// invoke runs a subscriber callback, recovering a panic into a transport
// failure rather than crashing the receiver goroutine: a misbehaving
// callback takes down its own connection instead of the whole process.
func (d *Demuxer) invoke(rec *subscriberRecord, p *protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			d.fail(fmt.Errorf("demux: subscriber callback panicked: %v", r))
		}
	}()
	rec.callback(p)
}

// handleControl dispatches a Control packet to the demuxer's own handler.
// HeartBeat and Hello (after the initial handshake) require no action
// beyond having been read; GoodBye has no reconnect protocol to trigger
// here.
func (d *Demuxer) handleControl(p *protocol.Packet) {
	msg, ok := protocol.AsControlMessage(p)
	if !ok {
		d.fail(fmt.Errorf("demux: malformed control packet: %w: %w", protocol.ErrTransportFailure, protocol.ErrFramingViolation))
		return
	}
	switch msg {
	case protocol.HeartBeat, protocol.Hello, protocol.GoodBye:
	default:
		d.logger.Printf("[demux] unrecognised control message 0x%02x", byte(msg))
	}
	if d.onControl != nil {
		d.onControl(msg)
	}
}

// ErrNotSubscribed is returned by Handle.Close (surfaced via the demuxer)
// when the underlying subscriber record is no longer registered.
var ErrNotSubscribed = errors.New("demux: subscriber record not registered")
