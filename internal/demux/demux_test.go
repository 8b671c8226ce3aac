package demux

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/mpups/packetcomms/internal/protocol"
	"github.com/mpups/packetcomms/internal/transport"
)

func newTestRegistry(t *testing.T) *protocol.IdRegistry {
	t.Helper()
	reg, err := protocol.NewIdRegistry([]string{"MockPacket", "Other"})
	if err != nil {
		t.Fatalf("NewIdRegistry: %v", err)
	}
	return reg
}

func sendHello(t *testing.T, tr transport.Transport) {
	t.Helper()
	if err := protocol.WriteFrame(tr, protocol.NewControlPacket(protocol.Hello)); err != nil {
		t.Fatalf("sendHello: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDemuxerRoundTripsPostedPackets(t *testing.T) {
	a, b := transport.NewLoopback()
	reg := newTestRegistry(t)
	d := New(b, reg, Options{})
	defer d.Close()

	sendHello(t, a)

	// received and count are only ever touched from the receiver
	// goroutine, inside the callback; the test goroutine only reads them
	// after <-done happens-after the final append.
	var received [][]byte
	done := make(chan struct{})
	count := 0
	if _, err := d.Subscribe("MockPacket", func(p *protocol.Packet) {
		received = append(received, append([]byte(nil), p.Payload()...))
		count++
		if count == 2 {
			close(done)
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	payload := []byte("01234567890") // 11 bytes
	go func() {
		id, _ := reg.IDOf("MockPacket")
		protocol.WriteFrame(a, protocol.NewPacketCopy(id, payload))
		protocol.WriteFrame(a, protocol.NewPacketCopy(id, payload))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not invoked twice in time")
	}

	if len(received) != 2 {
		t.Fatalf("received %d packets, want 2", len(received))
	}
	for i, got := range received {
		if len(got) != 11 || string(got) != string(payload) {
			t.Errorf("packet %d payload = %q, want %q", i, got, payload)
		}
	}
}

func TestDemuxerHelloGateRejectsNonHelloFirstRecord(t *testing.T) {
	a, b := transport.NewLoopback()
	reg := newTestRegistry(t)
	d := New(b, reg, Options{})
	defer d.Close()

	var invoked atomic.Bool
	if _, err := d.Subscribe("MockPacket", func(p *protocol.Packet) {
		invoked.Store(true)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	go func() {
		id, _ := reg.IDOf("MockPacket")
		protocol.WriteFrame(a, protocol.NewPacketCopy(id, []byte("not hello")))
	}()

	waitFor(t, 2*time.Second, func() bool { return !d.Ok() })
	if invoked.Load() {
		t.Error("subscriber was invoked despite a failed hello check")
	}
}

func TestSubscriptionHandleCloseRemovesExactlyOneSubscriber(t *testing.T) {
	a, b := transport.NewLoopback()
	reg := newTestRegistry(t)
	d := New(b, reg, Options{})
	defer d.Close()

	sendHello(t, a)

	var calledA, calledB atomic.Bool
	handleA, err := d.Subscribe("MockPacket", func(p *protocol.Packet) { calledA.Store(true) })
	if err != nil {
		t.Fatalf("Subscribe A: %v", err)
	}
	if _, err := d.Subscribe("MockPacket", func(p *protocol.Packet) { calledB.Store(true) }); err != nil {
		t.Fatalf("Subscribe B: %v", err)
	}

	if err := handleA.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if handleA.IsSubscribed() {
		t.Error("IsSubscribed() = true after Close")
	}

	done := make(chan struct{})
	go func() {
		id, _ := reg.IDOf("MockPacket")
		protocol.WriteFrame(a, protocol.NewPacketCopy(id, []byte("x")))
		close(done)
	}()
	<-done

	waitFor(t, time.Second, func() bool { return calledB.Load() })
	if calledA.Load() {
		t.Error("subscriber A was invoked after its handle was closed")
	}
}

func TestSubscribeThenImmediateDropInvokesNoCallback(t *testing.T) {
	a, b := transport.NewLoopback()
	reg := newTestRegistry(t)
	d := New(b, reg, Options{})
	defer d.Close()

	sendHello(t, a)

	var invoked atomic.Bool
	handle, err := d.Subscribe("MockPacket", func(p *protocol.Packet) { invoked.Store(true) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	otherInvoked := make(chan struct{})
	if _, err := d.Subscribe("Other", func(p *protocol.Packet) { close(otherInvoked) }); err != nil {
		t.Fatalf("Subscribe Other: %v", err)
	}

	go func() {
		mockID, _ := reg.IDOf("MockPacket")
		otherID, _ := reg.IDOf("Other")
		protocol.WriteFrame(a, protocol.NewPacketCopy(mockID, []byte("x")))
		protocol.WriteFrame(a, protocol.NewPacketCopy(otherID, []byte("y")))
	}()

	select {
	case <-otherInvoked:
	case <-time.After(2 * time.Second):
		t.Fatal("Other subscriber was never invoked")
	}
	if invoked.Load() {
		t.Error("dropped subscription's callback was invoked")
	}
}

func TestFramingErrorRejectsInvalidType(t *testing.T) {
	a, b := transport.NewLoopback()
	reg := newTestRegistry(t)
	d := New(b, reg, Options{})
	defer d.Close()

	var invoked atomic.Bool
	if _, err := d.Subscribe("MockPacket", func(p *protocol.Packet) { invoked.Store(true) }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	go func() {
		var header [protocol.HeaderSize]byte
		protocol.EncodeHeader(header[:], protocol.Invalid, 0)
		a.Write(header[:])
	}()

	waitFor(t, 2*time.Second, func() bool { return !d.Ok() })
	if invoked.Load() {
		t.Error("subscriber invoked after a type == Invalid framing error")
	}
}

func TestDemuxerFailsCleanlyOnReadError(t *testing.T) {
	reg := newTestRegistry(t)
	d := New(transport.NewFailingReader(), reg, Options{})

	waitFor(t, time.Second, func() bool { return !d.Ok() })

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not return promptly after transport failure")
	}
}
