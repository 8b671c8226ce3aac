package protocol

import (
	"testing"

	"github.com/mpups/packetcomms/internal/transport"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf [HeaderSize]byte
	EncodeHeader(buf[:], 42, 1234)
	id, size := DecodeHeader(buf[:])
	if id != 42 || size != 1234 {
		t.Fatalf("DecodeHeader = (%d, %d), want (42, 1234)", id, size)
	}
}

func TestWriteFrameThenReadFrameRoundTrips(t *testing.T) {
	a, b := transport.NewLoopback()
	defer a.(interface{ Close() error }).Close()
	defer b.(interface{ Close() error }).Close()

	want := NewPacketCopy(7, []byte("hello world"))

	done := make(chan error, 1)
	go func() {
		done <- WriteFrame(a, want)
	}()

	got, err := ReadFrame(b, MaxPayloadBytes)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if got.Type() != want.Type() {
		t.Errorf("got.Type() = %d, want %d", got.Type(), want.Type())
	}
	if string(got.Payload()) != string(want.Payload()) {
		t.Errorf("got.Payload() = %q, want %q", got.Payload(), want.Payload())
	}
}

func TestReadFrameRejectsInvalidType(t *testing.T) {
	a, b := transport.NewLoopback()
	defer a.(interface{ Close() error }).Close()
	defer b.(interface{ Close() error }).Close()

	go func() {
		var header [HeaderSize]byte
		EncodeHeader(header[:], Invalid, 0)
		a.Write(header[:])
	}()

	if _, err := ReadFrame(b, MaxPayloadBytes); err == nil {
		t.Fatal("expected ReadFrame to reject type Invalid, got nil error")
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	a, b := transport.NewLoopback()
	defer a.(interface{ Close() error }).Close()
	defer b.(interface{ Close() error }).Close()

	go func() {
		var header [HeaderSize]byte
		EncodeHeader(header[:], 5, 1024)
		a.Write(header[:])
	}()

	if _, err := ReadFrame(b, 16); err == nil {
		t.Fatal("expected ReadFrame to reject an oversized payload, got nil error")
	}
}

func TestControlMessageRoundTrip(t *testing.T) {
	p := NewControlPacket(Hello)
	msg, ok := AsControlMessage(p)
	if !ok {
		t.Fatal("AsControlMessage returned ok = false for a Control packet")
	}
	if msg != Hello {
		t.Errorf("AsControlMessage = %v, want Hello", msg)
	}

	nonControl := NewPacketCopy(9, []byte{1})
	if _, ok := AsControlMessage(nonControl); ok {
		t.Error("AsControlMessage returned ok = true for a non-Control packet")
	}
}
