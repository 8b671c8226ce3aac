package transport

import (
	"testing"
	"time"
)

func TestLoopbackRoundTrip(t *testing.T) {
	a, b := NewLoopback()

	msg := []byte("ping")
	done := make(chan struct{})
	go func() {
		if _, err := a.Write(msg); err != nil {
			t.Errorf("Write: %v", err)
		}
		close(done)
	}()

	ready, err := b.ReadyForReading(time.Second)
	if err != nil {
		t.Fatalf("ReadyForReading: %v", err)
	}
	if !ready {
		t.Fatal("ReadyForReading = false, want true once a has written")
	}

	buf := make([]byte, len(msg))
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("Read = %q, want %q", buf[:n], msg)
	}
	<-done
}

func TestLoopbackReadyForReadingTimesOutWhenIdle(t *testing.T) {
	_, b := NewLoopback()
	ready, err := b.ReadyForReading(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadyForReading: %v", err)
	}
	if ready {
		t.Fatal("ReadyForReading = true on an idle transport, want false")
	}
}

func TestFailingWriterAlwaysFails(t *testing.T) {
	tr := NewFailingWriter()
	if _, err := tr.Write([]byte("x")); err == nil {
		t.Fatal("Write: expected error, got nil")
	}
}

func TestFailingReaderAlwaysFails(t *testing.T) {
	tr := NewFailingReader()
	buf := make([]byte, 4)
	if _, err := tr.Read(buf); err == nil {
		t.Fatal("Read: expected error, got nil")
	}
}
