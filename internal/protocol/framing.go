package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mpups/packetcomms/internal/transport"
)

// HeaderSize is the size in bytes of a frame header: a big-endian uint32
// type id followed by a big-endian uint32 payload size.
const HeaderSize = 8

// EncodeHeader writes a frame header for a packet of the given type and
// payload size into buf, which must be at least HeaderSize bytes.
func EncodeHeader(buf []byte, id PacketTypeId, size uint32) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(id))
	binary.BigEndian.PutUint32(buf[4:8], size)
}

// DecodeHeader reads a frame header from buf, which must be at least
// HeaderSize bytes.
func DecodeHeader(buf []byte) (id PacketTypeId, size uint32) {
	return PacketTypeId(binary.BigEndian.Uint32(buf[0:4])), binary.BigEndian.Uint32(buf[4:8])
}

// WriteFrame writes a full frame -- header followed by payload -- to t,
// retrying on the zero-byte-write-means-would-block signal a non-blocking
// transport may give. It returns ErrTransportFailure wrapping the
// underlying cause on any write error.
func WriteFrame(t transport.Transport, p *Packet) error {
	var header [HeaderSize]byte
	EncodeHeader(header[:], p.Type(), uint32(len(p.Payload())))

	if err := writeAll(t, header[:]); err != nil {
		return err
	}
	if len(p.Payload()) > 0 {
		if err := writeAll(t, p.Payload()); err != nil {
			return err
		}
	}
	return nil
}

func writeAll(t transport.Transport, buf []byte) error {
	for len(buf) > 0 {
		n, err := t.Write(buf)
		if err != nil {
			return fmt.Errorf("protocol: write failed: %w: %w", ErrTransportFailure, err)
		}
		if n < 0 {
			return fmt.Errorf("protocol: write returned negative count: %w", ErrTransportFailure)
		}
		buf = buf[n:]
		// A zero-byte write on a non-blocking transport means "would
		// block"; retry until the whole frame is flushed.
	}
	return nil
}

// ReadFrame reads one full frame from t: a header followed by exactly
// size payload bytes. maxPayload bounds the payload size a peer may
// request; a larger declared size is a framing violation. Any read
// returning a negative count, or end-of-stream mid-frame, is reported as
// ErrTransportFailure.
func ReadFrame(t transport.Transport, maxPayload int) (*Packet, error) {
	var header [HeaderSize]byte
	if err := readExact(t, header[:], true); err != nil {
		return nil, err
	}
	id, size := DecodeHeader(header[:])

	if id == Invalid {
		return nil, fmt.Errorf("protocol: received type Invalid on the wire: %w: %w", ErrTransportFailure, ErrFramingViolation)
	}
	if size > uint32(maxPayload) {
		return nil, fmt.Errorf("protocol: payload size %d exceeds ceiling %d: %w: %w", size, maxPayload, ErrTransportFailure, ErrFramingViolation)
	}

	payload := make([]byte, size)
	if size > 0 {
		if err := readExact(t, payload, false); err != nil {
			return nil, err
		}
	}
	return NewPacket(id, payload), nil
}

// readExact reads len(buf) bytes from t, blocking across multiple Read
// calls as needed. firstReadIsHeader governs the conservative "zero bytes
// on the first read of a frame means end-of-stream" heuristic: treated as
// an error despite the unsoundness (a transport could legitimately return
// zero bytes without being closed), since a live connection emits a
// heartbeat often enough that a genuine zero-byte read should not occur.
func readExact(t transport.Transport, buf []byte, firstReadIsHeader bool) error {
	read := 0
	for read < len(buf) {
		n, err := t.Read(buf[read:])
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("protocol: unexpected end of stream: %w", ErrTransportFailure)
			}
			return fmt.Errorf("protocol: read failed: %w: %w", ErrTransportFailure, err)
		}
		if n < 0 {
			return fmt.Errorf("protocol: read returned negative count: %w", ErrTransportFailure)
		}
		if n == 0 && read == 0 && firstReadIsHeader {
			return fmt.Errorf("protocol: zero-byte read on frame header: %w", ErrTransportFailure)
		}
		read += n
	}
	return nil
}
