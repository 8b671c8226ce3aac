package protocol

// MaxPayloadBytes is the default ceiling the framing codec enforces on an
// incoming payload size, guarding against a bad peer forcing an unbounded
// allocation. 16 MiB matches the largest payload any of this repository's
// own packet types ever produces with headroom to spare.
const MaxPayloadBytes = 16 * 1024 * 1024

// Packet is a type-tagged byte buffer, the unit of transfer between a
// muxer and a demuxer. The zero value is the "moved-from" state: type
// Invalid, empty payload.
//
// Packet is shared by reference once posted or received: the muxer holds
// the last reference to an outbound packet until the write completes, and
// every subscriber of an inbound packet may retain its reference for as
// long as it likes. Callers must not mutate a Packet's payload once it has
// been posted or dispatched to more than one reader.
type Packet struct {
	id      PacketTypeId
	payload []byte
}

// NewPacket constructs a packet that takes ownership of payload without
// copying it. Use this when the caller already has a buffer it will not
// touch again (e.g. bytes just read off the wire).
func NewPacket(id PacketTypeId, payload []byte) *Packet {
	return &Packet{id: id, payload: payload}
}

// NewPacketCopy constructs a packet from a copy of payload, leaving the
// caller's slice untouched.
func NewPacketCopy(id PacketTypeId, payload []byte) *Packet {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Packet{id: id, payload: buf}
}

// NewPacketSized constructs a packet with a zero-filled payload buffer of
// the given size, ready for a reader to fill in place.
func NewPacketSized(id PacketTypeId, size int) *Packet {
	return &Packet{id: id, payload: make([]byte, size)}
}

// Type returns the packet's type id.
func (p *Packet) Type() PacketTypeId {
	return p.id
}

// Payload returns the packet's payload. The returned slice aliases the
// packet's internal buffer; callers that need to retain bytes beyond the
// packet's own lifetime should copy them.
func (p *Packet) Payload() []byte {
	return p.payload
}

// MoveTo transfers this packet's contents into dst and resets the receiver
// to the moved-from state (Invalid, empty). dst's previous contents are
// discarded.
func (p *Packet) MoveTo(dst *Packet) {
	dst.id, p.id = p.id, Invalid
	dst.payload, p.payload = p.payload, nil
}
