package protocol

// ControlMessage is the single-byte payload carried by every Control
// packet.
type ControlMessage byte

const (
	// HeartBeat is emitted by an idle muxer to keep a quiet connection
	// alive.
	HeartBeat ControlMessage = 0x00
	// Hello must be the first record on any new connection, in either
	// direction. It is an accident-detection device, not a security
	// boundary.
	Hello ControlMessage = 0xFE
	// GoodBye is defined for wire compatibility with peers that send it,
	// but is never emitted by this muxer's sender loop: there is no
	// graceful-close handshake, only hard transport failure.
	GoodBye ControlMessage = 0xFF
)

// NewControlPacket builds a Control packet carrying a single control byte.
func NewControlPacket(msg ControlMessage) *Packet {
	return NewPacket(Control, []byte{byte(msg)})
}

// AsControlMessage reads a packet's first payload byte as a ControlMessage.
// ok is false if the packet is not a Control packet or carries an empty
// payload.
func AsControlMessage(p *Packet) (msg ControlMessage, ok bool) {
	if p.Type() != Control || len(p.Payload()) == 0 {
		return 0, false
	}
	return ControlMessage(p.Payload()[0]), true
}
