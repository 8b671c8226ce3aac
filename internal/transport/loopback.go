package transport

import "net"

// NewLoopback returns two connected Transports, writes to one observable
// as reads on the other, for exercising a muxer/demuxer pair without a
// real socket. It is the Go-native analogue of the reference test suite's
// MockSockets.h pipe fixture.
func NewLoopback() (a, b Transport) {
	connA, connB := net.Pipe()
	return NewTCP(connA), NewTCP(connB)
}
