package protocol

import "errors"

var (
	// ErrUnknownName is returned by IdRegistry.IDOf for an unregistered name.
	ErrUnknownName = errors.New("protocol: unknown packet type name")
	// ErrUnknownID is returned by IdRegistry.NameOf for an out-of-range id.
	ErrUnknownID = errors.New("protocol: unknown packet type id")
	// ErrTransportFailure marks a sticky, fatal transport condition: a
	// negative read/write, an unexpected end of stream on the receive
	// path, or a framing violation.
	ErrTransportFailure = errors.New("protocol: transport failure")
	// ErrFramingViolation is a more specific ErrTransportFailure: receipt
	// of type == Invalid, an oversized payload, or a failed hello check.
	// Callers that only check Ok() cannot tell the two apart; both are
	// permanent, unrecoverable failures of the same connection.
	ErrFramingViolation = errors.New("protocol: framing violation")
)
