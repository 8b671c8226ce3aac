// Package protocol implements the wire-level contract shared by the muxer
// and the demuxer: packet type ids, the packet value type, control
// messages, and the framing codec that turns packets into bytes and back.
package protocol

import "fmt"

// PacketTypeId identifies the application type of a packet. Two ids are
// reserved: Invalid never appears on the wire, Control tags heartbeat and
// handshake records.
type PacketTypeId uint32

const (
	// Invalid is the zero id. A packet carrying it is either a zero value
	// (not yet constructed) or, on the wire, a fatal framing error.
	Invalid PacketTypeId = 0
	// Control tags heartbeat, hello and goodbye records.
	Control PacketTypeId = 1
)

const (
	invalidName = "<invalid>"
	controlName = "<control>"
)

// IdRegistry maps packet type names to dense ids and back. It is built once
// from an ordered list of names and is immutable and safe for concurrent
// use afterwards. Two peers constructed with the same name list agree on
// ids without negotiation.
type IdRegistry struct {
	byName map[string]PacketTypeId
	byID   []string
}

// NewIdRegistry builds a registry from an ordered list of unique
// application names. Ids are assigned 2, 3, ... in the given order; 0 and 1
// are always <invalid> and <control>. Duplicate names, or names that
// collide with the two reserved names, are a configuration error.
func NewIdRegistry(names []string) (*IdRegistry, error) {
	r := &IdRegistry{
		byName: make(map[string]PacketTypeId, len(names)+2),
		byID:   make([]string, 0, len(names)+2),
	}
	r.byName[invalidName] = Invalid
	r.byID = append(r.byID, invalidName)
	r.byName[controlName] = Control
	r.byID = append(r.byID, controlName)

	for _, name := range names {
		if name == invalidName || name == controlName {
			return nil, fmt.Errorf("protocol: %q is a reserved packet type name", name)
		}
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("protocol: duplicate packet type name %q", name)
		}
		id := PacketTypeId(len(r.byID))
		r.byName[name] = id
		r.byID = append(r.byID, name)
	}
	return r, nil
}

// IDOf resolves a registered name to its id. Looking up an unregistered
// name is a programmer error and is reported through the error return
// rather than a panic, so callers at a trust boundary (e.g. a config file
// naming a packet type) can surface it cleanly.
func (r *IdRegistry) IDOf(name string) (PacketTypeId, error) {
	id, ok := r.byName[name]
	if !ok {
		return Invalid, fmt.Errorf("protocol: unknown packet type name %q: %w", name, ErrUnknownName)
	}
	return id, nil
}

// NameOf resolves an id to its registered name. An id outside [0, N) is a
// programmer error.
func (r *IdRegistry) NameOf(id PacketTypeId) (string, error) {
	if int(id) >= len(r.byID) {
		return "", fmt.Errorf("protocol: unknown packet type id %d: %w", id, ErrUnknownID)
	}
	return r.byID[id], nil
}

// Len returns the number of ids in the registry, including the two
// reserved ones.
func (r *IdRegistry) Len() int {
	return len(r.byID)
}

// OrderedIDs returns every non-reserved-invalid id (Control plus every
// application id) in ascending order. This is the fixed priority order the
// muxer's sender loop drains queues in: Control first, then application
// types in registration order.
func (r *IdRegistry) OrderedIDs() []PacketTypeId {
	ids := make([]PacketTypeId, 0, len(r.byID)-1)
	for i := 1; i < len(r.byID); i++ {
		ids = append(ids, PacketTypeId(i))
	}
	return ids
}

// ApplicationNames returns every registered application name (excluding
// the two reserved names) in registration order.
func (r *IdRegistry) ApplicationNames() []string {
	if len(r.byID) <= 2 {
		return nil
	}
	names := make([]string, len(r.byID)-2)
	copy(names, r.byID[2:])
	return names
}
