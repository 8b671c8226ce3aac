// Package natsbridge republishes demuxed packets onto per-type NATS
// subjects and reinjects NATS messages as muxer posts, so the rest of a
// fleet can observe device traffic and push commands back down without
// holding the TCP connection itself.
package natsbridge

import (
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/mpups/packetcomms/internal/demux"
	"github.com/mpups/packetcomms/internal/mux"
	"github.com/mpups/packetcomms/internal/protocol"
)

// Out subscribes dmx to every application packet type in reg and
// republishes each packet's payload to "<subjectPrefix>.<typeName>". It
// returns the handles so the caller can unsubscribe on shutdown; closing
// them is the caller's responsibility.
func Out(nc *nats.Conn, subjectPrefix string, dmx *demux.Demuxer, reg *protocol.IdRegistry, logger *log.Logger) ([]*demux.Handle, error) {
	if logger == nil {
		logger = log.Default()
	}
	var handles []*demux.Handle
	for _, name := range reg.ApplicationNames() {
		name := name
		subject := fmt.Sprintf("%s.%s", subjectPrefix, name)
		h, err := dmx.Subscribe(name, func(p *protocol.Packet) {
			if err := nc.Publish(subject, p.Payload()); err != nil {
				logger.Printf("[natsbridge] publish to %s failed: %v", subject, err)
			}
		})
		if err != nil {
			for _, prior := range handles {
				prior.Close()
			}
			return nil, fmt.Errorf("natsbridge: subscribe %q: %w", name, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// In subscribes to subject on NATS and posts every message it receives to
// mx under typeName, reinjecting a downlink command onto the connection
// mx owns.
func In(nc *nats.Conn, subject string, mx *mux.Muxer, typeName string, logger *log.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = log.Default()
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := mx.Post(typeName, msg.Data); err != nil {
			logger.Printf("[natsbridge] post of NATS message from %s failed: %v", subject, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("natsbridge: subscribe %q: %w", subject, err)
	}
	return sub, nil
}
