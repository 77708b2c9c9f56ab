package edge

import (
	"net"

	"github.com/n3n-go/edge/internal/wire"
)

// handleDatagram decodes and dispatches one UDP datagram by message type,
// per spec.md §4.8's protocol state machine. Every branch is careful never
// to propagate an error upward: malformed input is logged and counted,
// not fatal, per spec.md §7.
func (e *Edge) handleDatagram(from *net.UDPAddr, data []byte) {
	h, body, err := wire.Decode(data, e.cfg.CommunityName)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		e.log.Debugf("decode failed from %s: %v", from, err)
		return
	}

	switch h.Type {
	case wire.MsgTypeRegisterSuperACK:
		e.handleRegisterSuperACK(from, h, body)
	case wire.MsgTypeRegisterSuperNAK:
		e.handleRegisterSuperNAK(from, h, body)
	case wire.MsgTypeRegister:
		e.handleRegister(from, h, body)
	case wire.MsgTypeRegisterACK:
		e.handleRegisterACK(from, h, body)
	case wire.MsgTypeDeregister:
		e.handleDeregister(from, h, body)
	case wire.MsgTypePacket:
		e.handleInboundPacket(from, h, body)
	default:
		e.log.Debugf("unhandled message type %s from %s", h.Type, from)
	}
}
