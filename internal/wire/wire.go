// Package wire implements the n2n-compatible on-wire message codec
// described in spec.md §4.3 and §6: a common header (flags/version, TTL,
// message type, 20-byte zero-padded community name, and source/destination
// MAC where applicable) followed by message-specific fields, all in
// network byte order. Decoding never allocates: payload views borrow from
// the input buffer, matching the source's avoidance of per-packet copies.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/n3n-go/edge/internal/util"
)

// MsgType identifies the kind of n2n/n3n control or data message.
type MsgType uint16

const (
	MsgTypeRegister MsgType = iota
	MsgTypeDeregister
	MsgTypePacket
	MsgTypeRegisterACK
	MsgTypeRegisterSuper
	MsgTypeRegisterSuperACK
	MsgTypeRegisterSuperNAK
	MsgTypeFederation
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRegister:
		return "MSG_TYPE_REGISTER"
	case MsgTypeDeregister:
		return "MSG_TYPE_DEREGISTER"
	case MsgTypePacket:
		return "MSG_TYPE_PACKET"
	case MsgTypeRegisterACK:
		return "MSG_TYPE_REGISTER_ACK"
	case MsgTypeRegisterSuper:
		return "MSG_TYPE_REGISTER_SUPER"
	case MsgTypeRegisterSuperACK:
		return "MSG_TYPE_REGISTER_SUPER_ACK"
	case MsgTypeRegisterSuperNAK:
		return "MSG_TYPE_REGISTER_SUPER_NAK"
	case MsgTypeFederation:
		return "MSG_TYPE_FEDERATION"
	default:
		return "???"
	}
}

// CommunitySize is the fixed, zero-padded width of the community name
// field on the wire.
const CommunitySize = 20

// HeaderSize is the number of bytes in the common header, before any
// message-specific fields.
const HeaderSize = 1 + 1 + 2 + CommunitySize // flags/version, ttl, type, community

// ErrDecode is the sentinel wrapped by every decode failure: short input,
// unknown message type, or community mismatch.
var ErrDecode = errors.New("wire: decode error")

// Header is the common prefix shared by every n2n/n3n message.
type Header struct {
	Version   uint8
	TTL       uint8
	Type      MsgType
	Community [CommunitySize]byte
}

// CommunityName returns the community field with trailing zero padding
// trimmed.
func (h Header) CommunityName() string {
	n := CommunitySize
	for n > 0 && h.Community[n-1] == 0 {
		n--
	}
	return string(h.Community[:n])
}

// SetCommunityName copies name into the zero-padded community field,
// truncating at CommunitySize.
func (h *Header) SetCommunityName(name string) {
	h.Community = [CommunitySize]byte{}
	copy(h.Community[:], name)
}

func (h Header) encode(buf []byte) int {
	buf[0] = h.Version
	buf[1] = h.TTL
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Type))
	copy(buf[4:4+CommunitySize], h.Community[:])
	return HeaderSize
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Wrap(ErrDecode, "short header")
	}
	var h Header
	h.Version = buf[0]
	h.TTL = buf[1]
	h.Type = MsgType(binary.BigEndian.Uint16(buf[2:4]))
	copy(h.Community[:], buf[4:4+CommunitySize])
	return h, nil
}

// Register carries a REGISTER/DEREGISTER/REGISTER_ACK body: source and
// destination MAC plus a replay-protected timestamp.
type Register struct {
	Header    Header
	SrcMAC    util.MAC
	DstMAC    util.MAC
	Timestamp uint64
}

// Packet carries PACKET message fields: source/destination MAC, the
// transform id selecting the payload cipher, and the (possibly encrypted)
// Ethernet frame payload. Payload is a view into the decode input, never a
// copy.
type Packet struct {
	Header    Header
	SrcMAC    util.MAC
	DstMAC    util.MAC
	TransopID uint16
	Payload   []byte
}

// RegisterSuper carries REGISTER_SUPER / REGISTER_SUPER_ACK / NAK bodies:
// source MAC plus a replay-protected timestamp.
type RegisterSuper struct {
	Header    Header
	SrcMAC    util.MAC
	Timestamp uint64
}

const registerBodySize = util.MACSize*2 + 8
const registerSuperBodySize = util.MACSize + 8
const packetHeaderFieldsSize = util.MACSize*2 + 2

// EncodeRegister writes a REGISTER/DEREGISTER/REGISTER_ACK message and
// returns the number of bytes written.
func EncodeRegister(buf []byte, msgType MsgType, community string, m Register) (int, error) {
	need := HeaderSize + registerBodySize
	if len(buf) < need {
		return 0, errors.New("wire: buffer too small for REGISTER")
	}
	m.Header.Type = msgType
	m.Header.SetCommunityName(community)
	n := m.Header.encode(buf)
	copy(buf[n:], m.SrcMAC[:])
	n += util.MACSize
	copy(buf[n:], m.DstMAC[:])
	n += util.MACSize
	binary.BigEndian.PutUint64(buf[n:n+8], m.Timestamp)
	n += 8
	return n, nil
}

// DecodeRegister parses a REGISTER-class message body, assuming the header
// type has already been identified by Decode.
func DecodeRegister(h Header, body []byte) (Register, error) {
	if len(body) < registerBodySize {
		return Register{}, errors.Wrap(ErrDecode, "short REGISTER body")
	}
	var m Register
	m.Header = h
	copy(m.SrcMAC[:], body[0:util.MACSize])
	copy(m.DstMAC[:], body[util.MACSize:util.MACSize*2])
	m.Timestamp = binary.BigEndian.Uint64(body[util.MACSize*2 : util.MACSize*2+8])
	return m, nil
}

// EncodeRegisterSuper writes a REGISTER_SUPER / REGISTER_SUPER_ACK / NAK
// message.
func EncodeRegisterSuper(buf []byte, msgType MsgType, community string, m RegisterSuper) (int, error) {
	need := HeaderSize + registerSuperBodySize
	if len(buf) < need {
		return 0, errors.New("wire: buffer too small for REGISTER_SUPER")
	}
	m.Header.Type = msgType
	m.Header.SetCommunityName(community)
	n := m.Header.encode(buf)
	copy(buf[n:], m.SrcMAC[:])
	n += util.MACSize
	binary.BigEndian.PutUint64(buf[n:n+8], m.Timestamp)
	n += 8
	return n, nil
}

// DecodeRegisterSuper parses a REGISTER_SUPER-class message body.
func DecodeRegisterSuper(h Header, body []byte) (RegisterSuper, error) {
	if len(body) < registerSuperBodySize {
		return RegisterSuper{}, errors.Wrap(ErrDecode, "short REGISTER_SUPER body")
	}
	var m RegisterSuper
	m.Header = h
	copy(m.SrcMAC[:], body[0:util.MACSize])
	m.Timestamp = binary.BigEndian.Uint64(body[util.MACSize : util.MACSize+8])
	return m, nil
}

// EncodePacket writes a PACKET message. payload is copied into buf after
// the fixed fields.
func EncodePacket(buf []byte, community string, m Packet) (int, error) {
	need := HeaderSize + packetHeaderFieldsSize + len(m.Payload)
	if len(buf) < need {
		return 0, errors.New("wire: buffer too small for PACKET")
	}
	m.Header.Type = MsgTypePacket
	m.Header.SetCommunityName(community)
	n := m.Header.encode(buf)
	copy(buf[n:], m.SrcMAC[:])
	n += util.MACSize
	copy(buf[n:], m.DstMAC[:])
	n += util.MACSize
	binary.BigEndian.PutUint16(buf[n:n+2], m.TransopID)
	n += 2
	n += copy(buf[n:], m.Payload)
	return n, nil
}

// DecodePacket parses a PACKET message body. The returned Payload aliases
// body's backing array.
func DecodePacket(h Header, body []byte) (Packet, error) {
	if len(body) < packetHeaderFieldsSize {
		return Packet{}, errors.Wrap(ErrDecode, "short PACKET body")
	}
	var m Packet
	m.Header = h
	copy(m.SrcMAC[:], body[0:util.MACSize])
	copy(m.DstMAC[:], body[util.MACSize:util.MACSize*2])
	m.TransopID = binary.BigEndian.Uint16(body[util.MACSize*2 : util.MACSize*2+2])
	m.Payload = body[packetHeaderFieldsSize:]
	return m, nil
}

// Decode identifies the header of a raw datagram and, if expectedCommunity
// is non-empty, rejects community mismatches. It returns the header and a
// view of the remaining, message-specific bytes for further dispatch by
// type.
func Decode(buf []byte, expectedCommunity string) (Header, []byte, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}
	switch h.Type {
	case MsgTypeRegister, MsgTypeDeregister, MsgTypePacket, MsgTypeRegisterACK,
		MsgTypeRegisterSuper, MsgTypeRegisterSuperACK, MsgTypeRegisterSuperNAK,
		MsgTypeFederation:
		// known type
	default:
		return Header{}, nil, errors.Wrapf(ErrDecode, "unknown message type %d", h.Type)
	}
	if expectedCommunity != "" && h.CommunityName() != expectedCommunity {
		return Header{}, nil, errors.Wrap(ErrDecode, "community mismatch")
	}
	return h, buf[HeaderSize:], nil
}
