// Package util collects the small stringify and bit-twiddling helpers that
// the edge and supernode roles both need: MAC/IP/socket formatting, subnet
// mask conversion, and small buffer helpers (MemXOR, MemRnd, HexDump).
package util

import (
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MACSize is the length in bytes of an Ethernet hardware address.
const MACSize = 6

// MAC is a fixed-size Ethernet address, comparable and usable as a map key.
type MAC [MACSize]byte

var (
	// NullMAC is the all-zero address, used transiently during registration.
	NullMAC = MAC{}
	// BroadcastMAC is the all-ones address.
	BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// IsNull reports whether m is the all-zero MAC.
func (m MAC) IsNull() bool {
	return m == NullMAC
}

// IsBroadcast reports whether m is the all-ones MAC.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsMulticast reports whether m is an IPv4-multicast or IPv6-multicast
// Ethernet address, per RFC 908's historical allocation.
func (m MAC) IsMulticast() bool {
	isIPv4Multicast := m[0] == 0x01 && m[1] == 0x00 && m[2] == 0x5e && (m[3]>>7) == 0
	isIPv6Multicast := m[0] == 0x33 && m[1] == 0x33
	return isIPv4Multicast || isIPv6Multicast
}

// IsMultiBroadcast reports whether m is broadcast or multicast.
func (m MAC) IsMultiBroadcast() bool {
	return m.IsBroadcast() || m.IsMulticast()
}

// String renders the MAC as "DE:AD:BE:EF:01:10".
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// ParseMAC parses a colon-separated hex MAC string, e.g. "DE:AD:BE:EF:01:10".
func ParseMAC(s string) (MAC, error) {
	var mac MAC
	parts := strings.Split(s, ":")
	if len(parts) != MACSize {
		return mac, errors.Errorf("invalid MAC address %q", s)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, errors.Wrapf(err, "invalid MAC octet %q", p)
		}
		mac[i] = byte(b)
	}
	return mac, nil
}

// Family distinguishes the address families a Sock may carry.
type Family uint8

const (
	FamilyInvalid Family = iota
	FamilyV4
	FamilyV6
)

// Sock is a tagged union over {invalid, IPv4, IPv6} plus a port, mirroring
// n2n_sock_t: a value type so peer records can embed it directly.
type Sock struct {
	Family Family
	Addr   [16]byte // only the first 4 or 16 bytes are meaningful, by Family
	Port   uint16
}

// NewSockFromUDP builds a Sock from a resolved net.UDPAddr.
func NewSockFromUDP(addr *net.UDPAddr) Sock {
	var s Sock
	s.Port = uint16(addr.Port)
	if v4 := addr.IP.To4(); v4 != nil {
		s.Family = FamilyV4
		copy(s.Addr[:4], v4)
	} else if v6 := addr.IP.To16(); v6 != nil {
		s.Family = FamilyV6
		copy(s.Addr[:16], v6)
	}
	return s
}

// UDPAddr converts back to a *net.UDPAddr for use with net.PacketConn.
func (s Sock) UDPAddr() *net.UDPAddr {
	switch s.Family {
	case FamilyV4:
		return &net.UDPAddr{IP: net.IP(append([]byte{}, s.Addr[:4]...)), Port: int(s.Port)}
	case FamilyV6:
		return &net.UDPAddr{IP: net.IP(append([]byte{}, s.Addr[:16]...)), Port: int(s.Port)}
	default:
		return nil
	}
}

// Equal compares family, port, and address bytes, per spec.
func (s Sock) Equal(o Sock) bool {
	if s.Family != o.Family || s.Port != o.Port {
		return false
	}
	switch s.Family {
	case FamilyV4:
		return [4]byte(s.Addr[:4]) == [4]byte(o.Addr[:4])
	case FamilyV6:
		return s.Addr == o.Addr
	default:
		return true
	}
}

// String renders "10.0.0.1:1234" or "[::1]:5644" depending on family.
func (s Sock) String() string {
	switch s.Family {
	case FamilyV4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", s.Addr[0], s.Addr[1], s.Addr[2], s.Addr[3], s.Port)
	case FamilyV6:
		ip := net.IP(s.Addr[:16])
		return fmt.Sprintf("[%s]:%d", ip.String(), s.Port)
	default:
		return "invalid"
	}
}

// IPSubnet is a dotted-quad network address with a CIDR bit length.
type IPSubnet struct {
	NetAddr uint32
	BitLen  uint8
}

// String renders "10.0.0.1/24".
func (s IPSubnet) String() string {
	a := s.NetAddr
	return fmt.Sprintf("%d.%d.%d.%d/%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a), s.BitLen)
}

// BitLen2Mask converts a subnet prefix length to a host-order mask.
func BitLen2Mask(bitlen uint8) uint32 {
	var mask uint32
	for i := uint8(1); i <= bitlen; i++ {
		mask |= 1 << (32 - i)
	}
	return mask
}

// Mask2BitLen converts a host-order subnet mask to its prefix length.
func Mask2BitLen(mask uint32) uint8 {
	var bitlen uint8
	for i := uint(0); i < 32; i++ {
		if (mask<<i)&0x80000000 != 0 {
			bitlen++
		} else {
			break
		}
	}
	return bitlen
}

// MemXOR xors dst with src in place, up to the shorter of the two slices.
func MemXOR(dst, src []byte) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

// MemRnd fills buf with cryptographically random bytes. The source spec
// leaves pseudo-random generation as an external collaborator; crypto/rand
// is used here since no pack repo ships a general-purpose CSPRNG library.
func MemRnd(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// HexDump renders buf the way n2n's hexdump() does: 16 bytes per line,
// space separated, upper-case hex, bracketed by rule lines.
func HexDump(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	var b strings.Builder
	rule := strings.Repeat("-", 49)
	b.WriteString(rule)
	b.WriteByte('\n')
	for i, c := range buf {
		if i > 0 && i%16 == 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%02X ", c)
	}
	b.WriteByte('\n')
	b.WriteString(rule)
	b.WriteByte('\n')
	return b.String()
}
