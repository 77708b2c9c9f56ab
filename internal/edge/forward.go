package edge

import (
	"net"
	"time"

	"github.com/n3n-go/edge/internal/peer"
	"github.com/n3n-go/edge/internal/util"
	"github.com/n3n-go/edge/internal/wire"
)

// ethernetDstOffset and ethernetSrcOffset locate the MAC fields: Ethernet II
// frames start with the 6-byte destination MAC, then the 6-byte source MAC.
const ethernetDstOffset = 0
const ethernetSrcOffset = util.MACSize

func parseEthernetDst(frame []byte) (util.MAC, bool) {
	if len(frame) < util.MACSize*2 {
		return util.MAC{}, false
	}
	var mac util.MAC
	copy(mac[:], frame[ethernetDstOffset:ethernetDstOffset+util.MACSize])
	return mac, true
}

// handleTapFrame implements spec.md §4.8's TAP-to-network forwarding rule:
// an Ethernet frame read from the TAP device is encrypted with the
// community's transform and sent as a PACKET, directly to the destination
// peer if it has been promoted to a confirmed P2P path and AllowP2P is
// set, otherwise relayed through the current supernode.
func (e *Edge) handleTapFrame(frame []byte) {
	dstMAC, ok := parseEthernetDst(frame)
	if !ok {
		return
	}

	if e.cfg.DropMulticast && dstMAC.IsMultiBroadcast() {
		return
	}

	dest := e.nextHopFor(dstMAC)
	if dest == nil {
		return
	}

	ciphertext, err := e.xform.Encode(nil, frame)
	if err != nil {
		e.counters.CryptoFailures.Add(1)
		e.log.Debugf("encode tap frame: %v", err)
		return
	}

	buf := make([]byte, wire.HeaderSize+util.MACSize*2+2+len(ciphertext))
	n, err := wire.EncodePacket(buf, e.cfg.CommunityName, wire.Packet{
		SrcMAC:    e.mac,
		DstMAC:    dstMAC,
		TransopID: uint16(e.xform.ID()),
		Payload:   ciphertext,
	})
	if err != nil {
		e.log.Warningf("encode PACKET: %v", err)
		return
	}

	if _, err := e.conn.WriteToUDP(buf[:n], dest.UDPAddr()); err != nil {
		e.log.Warningf("send PACKET to %s: %v", dest, err)
	}
}

// nextHopFor resolves the socket a frame addressed to dstMAC should be
// sent to: a confirmed P2P peer when direct traffic is allowed, otherwise
// the current supernode for relay. Returns nil when there is nowhere to
// send the frame (no known peer, no reachable supernode).
func (e *Edge) nextHopFor(dstMAC util.MAC) *util.Sock {
	if e.cfg.AllowP2P && !dstMAC.IsMultiBroadcast() {
		if rec := e.peers.LookupByMAC(dstMAC); rec != nil && rec.P2P >= peer.StateP2PConfirmed {
			sock := rec.Sock
			return &sock
		}
	}
	if e.current == nil {
		return nil
	}
	sock := e.current.Sock
	return &sock
}

// handleInboundPacket implements the network-to-TAP forwarding rule:
// a received PACKET is decrypted and, if it decodes, decrypts cleanly,
// and is addressed to this edge's TAP (matching its MAC, or broadcast/
// multicast), written to the TAP device as a raw Ethernet frame. The
// sender's peer record is refreshed so PurgeStale does not evict an
// active peer, regardless of destination.
func (e *Edge) handleInboundPacket(from *net.UDPAddr, h wire.Header, body []byte) {
	msg, err := wire.DecodePacket(h, body)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		return
	}

	if msg.TransopID != uint16(e.xform.ID()) {
		e.counters.CryptoFailures.Add(1)
		e.log.Debugf("PACKET from %s uses unexpected transop %d", from, msg.TransopID)
		return
	}

	plaintext, err := e.xform.Decode(msg.Payload)
	if err != nil {
		e.counters.CryptoFailures.Add(1)
		e.log.Debugf("decode PACKET from %s: %v", from, err)
		return
	}

	sock := util.NewSockFromUDP(from)
	if rec := e.peers.AddOrUpdate(sock, msg.SrcMAC, peer.ModeAdd); rec != nil {
		rec.LastSeen = time.Now()
	}

	if msg.DstMAC != e.mac && !msg.DstMAC.IsMultiBroadcast() {
		e.log.Debugf("PACKET from %s addressed to %s, not %s: dropping", from, msg.DstMAC, e.mac)
		return
	}

	if _, err := e.tap.Write(plaintext); err != nil {
		e.log.Warningf("write tap frame: %v", err)
	}
}

// handleDeregister drops a peer immediately rather than waiting for it to
// go stale, per spec.md §4.8's explicit-leave path.
func (e *Edge) handleDeregister(from *net.UDPAddr, h wire.Header, body []byte) {
	msg, err := wire.DecodeRegister(h, body)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		return
	}
	e.peers.Delete(msg.SrcMAC)
	e.log.Infof("peer %s deregistered from %s", msg.SrcMAC, from)
}
