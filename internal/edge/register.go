package edge

import (
	"net"
	"time"

	"github.com/n3n-go/edge/internal/peer"
	"github.com/n3n-go/edge/internal/util"
	"github.com/n3n-go/edge/internal/wire"
)

const maxConsecutiveFailures = 3

// registerWithSupernode sends a REGISTER_SUPER to the current best-scored
// supernode, per spec.md §4.8's periodic refresh. If the previous refresh
// was never acknowledged it counts as a failure and MarkFailed raises the
// supernode's score, so a better-scored candidate becomes Current() on the
// next refresh; after maxConsecutiveFailures in a row against the same
// supernode it is also rotated to the back of the selection list.
func (e *Edge) registerWithSupernode() {
	sn := e.supernodes.Current()
	if sn == nil {
		e.log.Warningf("no supernode configured, cannot register")
		return
	}

	if e.current == sn && e.pendingAck {
		e.consecutiveFailures++
		e.supernodes.MarkFailed(sn)
		e.log.Warningf("supernode %s did not ack previous registration (%d/%d)",
			sn.Hostname, e.consecutiveFailures, maxConsecutiveFailures)
		if e.consecutiveFailures >= maxConsecutiveFailures {
			e.supernodes.Rotate(sn)
			e.consecutiveFailures = 0
			if next := e.supernodes.Current(); next != nil {
				sn = next
			}
		}
	}

	e.current = sn
	e.pendingAck = true

	buf := make([]byte, wire.HeaderSize+64)
	n, err := wire.EncodeRegisterSuper(buf, wire.MsgTypeRegisterSuper, e.cfg.CommunityName, wire.RegisterSuper{
		SrcMAC:    e.mac,
		Timestamp: e.clock.TimeStamp(),
	})
	if err != nil {
		e.log.Warningf("encode REGISTER_SUPER: %v", err)
		return
	}

	if _, err := e.conn.WriteToUDP(buf[:n], sn.Sock.UDPAddr()); err != nil {
		e.log.Warningf("send REGISTER_SUPER to %s: %v", sn.Hostname, err)
	}
}

// handleRegisterSuperACK validates and applies a REGISTER_SUPER_ACK for the
// currently pending supernode, per spec.md §4.5's success path.
func (e *Edge) handleRegisterSuperACK(from *net.UDPAddr, h wire.Header, body []byte) {
	msg, err := wire.DecodeRegisterSuper(h, body)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		return
	}
	if e.current == nil || !e.current.Sock.Equal(util.NewSockFromUDP(from)) {
		return
	}
	if !e.clock.VerifyAndUpdate(msg.Timestamp, &e.current.PrevTimestamp, true) {
		e.counters.ReplayRejected.Add(1)
		return
	}
	e.pendingAck = false
	e.consecutiveFailures = 0
	e.supernodes.MarkSuccess(e.current, time.Now())
	e.log.Infof("registered with supernode %s", e.current.Hostname)
}

// handleRegisterSuperNAK immediately rotates away from a supernode that
// explicitly rejected registration, rather than waiting out the failure
// counter used for silent timeouts.
func (e *Edge) handleRegisterSuperNAK(from *net.UDPAddr, h wire.Header, body []byte) {
	if _, err := wire.DecodeRegisterSuper(h, body); err != nil {
		e.counters.DecodeErrors.Add(1)
		return
	}
	if e.current == nil {
		return
	}
	e.log.Warningf("supernode %s sent REGISTER_SUPER_NAK, rotating", e.current.Hostname)
	e.supernodes.Rotate(e.current)
	e.pendingAck = false
	e.consecutiveFailures = 0
	e.registerWithSupernode()
}

// handleRegister answers a peer's direct REGISTER (spec.md §4.8's p2p
// promotion path) with a REGISTER_ACK and records the peer, enabling
// future direct traffic once both ends have exchanged a REGISTER.
func (e *Edge) handleRegister(from *net.UDPAddr, h wire.Header, body []byte) {
	msg, err := wire.DecodeRegister(h, body)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		return
	}

	sock := util.NewSockFromUDP(from)
	rec := e.peers.AddOrUpdate(sock, msg.SrcMAC, peer.ModeAdd)
	if !e.clock.VerifyAndUpdate(msg.Timestamp, &rec.PrevTimestamp, true) {
		e.counters.ReplayRejected.Add(1)
		return
	}
	rec.LastSeen = time.Now()
	if rec.P2P < peer.StateP2PCandidate {
		rec.P2P = peer.StateP2PCandidate
	}
	rec.SawRegisterIn = true
	if rec.SawRegisterOut {
		rec.P2P = peer.StateP2PConfirmed
	}

	buf := make([]byte, wire.HeaderSize+64)
	n, err := wire.EncodeRegister(buf, wire.MsgTypeRegisterACK, e.cfg.CommunityName, wire.Register{
		SrcMAC:    e.mac,
		DstMAC:    msg.SrcMAC,
		Timestamp: e.clock.TimeStamp(),
	})
	if err != nil {
		e.log.Warningf("encode REGISTER_ACK: %v", err)
		return
	}
	if _, err := e.conn.WriteToUDP(buf[:n], from); err != nil {
		e.log.Warningf("send REGISTER_ACK to %s: %v", from, err)
	}
}

// handleRegisterACK records the answer to a REGISTER this edge sent: the
// peer becomes at least a P2P candidate, and is promoted to p2p-confirmed
// (the state that receives direct traffic) once a REGISTER from that peer
// has also been seen.
func (e *Edge) handleRegisterACK(from *net.UDPAddr, h wire.Header, body []byte) {
	msg, err := wire.DecodeRegister(h, body)
	if err != nil {
		e.counters.DecodeErrors.Add(1)
		return
	}
	rec := e.peers.LookupByMAC(msg.SrcMAC)
	if rec == nil {
		return
	}
	if !e.clock.VerifyAndUpdate(msg.Timestamp, &rec.PrevTimestamp, true) {
		e.counters.ReplayRejected.Add(1)
		return
	}
	rec.LastSeen = time.Now()
	if rec.P2P < peer.StateP2PCandidate {
		rec.P2P = peer.StateP2PCandidate
	}
	rec.SawRegisterOut = true
	if rec.SawRegisterIn {
		rec.P2P = peer.StateP2PConfirmed
	}
}
