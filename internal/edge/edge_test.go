package edge

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/n3n-go/edge/internal/config"
	"github.com/n3n-go/edge/internal/peer"
	"github.com/n3n-go/edge/internal/snmp"
	"github.com/n3n-go/edge/internal/tracelog"
	"github.com/n3n-go/edge/internal/transform"
	"github.com/n3n-go/edge/internal/tstamp"
	"github.com/n3n-go/edge/internal/util"
	"github.com/n3n-go/edge/internal/wire"
)

// fakeTap is an in-memory tuntap.Device double: Write appends to a buffer
// frames can be read back from in tests, avoiding any real network device.
type fakeTap struct {
	mu      sync.Mutex
	written [][]byte
}

func (f *fakeTap) Read(buf []byte) (int, error) { return 0, nil }
func (f *fakeTap) Write(frame []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), frame...)
	f.written = append(f.written, cp)
	return len(frame), nil
}
func (f *fakeTap) Close() error { return nil }
func (f *fakeTap) Name() string { return "faketap0" }

func (f *fakeTap) lastWritten() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	return f.written[len(f.written)-1]
}

// newTestEdge builds an *Edge bypassing New (which requires a real TAP
// device and root privileges), wiring a fake TAP and a real loopback UDP
// socket so registration and forwarding logic can be exercised end to end.
func newTestEdge(t *testing.T) (*Edge, *fakeTap) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tap := &fakeTap{}
	xform, err := transform.DefaultRegistry().New(transform.IDNull, nil)
	if err != nil {
		t.Fatalf("new transform: %v", err)
	}

	e := &Edge{
		cfg: &config.Config{
			CommunityName:    "testcomm",
			AllowP2P:         true,
			RegisterInterval: 20,
			RegisterTTL:      60,
		},
		log:        tracelog.New(tracelog.Debug),
		mac:        util.MAC{0x02, 0, 0, 0, 0, 1},
		tap:        tap,
		conn:       conn,
		peers:      peer.NewTable(),
		supernodes: peer.NewSupernodeList(),
		xform:      xform,
		clock:      tstamp.NewClock(),
		counters:   &snmp.Counters{},
		stop:       make(chan struct{}),
	}
	return e, tap
}

func TestRegisterWithSupernodeSendsRegisterSuper(t *testing.T) {
	e, _ := newTestEdge(t)

	peerConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peerConn.Close()

	sn := e.supernodes.Add("sn1", util.NewSockFromUDP(peerConn.LocalAddr().(*net.UDPAddr)))
	_ = sn

	e.registerWithSupernode()
	if !e.pendingAck {
		t.Fatal("expected pendingAck to be true after sending registration")
	}

	buf := make([]byte, 256)
	peerConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peerConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected to receive REGISTER_SUPER: %v", err)
	}
	h, _, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Type != wire.MsgTypeRegisterSuper {
		t.Fatalf("got type %v, want MSG_TYPE_REGISTER_SUPER", h.Type)
	}
}

func TestRegisterSuperACKClearsPendingAndMarksSuccess(t *testing.T) {
	e, _ := newTestEdge(t)

	snConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer snConn.Close()
	snAddr := snConn.LocalAddr().(*net.UDPAddr)

	sn := e.supernodes.Add("sn1", util.NewSockFromUDP(snAddr))
	e.current = sn
	e.pendingAck = true

	buf := make([]byte, wire.HeaderSize+64)
	n, err := wire.EncodeRegisterSuper(buf, wire.MsgTypeRegisterSuperACK, "testcomm", wire.RegisterSuper{
		SrcMAC:    util.MAC{0xaa, 0, 0, 0, 0, 2},
		Timestamp: e.clock.TimeStamp(),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	e.handleRegisterSuperACK(snAddr, h, body)

	if e.pendingAck {
		t.Fatal("expected pendingAck cleared after ACK")
	}
	if sn.Score != peer.DefaultSelectionCriterion {
		t.Fatalf("expected score reset to default, got %d", sn.Score)
	}
}

func TestHandleTapFrameRelaysThroughCurrentSupernode(t *testing.T) {
	e, _ := newTestEdge(t)

	snConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer snConn.Close()
	snAddr := snConn.LocalAddr().(*net.UDPAddr)

	sn := e.supernodes.Add("sn1", util.NewSockFromUDP(snAddr))
	e.current = sn

	frame := make([]byte, 64)
	copy(frame[0:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) // broadcast dst
	copy(frame[6:12], e.mac[:])

	e.handleTapFrame(frame)

	buf := make([]byte, 512)
	snConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := snConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected relayed PACKET: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Type != wire.MsgTypePacket {
		t.Fatalf("got %v, want MSG_TYPE_PACKET", h.Type)
	}
	pkt, err := wire.DecodePacket(h, body)
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	if string(pkt.Payload) != string(frame) {
		t.Fatalf("payload mismatch (null transform should pass through unchanged)")
	}
}

func TestHandleTapFrameUsesP2PPeerWhenConfirmed(t *testing.T) {
	e, _ := newTestEdge(t)

	peerConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peerConn.Close()
	peerAddr := peerConn.LocalAddr().(*net.UDPAddr)

	dstMAC := util.MAC{0x02, 0, 0, 0, 0, 9}
	rec := e.peers.AddOrUpdate(util.NewSockFromUDP(peerAddr), dstMAC, peer.ModeAdd)
	rec.P2P = peer.StateP2PConfirmed

	frame := make([]byte, 64)
	copy(frame[0:6], dstMAC[:])
	copy(frame[6:12], e.mac[:])

	e.handleTapFrame(frame)

	buf := make([]byte, 512)
	peerConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := peerConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected direct P2P PACKET: %v", err)
	}
	if n == 0 {
		t.Fatal("expected non-empty datagram")
	}
}

func TestHandleTapFrameRelaysWhenOnlyCandidate(t *testing.T) {
	e, _ := newTestEdge(t)

	peerConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peerConn.Close()

	snConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer snConn.Close()
	snAddr := snConn.LocalAddr().(*net.UDPAddr)
	e.current = e.supernodes.Add("sn1", util.NewSockFromUDP(snAddr))

	dstMAC := util.MAC{0x02, 0, 0, 0, 0, 9}
	peerAddr := peerConn.LocalAddr().(*net.UDPAddr)
	rec := e.peers.AddOrUpdate(util.NewSockFromUDP(peerAddr), dstMAC, peer.ModeAdd)
	rec.P2P = peer.StateP2PCandidate // not yet confirmed

	frame := make([]byte, 64)
	copy(frame[0:6], dstMAC[:])
	copy(frame[6:12], e.mac[:])

	e.handleTapFrame(frame)

	buf := make([]byte, 512)
	snConn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := snConn.ReadFromUDP(buf); err != nil {
		t.Fatalf("expected frame relayed through supernode while peer is only a candidate: %v", err)
	}

	peerConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := peerConn.ReadFromUDP(buf); err == nil {
		t.Fatal("expected no direct send to a peer that is only p2p-candidate")
	}
}

// TestRegisterHandshakePromotesToP2PConfirmed drives the real REGISTER /
// REGISTER_ACK exchange in both directions, rather than poking P2P state
// directly, and checks the peer reaches StateP2PConfirmed only once both
// directions of the handshake have been observed.
func TestRegisterHandshakePromotesToP2PConfirmed(t *testing.T) {
	e, _ := newTestEdge(t)

	peerConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer peerConn.Close()
	peerAddr := peerConn.LocalAddr().(*net.UDPAddr)
	peerMAC := util.MAC{0x02, 0, 0, 0, 0, 42}

	// Inbound REGISTER from a previously-unknown peer: promotes straight
	// to p2p-candidate (not merely registered).
	buf := make([]byte, wire.HeaderSize+64)
	n, err := wire.EncodeRegister(buf, wire.MsgTypeRegister, "testcomm", wire.Register{
		SrcMAC:    peerMAC,
		DstMAC:    e.mac,
		Timestamp: e.clock.TimeStamp(),
	})
	if err != nil {
		t.Fatalf("encode REGISTER: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e.handleRegister(peerAddr, h, body)

	rec := e.peers.LookupByMAC(peerMAC)
	if rec == nil {
		t.Fatal("expected peer to be registered")
	}
	if rec.P2P != peer.StateP2PCandidate {
		t.Fatalf("expected p2p-candidate after first REGISTER, got %v", rec.P2P)
	}

	// Now this edge's own REGISTER to the peer gets ACK'd, completing the
	// other direction of the handshake.
	n, err = wire.EncodeRegister(buf, wire.MsgTypeRegisterACK, "testcomm", wire.Register{
		SrcMAC:    peerMAC,
		DstMAC:    e.mac,
		Timestamp: e.clock.TimeStamp(),
	})
	if err != nil {
		t.Fatalf("encode REGISTER_ACK: %v", err)
	}
	h, body, err = wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e.handleRegisterACK(peerAddr, h, body)

	if rec.P2P != peer.StateP2PConfirmed {
		t.Fatalf("expected p2p-confirmed after both handshake directions, got %v", rec.P2P)
	}
}

func TestHandleInboundPacketWritesToTap(t *testing.T) {
	e, tap := newTestEdge(t)

	frame := []byte("hello from the overlay, this is an ethernet frame payload")
	buf := make([]byte, wire.HeaderSize+util.MACSize*2+2+len(frame))
	n, err := wire.EncodePacket(buf, "testcomm", wire.Packet{
		SrcMAC:    util.MAC{0x02, 0, 0, 0, 0, 7},
		DstMAC:    e.mac,
		TransopID: uint16(transform.IDNull),
		Payload:   frame,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
	e.handleInboundPacket(from, h, body)

	if string(tap.lastWritten()) != string(frame) {
		t.Fatalf("tap write mismatch: got %q, want %q", tap.lastWritten(), frame)
	}
}

func TestHandleInboundPacketDropsMismatchedDestination(t *testing.T) {
	e, tap := newTestEdge(t)

	frame := []byte("not addressed to this edge's tap")
	buf := make([]byte, wire.HeaderSize+util.MACSize*2+2+len(frame))
	n, err := wire.EncodePacket(buf, "testcomm", wire.Packet{
		SrcMAC:    util.MAC{0x02, 0, 0, 0, 0, 7},
		DstMAC:    util.MAC{0x02, 0, 0, 0, 0, 99}, // not e.mac, not broadcast/multicast
		TransopID: uint16(transform.IDNull),
		Payload:   frame,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
	e.handleInboundPacket(from, h, body)

	if tap.lastWritten() != nil {
		t.Fatal("expected no tap write for a PACKET addressed to a different MAC")
	}
}

func TestHandleInboundPacketWritesBroadcastToTap(t *testing.T) {
	e, tap := newTestEdge(t)

	frame := []byte("broadcast ethernet frame payload")
	buf := make([]byte, wire.HeaderSize+util.MACSize*2+2+len(frame))
	n, err := wire.EncodePacket(buf, "testcomm", wire.Packet{
		SrcMAC:    util.MAC{0x02, 0, 0, 0, 0, 7},
		DstMAC:    util.BroadcastMAC,
		TransopID: uint16(transform.IDNull),
		Payload:   frame,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
	e.handleInboundPacket(from, h, body)

	if string(tap.lastWritten()) != string(frame) {
		t.Fatalf("tap write mismatch for broadcast: got %q, want %q", tap.lastWritten(), frame)
	}
}

func TestHandleInboundPacketWrongTransopIsDropped(t *testing.T) {
	e, tap := newTestEdge(t)

	buf := make([]byte, wire.HeaderSize+util.MACSize*2+2+4)
	n, err := wire.EncodePacket(buf, "testcomm", wire.Packet{
		SrcMAC:    util.MAC{0x02, 0, 0, 0, 0, 7},
		DstMAC:    e.mac,
		TransopID: uint16(transform.IDAES), // edge is configured for IDNull
		Payload:   []byte{1, 2, 3, 4},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	from := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}
	e.handleInboundPacket(from, h, body)

	if tap.lastWritten() != nil {
		t.Fatal("expected no tap write for mismatched transop")
	}
	if e.counters.CryptoFailures.Load() != 1 {
		t.Fatalf("expected CryptoFailures counter incremented, got %d", e.counters.CryptoFailures.Load())
	}
}

func TestHandleRegisterSuperNAKRotatesSupernode(t *testing.T) {
	e, _ := newTestEdge(t)

	conn1, _ := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	defer conn1.Close()
	conn2, _ := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	defer conn2.Close()

	sn1 := e.supernodes.Add("sn1", util.NewSockFromUDP(conn1.LocalAddr().(*net.UDPAddr)))
	e.supernodes.Add("sn2", util.NewSockFromUDP(conn2.LocalAddr().(*net.UDPAddr)))
	e.current = sn1
	e.pendingAck = true

	buf := make([]byte, wire.HeaderSize+64)
	n, err := wire.EncodeRegisterSuper(buf, wire.MsgTypeRegisterSuperNAK, "testcomm", wire.RegisterSuper{
		SrcMAC:    util.MAC{},
		Timestamp: e.clock.TimeStamp(),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := wire.Decode(buf[:n], "testcomm")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	e.handleRegisterSuperNAK(conn1.LocalAddr().(*net.UDPAddr), h, body)

	if e.supernodes.Current() == sn1 {
		t.Fatal("expected sn1 to be rotated away from head after NAK")
	}
}
