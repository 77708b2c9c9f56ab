// Package supernode implements the supernode role from spec.md §4.8's
// counterpart duties: it answers edges' REGISTER_SUPER requests,
// maintains the registered-edge table for a community, and relays PACKET
// traffic between edges that have not (or cannot) establish a direct P2P
// path. Its bootstrap shape is grounded on kcptun's server/main.go and
// server/config.go: a cli.App plus JSON config override and a blocking
// accept-style run loop.
package supernode

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/n3n-go/edge/internal/config"
	"github.com/n3n-go/edge/internal/mgmt"
	"github.com/n3n-go/edge/internal/peer"
	"github.com/n3n-go/edge/internal/snmp"
	"github.com/n3n-go/edge/internal/tracelog"
	"github.com/n3n-go/edge/internal/tstamp"
	"github.com/n3n-go/edge/internal/util"
	"github.com/n3n-go/edge/internal/wire"
)

const (
	mgmtListenSlots  = 8
	mgmtRequestMax   = 8192
	mgmtReplyHeadMax = 512
)

// Supernode owns the registered-edge table for one community plus the UDP
// socket and management pool shared with the edge role's implementation.
type Supernode struct {
	cfg *config.Config
	log *tracelog.Logger

	conn *net.UDPConn

	edges    *peer.Table
	clock    *tstamp.Clock
	counters *snmp.Counters

	mgmtPool   *mgmt.Pool
	mgmtListen net.Listener

	stop chan struct{}
	wg   sync.WaitGroup
}

// New binds the UDP socket and management listener and builds the
// registered-edge table for cfg.CommunityName.
func New(cfg *config.Config, log *tracelog.Logger) (*Supernode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "supernode: invalid configuration")
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", cfg.BindAddress)
	if err != nil {
		return nil, errors.Wrap(err, "supernode: resolve bind address")
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "supernode: bind UDP socket")
	}

	s := &Supernode{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		edges:    peer.NewTable(),
		clock:    tstamp.NewClock(),
		counters: &snmp.Counters{},
		stop:     make(chan struct{}),
	}

	if err := s.setupMgmt(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Supernode) setupMgmt() error {
	lis, err := net.Listen("tcp", s.cfg.MgmtAddress())
	if err != nil {
		return errors.Wrap(err, "supernode: management listener")
	}
	s.mgmtListen = lis

	tl, ok := lis.(*net.TCPListener)
	if !ok {
		lis.Close()
		return errors.New("supernode: management listener is not TCP")
	}
	f, err := tl.File()
	if err != nil {
		lis.Close()
		return errors.Wrap(err, "supernode: management listener fd")
	}

	s.mgmtPool = mgmt.NewPool(mgmtListenSlots, mgmtRequestMax, mgmtReplyHeadMax)
	if !s.mgmtPool.AddListener(int(f.Fd()), func(fd int) error { return nil }) {
		f.Close()
		lis.Close()
		return errors.New("supernode: no free listen slot for management socket")
	}
	return nil
}

// Counters exposes the supernode's runtime counters for CSV/Prometheus
// reporting.
func (s *Supernode) Counters() *snmp.Counters { return s.counters }

// Close releases every resource New acquired.
func (s *Supernode) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.mgmtListen != nil {
		s.mgmtListen.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

// Run drives the supernode reactor until ctx is cancelled: it answers
// REGISTER_SUPER/REGISTER/PACKET traffic for its community and serves the
// management surface.
func (s *Supernode) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		mgmt.Serve(s.mgmtPool, s.handleMgmt, func(fd int) error { return nil }, ctx.Done(), &mgmt.Counters{
			OnPoolFull: func() { s.counters.PoolFullEvents.Add(1) },
			OnTimeouts: func(n int) { s.counters.SlotTimeouts.Add(int64(n)) },
		})
	}()

	sweep := time.NewTicker(s.cfg.RegisterTTLDuration())
	defer sweep.Stop()

	buf := make([]byte, 2048)
	for {
		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, from, err := s.conn.ReadFromUDP(buf)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-sweep.C:
			if purged := s.edges.PurgeStale(time.Now(), s.cfg.RegisterTTLDuration()); purged > 0 {
				s.log.Debugf("purged %d stale edges", purged)
			}
		default:
		}

		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			s.log.Warningf("udp read error: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(from, data)
	}
}

func (s *Supernode) handleDatagram(from *net.UDPAddr, data []byte) {
	h, body, err := wire.Decode(data, s.cfg.CommunityName)
	if err != nil {
		s.counters.DecodeErrors.Add(1)
		return
	}

	switch h.Type {
	case wire.MsgTypeRegisterSuper:
		s.handleRegisterSuper(from, h, body)
	case wire.MsgTypeRegister, wire.MsgTypeRegisterACK, wire.MsgTypeDeregister:
		reg, err := wire.DecodeRegister(h, body)
		if err != nil {
			s.counters.DecodeErrors.Add(1)
			return
		}
		s.relayToDestination(from, data, &reg.DstMAC)
	case wire.MsgTypePacket:
		s.handlePacket(from, h, data, body)
	default:
		s.log.Debugf("unhandled message type %s from %s", h.Type, from)
	}
}

// handleRegisterSuper admits a new or refreshing edge into the community's
// table and replies with REGISTER_SUPER_ACK, per spec.md §4.8's supernode
// responsibilities.
func (s *Supernode) handleRegisterSuper(from *net.UDPAddr, h wire.Header, body []byte) {
	msg, err := wire.DecodeRegisterSuper(h, body)
	if err != nil {
		s.counters.DecodeErrors.Add(1)
		return
	}

	sock := util.NewSockFromUDP(from)
	rec := s.edges.AddOrUpdate(sock, msg.SrcMAC, peer.ModeAdd)
	if !s.clock.VerifyAndUpdate(msg.Timestamp, &rec.PrevTimestamp, false) {
		s.counters.ReplayRejected.Add(1)
		return
	}
	rec.LastSeen = time.Now()
	if rec.P2P < peer.StateRegistered {
		rec.P2P = peer.StateRegistered
	}

	buf := make([]byte, wire.HeaderSize+64)
	n, err := wire.EncodeRegisterSuper(buf, wire.MsgTypeRegisterSuperACK, s.cfg.CommunityName, wire.RegisterSuper{
		SrcMAC:    msg.SrcMAC,
		Timestamp: s.clock.TimeStamp(),
	})
	if err != nil {
		s.log.Warningf("encode REGISTER_SUPER_ACK: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(buf[:n], from); err != nil {
		s.log.Warningf("send REGISTER_SUPER_ACK to %s: %v", from, err)
	}
}

// handlePacket relays a PACKET between two registered edges of the same
// community when AllowRouting permits it, per spec.md's relay path for
// edges that have not established (or are not permitted) direct P2P.
func (s *Supernode) handlePacket(from *net.UDPAddr, h wire.Header, raw []byte, body []byte) {
	msg, err := wire.DecodePacket(h, body)
	if err != nil {
		s.counters.DecodeErrors.Add(1)
		return
	}
	s.relayToDestination(from, raw, &msg.DstMAC)
}

// relayToDestination forwards the raw, still-encrypted datagram bytes
// unchanged to dstMAC's registered socket (or to every other registered
// edge, for broadcast/multicast destinations), matching n2n's supernode
// relay: the payload is opaque to the supernode, which never holds the
// community's transform key.
func (s *Supernode) relayToDestination(from *net.UDPAddr, raw []byte, dstMAC *util.MAC) {
	if !s.cfg.AllowRouting {
		return
	}
	if dstMAC == nil || dstMAC.IsMultiBroadcast() {
		s.broadcast(from, raw)
		return
	}
	rec := s.edges.LookupByMAC(*dstMAC)
	if rec == nil {
		return
	}
	if _, err := s.conn.WriteToUDP(raw, rec.Sock.UDPAddr()); err != nil {
		s.log.Warningf("relay to %s: %v", rec.Sock, err)
	}
}

// broadcast relays a frame to every other registered edge, used for
// multicast/broadcast Ethernet traffic (ARP, DHCP) when routing is
// enabled.
func (s *Supernode) broadcast(from *net.UDPAddr, raw []byte) {
	fromSock := util.NewSockFromUDP(from)
	s.edges.Each(func(rec *peer.Record) {
		if rec.Sock.Equal(fromSock) {
			return
		}
		if _, err := s.conn.WriteToUDP(raw, rec.Sock.UDPAddr()); err != nil {
			s.log.Warningf("broadcast to %s: %v", rec.Sock, err)
		}
	})
}
