// Package edge implements the edge node state machine from spec.md §4.8:
// the UDP protocol client that registers with a supernode, discovers
// peers, promotes eligible peers to direct P2P traffic, and relays
// Ethernet frames between a local TAP device and the overlay. It is new
// domain logic with no direct analogue in kcptun, but it keeps kcptun's
// own shape for the pieces that do transfer: a single cli.App-driven
// runtime (client/main.go), pbkdf2 key derivation off a shared secret
// (client/main.go's SALT pattern), and pkg/errors-wrapped failures logged
// through tracelog the way kcptun logs through the stdlib logger.
package edge

import (
	"context"
	"crypto/sha1"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"

	"github.com/n3n-go/edge/internal/config"
	"github.com/n3n-go/edge/internal/mgmt"
	"github.com/n3n-go/edge/internal/peer"
	"github.com/n3n-go/edge/internal/resolve"
	"github.com/n3n-go/edge/internal/snmp"
	"github.com/n3n-go/edge/internal/tracelog"
	"github.com/n3n-go/edge/internal/transform"
	"github.com/n3n-go/edge/internal/tstamp"
	"github.com/n3n-go/edge/internal/tuntap"
	"github.com/n3n-go/edge/internal/util"
	"github.com/n3n-go/edge/internal/wire"
)

// saltKeyDerivation is kcptun's own pbkdf2 salt idiom applied to the
// community's shared secret instead of a hardcoded transport key.
const saltKeyDerivation = "n3n-edge"

const (
	mgmtListenSlots  = 8
	mgmtRequestMax   = 8192
	mgmtReplyHeadMax = 512
	udpRecvBufSize   = 2048
)

// Edge owns every piece of runtime state spec.md §4.8 names: the peer
// table, the supernode selection list, the resolver worker, the
// management slot pool, and the sockets/devices they all drive.
type Edge struct {
	cfg *config.Config
	log *tracelog.Logger

	mac util.MAC

	tap  tuntap.Device
	conn *net.UDPConn

	peers      *peer.Table
	supernodes *peer.SupernodeList
	resolver   *resolve.Worker

	xform transform.Transform
	clock *tstamp.Clock

	mgmtPool   *mgmt.Pool
	mgmtListen net.Listener
	counters   *snmp.Counters

	supernodePorts map[string]uint16

	current              *peer.Supernode
	pendingAck           bool
	consecutiveFailures  int

	stop chan struct{}
	wg   sync.WaitGroup
}

// New validates cfg, opens the TAP device and UDP socket, and wires the
// peer table, supernode list, resolver worker, and management pool. It
// does not start any background goroutines; call Run for that.
func New(cfg *config.Config, log *tracelog.Logger) (*Edge, error) {
	if err := cfg.ValidateEdge(); err != nil {
		return nil, errors.Wrap(ErrConfigInvalid, err.Error())
	}

	key := pbkdf2.Key([]byte(cfg.EncryptKey), []byte(saltKeyDerivation), 4096, 32, sha1.New)
	xform, err := transform.DefaultRegistry().New(cfg.TransformID(), key)
	if err != nil {
		return nil, errors.Wrap(ErrCryptoFailed, err.Error())
	}

	tap, err := tuntap.Open(tuntap.Config{
		Name: cfg.TuntapName,
		Mode: cfg.TuntapMode(),
		MTU:  cfg.MTU,
	})
	if err != nil {
		return nil, errors.Wrap(ErrTapOpenFailed, err.Error())
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", cfg.BindAddress)
	if err != nil {
		tap.Close()
		return nil, errors.Wrap(ErrBindFailed, err.Error())
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		tap.Close()
		return nil, errors.Wrap(ErrBindFailed, err.Error())
	}

	e := &Edge{
		cfg:            cfg,
		log:            log,
		tap:            tap,
		conn:           conn,
		peers:          peer.NewTable(),
		supernodes:     peer.NewSupernodeList(),
		xform:          xform,
		clock:          tstamp.NewClock(),
		counters:       &snmp.Counters{},
		supernodePorts: make(map[string]uint16),
		stop:           make(chan struct{}),
	}
	e.mac = randomLocalMAC()

	e.resolver = resolve.NewWorker(e.resolveSupernode)

	for _, addr := range cfg.Supernodes {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			e.Close()
			return nil, errors.Wrap(ErrConfigInvalid, "supernode address "+addr)
		}
		udpaddr, err := net.ResolveUDPAddr("udp4", addr)
		if err != nil {
			e.Close()
			return nil, errors.Wrap(ErrResolveFailed, "supernode address "+addr)
		}
		port, err := net.LookupPort("udp", portStr)
		if err != nil {
			e.Close()
			return nil, errors.Wrap(ErrConfigInvalid, "supernode port "+addr)
		}
		sock := util.NewSockFromUDP(udpaddr)
		e.supernodePorts[host] = uint16(port)
		e.supernodes.Add(host, sock)
		e.resolver.AddHostname(host, sock)
	}

	if err := e.setupMgmt(); err != nil {
		e.Close()
		return nil, err
	}

	return e, nil
}

func (e *Edge) resolveSupernode(hostname string) (util.Sock, error) {
	return resolve.DefaultResolver(e.supernodePorts[hostname])(hostname)
}

func (e *Edge) setupMgmt() error {
	lis, err := net.Listen("tcp", e.cfg.MgmtAddress())
	if err != nil {
		return errors.Wrap(ErrBindFailed, "management listener: "+err.Error())
	}
	e.mgmtListen = lis

	tl, ok := lis.(*net.TCPListener)
	if !ok {
		lis.Close()
		return errors.Wrap(ErrBindFailed, "management listener is not TCP")
	}
	f, err := tl.File()
	if err != nil {
		lis.Close()
		return errors.Wrap(ErrBindFailed, err.Error())
	}

	e.mgmtPool = mgmt.NewPool(mgmtListenSlots, mgmtRequestMax, mgmtReplyHeadMax)
	if !e.mgmtPool.AddListener(int(f.Fd()), func(fd int) error { return nil }) {
		f.Close()
		lis.Close()
		return errors.Wrap(ErrPoolFull, "no free listen slot for management socket")
	}
	return nil
}

// randomLocalMAC returns a locally-administered, unicast MAC, used when no
// explicit hardware address is assigned to the TAP interface.
func randomLocalMAC() util.MAC {
	var mac util.MAC
	util.MemRnd(mac[:])
	mac[0] = (mac[0] &^ 0x01) | 0x02 // clear multicast bit, set local-admin bit
	return mac
}

// Counters exposes the edge's runtime counters for the snmp CSV logger and
// the management /metrics route.
func (e *Edge) Counters() *snmp.Counters {
	return e.counters
}

// Close releases every resource New acquired. Safe to call more than once.
func (e *Edge) Close() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	if e.resolver != nil {
		e.resolver.Stop()
		e.resolver.Wait()
	}
	if e.mgmtListen != nil {
		e.mgmtListen.Close()
	}
	if e.conn != nil {
		e.conn.Close()
	}
	if e.tap != nil {
		e.tap.Close()
	}
	return nil
}

// Run drives the edge reactor until ctx is cancelled: it registers with
// the best-scored supernode, periodically refreshes that registration,
// answers management requests, and forwards Ethernet frames between the
// TAP device and the overlay. Run blocks until ctx is done and then
// returns nil.
func (e *Edge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.resolver.Run(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		mgmt.Serve(e.mgmtPool, e.handleMgmt, func(fd int) error { return nil }, ctx.Done(), &mgmt.Counters{
			OnPoolFull: func() { e.counters.PoolFullEvents.Add(1) },
			OnTimeouts: func(n int) { e.counters.SlotTimeouts.Add(int64(n)) },
		})
	}()

	udpEvents := make(chan udpEvent, 64)
	e.wg.Add(1)
	go e.readUDP(ctx, udpEvents)

	tapEvents := make(chan tapEvent, 64)
	e.wg.Add(1)
	go e.readTap(ctx, tapEvents)

	registerTicker := time.NewTicker(e.cfg.RegisterIntervalDuration())
	defer registerTicker.Stop()
	sweepTicker := time.NewTicker(e.cfg.RegisterTTLDuration() / 2)
	defer sweepTicker.Stop()

	e.registerWithSupernode()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return nil

		case ev := <-udpEvents:
			if ev.err != nil {
				e.log.Warningf("udp read error: %v", ev.err)
				continue
			}
			e.handleDatagram(ev.from, ev.data)

		case ev := <-tapEvents:
			if ev.err != nil {
				e.log.Warningf("tap read error: %v", ev.err)
				continue
			}
			e.handleTapFrame(ev.data)

		case <-registerTicker.C:
			e.registerWithSupernode()
			now := time.Now()
			e.resolver.ResolveCheck(now, false, e.onSupernodeResolved, e.onResolveErrors)

		case <-sweepTicker.C:
			purged := e.peers.PurgeStale(time.Now(), e.cfg.RegisterTTLDuration())
			if purged > 0 {
				e.log.Debugf("purged %d stale peers", purged)
			}
		}
	}
}

func (e *Edge) onSupernodeResolved(hostname string, sock util.Sock) {
	e.supernodes.UpdateSock(hostname, sock)
	e.log.Infof("supernode %s re-resolved to %s", hostname, sock.String())
}

// onResolveErrors reports DNS resolution failures accumulated by the
// resolver worker since the last check, per spec.md §7's requirement that
// resolver errors be observable through the management counters.
func (e *Edge) onResolveErrors(count int) {
	e.counters.ResolverErrors.Add(int64(count))
}

type udpEvent struct {
	from *net.UDPAddr
	data []byte
	err  error
}

type tapEvent struct {
	data []byte
	err  error
}

func (e *Edge) readUDP(ctx context.Context, out chan<- udpEvent) {
	defer e.wg.Done()
	buf := make([]byte, udpRecvBufSize)
	for {
		e.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := e.conn.ReadFromUDP(buf)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			select {
			case out <- udpEvent{err: err}:
			case <-ctx.Done():
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- udpEvent{from: addr, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

func (e *Edge) readTap(ctx context.Context, out chan<- tapEvent) {
	defer e.wg.Done()
	buf := make([]byte, e.cfg.MTU+wire.HeaderSize+64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := e.tap.Read(buf)
		if err != nil {
			select {
			case out <- tapEvent{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- tapEvent{data: data}:
		case <-ctx.Done():
			return
		}
	}
}
