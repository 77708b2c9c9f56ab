// Package resolve implements the resolver worker described in spec.md
// §4.6, a Go rendering of n3n's resolve_thread/resolve_check
// (src/n2n.c). It keeps supernode hostnames fresh in the background and
// hands diffs to the reactor only at explicit handshake points, so
// supernode-list mutations stay ordered with respect to the single-
// threaded edge reactor per spec.md §5.
//
// Unlike the source, cancellation uses a context.Context checked in the
// worker's sleep loop, and the worker is joined (sync.WaitGroup) before
// its parameter block is released, addressing spec.md §9's note that the
// source's pthread_cancel-based teardown is racy.
package resolve

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/n3n-go/edge/internal/util"
)

// Interval is the base resolve period, matching N2N_RESOLVE_INTERVAL.
const Interval = 60 * time.Second

// entry tracks one supernode hostname: its last successfully resolved
// socket (shadow, written by the worker) and any error from the last
// resolve attempt.
type entry struct {
	hostname  string
	orgSock   util.Sock // the live socket, as last handed to the reactor
	shadow    util.Sock // the worker's latest resolution
	errorCode error
}

// Resolver is the LookupIP-style collaborator, restricted to IPv4 per
// spec.md §4.6 and grounded on supernode2sock's PF_INET hint.
type Resolver func(hostname string) (util.Sock, error)

// DefaultResolver uses net.DefaultResolver.LookupIP with network "ip4" and
// takes the first result, with the supernode's existing port preserved.
func DefaultResolver(port uint16) Resolver {
	return func(hostname string) (util.Sock, error) {
		ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip4", hostname)
		if err != nil {
			return util.Sock{}, err
		}
		if len(ips) == 0 {
			return util.Sock{}, net.InvalidAddrError("no IPv4 address found for " + hostname)
		}
		return util.NewSockFromUDP(&net.UDPAddr{IP: ips[0], Port: int(port)}), nil
	}
}

// Worker owns the shared parameter block from spec.md §5: entry list,
// changed flag, and resolution request flag, all guarded by mu.
type Worker struct {
	mu       sync.Mutex
	entries  []*entry
	changed  bool
	request  bool
	errCount int

	lastResolved time.Time

	// reactor-private fields; never touched by the worker goroutine
	lastChecked   time.Time
	checkInterval time.Duration

	resolver Resolver
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewWorker constructs a Worker using resolver to turn hostnames into
// sockets.
func NewWorker(resolver Resolver) *Worker {
	return &Worker{
		resolver:      resolver,
		checkInterval: Interval / 10,
	}
}

// AddHostname registers a supernode hostname with its currently known
// socket, to be kept fresh by the background resolve loop.
func (w *Worker) AddHostname(hostname string, currentSock util.Sock) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, &entry{hostname: hostname, orgSock: currentSock, shadow: currentSock})
}

// Run starts the background resolve loop; it returns when ctx is
// cancelled. Callers should call Stop (or cancel ctx directly) and then
// Wait before releasing the Worker.
func (w *Worker) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop cancels the background loop; callers should still call Wait to
// ensure the goroutine has exited before freeing shared state.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Wait blocks until the background loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	repTime := Interval / 10
	ticker := time.NewTicker(Interval / 60)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()

		w.mu.Lock()
		shouldResolve := w.request || now.Sub(w.lastResolved) > repTime
		if shouldResolve {
			anyError := false
			for _, e := range w.entries {
				sock, err := w.resolver(e.hostname)
				e.errorCode = err
				if err == nil {
					if !sock.Equal(e.orgSock) {
						w.changed = true
					}
					e.shadow = sock
				} else {
					anyError = true
					w.errCount++
				}
			}
			w.lastResolved = now
			w.request = false

			if anyError {
				repTime = Interval / 10
			} else {
				repTime = Interval
			}
		}
		w.mu.Unlock()
	}
}

// CheckResult is a named form of ResolveCheck's result; ResolveCheck itself
// returns the bare bool and does not build a CheckResult.
type CheckResult struct {
	// RequiresResolution mirrors the return value of resolve_check: non-
	// zero (true) means the reactor should keep requesting resolution
	// next time, because the attempted lock (or resolution pass) did not
	// yet satisfy the request.
	RequiresResolution bool
}

// ResolveCheck implements the reactor-side handshake from spec.md §4.6:
// a non-blocking attempt to acquire the worker's lock. If it fails, it
// returns requiresResolution unchanged, to be retried next tick. If it
// succeeds: if any entry changed, every entry's shadow socket becomes its
// orgSock and is passed to onUpdate; any
// resolve failures accumulated since the last check are reported via
// onErrors; if requiresResolution was set, a resolution request is
// signaled; the reactor's adaptive check_interval is shortened while a
// request is in flight. check_interval/lastChecked are reactor-private
// and never guarded by mu, per spec.md §5.
func (w *Worker) ResolveCheck(now time.Time, requiresResolution bool, onUpdate func(hostname string, sock util.Sock), onErrors func(count int)) bool {
	if now.Sub(w.lastChecked) <= w.checkInterval && !requiresResolution {
		return requiresResolution
	}

	if !w.mu.TryLock() {
		return requiresResolution
	}
	defer w.mu.Unlock()

	ret := requiresResolution

	if w.changed {
		w.changed = false
		for _, e := range w.entries {
			e.orgSock = e.shadow
			if onUpdate != nil {
				onUpdate(e.hostname, e.shadow)
			}
		}
	}

	if w.errCount > 0 {
		n := w.errCount
		w.errCount = 0
		if onErrors != nil {
			onErrors(n)
		}
	}

	if requiresResolution {
		w.request = true
		ret = false
	}

	w.lastChecked = now
	if w.request {
		w.checkInterval = Interval / 100
	} else {
		w.checkInterval = Interval / 10
	}

	return ret
}
