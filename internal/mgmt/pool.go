package mgmt

import (
	"time"

	"golang.org/x/sys/unix"
)

// ListenSlots bounds the number of simultaneous listening sockets a pool
// can hold (TCP plus, on POSIX, a Unix-domain socket), mirroring
// SLOTS_LISTEN.
const ListenSlots = 2

// listener is a bound, listening fd plus the closer used to release it.
type listener struct {
	fd     int
	closer func(fd int) error
}

// Pool is a fixed-size array of Slots plus up to ListenSlots listening
// sockets, implementing the accept/read/write reactor sweep from
// spec.md §4.2.
type Pool struct {
	slots   []*Slot
	listen  [ListenSlots]listener
	Timeout time.Duration
	NrOpen  int
}

// NewPool allocates a pool of nrSlots connection slots.
func NewPool(nrSlots, requestMax, replyHeaderMax int) *Pool {
	p := &Pool{
		slots:   make([]*Slot, nrSlots),
		Timeout: 60 * time.Second,
	}
	for i := range p.slots {
		p.slots[i] = NewSlot(requestMax, replyHeaderMax)
	}
	for i := range p.listen {
		p.listen[i].fd = -1
	}
	return p
}

// AddListener registers an already-bound, listening fd in the first empty
// listen slot. Returns false if the pool's listen slots are full.
func (p *Pool) AddListener(fd int, closer func(fd int) error) bool {
	for i := range p.listen {
		if p.listen[i].fd == -1 {
			p.listen[i] = listener{fd: fd, closer: closer}
			return true
		}
	}
	return false
}

// CloseListeners closes every listening socket, used to unblock a
// readiness wait during shutdown.
func (p *Pool) CloseListeners() {
	for i := range p.listen {
		if p.listen[i].fd != -1 {
			if p.listen[i].closer != nil {
				p.listen[i].closer(p.listen[i].fd)
			}
			p.listen[i].fd = -1
		}
	}
}

// findEmptySlot returns the index of the first slot with fd == -1, or -1.
func (p *Pool) findEmptySlot() int {
	for i, s := range p.slots {
		if s.FD == -1 {
			return i
		}
	}
	return -1
}

// PollFDs returns the set of fds the pool wants polled for read/write
// readiness, tagging each with the poll event mask to use. Listeners are
// only included while a free slot exists, shedding load per spec.md §4.2's
// "fairness" rule.
func (p *Pool) PollFDs() []unix.PollFd {
	var fds []unix.PollFd

	nrOpen := 0
	for _, s := range p.slots {
		if s.FD == -1 {
			continue
		}
		nrOpen++
		events := int16(unix.POLLIN)
		if s.IsWriter() {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(s.FD), Events: events})
	}
	p.NrOpen = nrOpen

	if nrOpen < len(p.slots) {
		for _, l := range p.listen {
			if l.fd != -1 {
				fds = append(fds, unix.PollFd{Fd: int32(l.fd), Events: unix.POLLIN})
			}
		}
	}

	return fds
}

// Accept accepts one pending connection on the given listener fd into the
// first free slot, setting it non-blocking. Returns the slot index, or -2
// if the pool has no free slots (PoolFull), or -1 on an accept error.
func (p *Pool) Accept(listenFD int, accept func(fd int) (int, error), setNonblock func(fd int) error) int {
	idx := p.findEmptySlot()
	if idx < 0 {
		return -2
	}

	client, err := accept(listenFD)
	if err != nil {
		return -1
	}
	if setNonblock != nil {
		setNonblock(client)
	}

	p.NrOpen++
	p.slots[idx].Assign(client, time.Now())
	return idx
}

// CloseIdle closes every slot whose activity is older than the pool's
// timeout, returning the number closed. Matches slots_closeidle.
func (p *Pool) CloseIdle(now time.Time, closer func(fd int) error) int {
	closed := 0
	for _, s := range p.slots {
		if s.FD == -1 {
			continue
		}
		if now.Sub(s.Activity) > p.Timeout {
			s.Close(closer)
			closed++
		}
	}
	p.NrOpen -= closed
	if p.NrOpen < 0 {
		p.NrOpen = 0
	}
	return closed
}

// Slot returns the slot at index i, for callers that need to drive the
// read/reply/write cycle directly (e.g. after a poll event).
func (p *Pool) Slot(i int) *Slot {
	return p.slots[i]
}

// Slots returns all slots, for iteration by the reactor.
func (p *Pool) Slots() []*Slot {
	return p.slots
}

// ListenFDs returns the currently registered listener fds (those != -1).
func (p *Pool) ListenFDs() []int {
	var out []int
	for _, l := range p.listen {
		if l.fd != -1 {
			out = append(out, l.fd)
		}
	}
	return out
}

// Sweep drives one reactor pass: for each slot whose fd appeared readable
// in readyRead it calls Read; for each newly-StateReady slot it invokes
// reply to produce a response and stages it; for each slot whose fd
// appeared writable in readyWrite it calls Write. Closed/errored slots are
// reaped. Returns the number of slots that became ready this pass.
func (p *Pool) Sweep(readyRead, readyWrite map[int]bool, reply func(s *Slot), closer func(fd int) error) int {
	nrReady := 0
	now := time.Now()

	for _, s := range p.slots {
		if s.FD == -1 {
			continue
		}

		if readyRead[s.FD] {
			s.Read(now)
		}

		switch s.State {
		case StateReady:
			nrReady++
			if reply != nil {
				reply(s)
			}
		case StateError, StateClosed:
			s.Close(closer)
			continue
		}

		if readyWrite[s.FD] && s.IsWriter() {
			s.Write(now)
		}
	}

	return nrReady
}
