package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/n3n-go/edge/internal/util"
)

// DefaultSelectionCriterion is the initial, neutral score assigned to a
// newly discovered supernode (lower scores win).
const DefaultSelectionCriterion int32 = 0

// failurePenalty is added to a supernode's score on NAK/timeout, grounded
// on spec.md §4.5's "incremented on NAK/timeout" rule.
const failurePenalty int32 = 1000

// Supernode is a peer record plus a resolver-managed hostname and the
// monotonic selection-criterion score from spec.md §3.
type Supernode struct {
	Record
}

// SupernodeList is the ordered collection from spec.md §4.5: the head
// after Sort is the "current" supernode.
type SupernodeList struct {
	mu   sync.Mutex
	list []*Supernode
}

// NewSupernodeList constructs an empty list.
func NewSupernodeList() *SupernodeList {
	return &SupernodeList{}
}

// Add appends a new supernode with the default selection criterion if one
// with this hostname is not already present, returning the (new or
// existing) entry.
func (l *SupernodeList) Add(hostname string, sock util.Sock) *Supernode {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sn := range l.list {
		if sn.Hostname == hostname {
			return sn
		}
	}
	sn := &Supernode{Record{
		Sock:     sock,
		Hostname: hostname,
		Score:    DefaultSelectionCriterion,
		LastSeen: time.Now(),
	}}
	l.list = append(l.list, sn)
	return sn
}

// Current returns the head of the list after sorting by score (lower is
// better), or nil if the list is empty.
func (l *SupernodeList) Current() *Supernode {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sortLocked()
	if len(l.list) == 0 {
		return nil
	}
	return l.list[0]
}

func (l *SupernodeList) sortLocked() {
	sort.SliceStable(l.list, func(i, j int) bool { return l.list[i].Score < l.list[j].Score })
}

// MarkSuccess resets a supernode's score to the default on a successful
// REGISTER_SUPER_ACK, updating LastSeen and promoting it back toward the
// head of the list.
func (l *SupernodeList) MarkSuccess(sn *Supernode, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sn.Score = DefaultSelectionCriterion
	sn.LastSeen = now
}

// MarkFailed increases a supernode's score on NAK or registration timeout,
// per spec.md §4.5 and §4.8's "on repeated failure the edge rotates by
// promoting the next-best candidate" rule: Current() will naturally return
// a different head once this supernode's score is worse than a peer's.
func (l *SupernodeList) MarkFailed(sn *Supernode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sn.Score += failurePenalty
}

// Rotate forces sn to the back by giving it the maximum score observed plus
// one, so Current() picks a different entry next call whenever the list
// holds more than one (used on REGISTER_SUPER_NAK and after repeated
// unacknowledged registrations).
func (l *SupernodeList) Rotate(sn *Supernode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	max := sn.Score
	for _, other := range l.list {
		if other.Score > max {
			max = other.Score
		}
	}
	sn.Score = max + 1
}

// All returns a snapshot copy of the supernode list, sorted by score.
func (l *SupernodeList) All() []*Supernode {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sortLocked()
	out := make([]*Supernode, len(l.list))
	copy(out, l.list)
	return out
}

// ByHostname returns the supernode entry for hostname, or nil.
func (l *SupernodeList) ByHostname(hostname string) *Supernode {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sn := range l.list {
		if sn.Hostname == hostname {
			return sn
		}
	}
	return nil
}

// UpdateSock overwrites a supernode's socket, used by the resolver
// handshake (internal/resolve) when a hostname re-resolves to a new
// address.
func (l *SupernodeList) UpdateSock(hostname string, sock util.Sock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sn := range l.list {
		if sn.Hostname == hostname {
			sn.Sock = sock
			return
		}
	}
}
