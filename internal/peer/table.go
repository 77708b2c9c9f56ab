// Package peer implements the peer table and supernode selection list
// described in spec.md §4.4-4.5, grounded on n3n's uthash-based
// add_sn_to_list_by_mac_or_sock (src/n2n.c) but expressed as a plain Go map
// plus a parallel slice, per spec.md §9's recommendation to replace the
// intrusive hash-map macros with a hash map from MAC to record and a
// sorted sequence for selection.
package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/n3n-go/edge/internal/util"
)

// P2PState is the per-peer state machine from spec.md §4.8.
type P2PState int

const (
	StateUnknown P2PState = iota
	StateRegistering
	StateRegistered
	StateP2PCandidate
	StateP2PConfirmed
)

// Record is one peer: MAC, socket, last-seen time, selection score, and an
// optional resolver hostname string. Mutation and iteration happen on a
// single thread (the owning edge's reactor) except where the Table's mutex
// is explicitly taken for cross-goroutine access from the resolver.
type Record struct {
	MAC           util.MAC
	Sock          util.Sock
	LastSeen      time.Time
	Score         int32 // lower is better; supernode selection criterion
	Hostname      string
	P2P           P2PState
	PrevTimestamp uint64 // last accepted replay-protection token from this peer

	// SawRegisterIn/SawRegisterOut record each direction of the REGISTER
	// handshake with this peer. Once both directions have been observed
	// the peer is promoted to StateP2PConfirmed, per spec.md's "two such
	// exchanges" promotion rule.
	SawRegisterIn  bool
	SawRegisterOut bool
}

// Table holds peer Records indexed both by MAC and (via linear scan) by
// socket, per spec.md §4.4.
type Table struct {
	mu      sync.Mutex
	byMAC   map[util.MAC]*Record
}

// NewTable constructs an empty peer table.
func NewTable() *Table {
	return &Table{byMAC: make(map[util.MAC]*Record)}
}

// AddMode selects the behavior of AddOrUpdate when no matching record is
// found.
type AddMode int

const (
	ModeAdd AddMode = iota
	ModeNoAdd
)

// AddOrUpdate implements add_sn_to_list_by_mac_or_sock: search by MAC if
// non-null, else scan by socket; if found and the record's MAC was null
// before now, re-key it under the newly observed MAC; if not found and
// mode == ModeAdd, create a new record with the default selection score.
func (t *Table) AddOrUpdate(sock util.Sock, mac util.MAC, mode AddMode) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !mac.IsNull() {
		if rec, ok := t.byMAC[mac]; ok {
			rec.Sock = sock
			return rec
		}
	}

	// zero MAC (or unknown non-zero MAC not yet present): search by socket
	for _, rec := range t.byMAC {
		if rec.Sock.Equal(sock) {
			if !mac.IsNull() && rec.MAC != mac {
				if !rec.MAC.IsNull() {
					continue
				}
				delete(t.byMAC, rec.MAC)
				rec.MAC = mac
				t.byMAC[mac] = rec
			}
			return rec
		}
	}

	if mode != ModeAdd {
		return nil
	}

	rec := &Record{
		MAC:      mac,
		Sock:     sock,
		LastSeen: time.Now(),
		Score:    DefaultSelectionCriterion,
	}
	t.byMAC[mac] = rec
	return rec
}

// LookupByMAC returns the record keyed by mac, or nil.
func (t *Table) LookupByMAC(mac util.MAC) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byMAC[mac]
}

// LookupBySock linearly scans for a record matching sock, or nil.
func (t *Table) LookupBySock(sock util.Sock) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.byMAC {
		if rec.Sock.Equal(sock) {
			return rec
		}
	}
	return nil
}

// Delete removes the record keyed by mac.
func (t *Table) Delete(mac util.MAC) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byMAC, mac)
}

// Each calls fn once per record; fn must not mutate the table.
func (t *Table) Each(fn func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.byMAC {
		fn(rec)
	}
}

// Len reports the number of records currently in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byMAC)
}

// PurgeStale evicts every record whose LastSeen is older than ttl, per
// spec.md §3's "now - last_seen > register_ttl × k" eviction rule. Returns
// the number of records purged.
func (t *Table) PurgeStale(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	purged := 0
	for mac, rec := range t.byMAC {
		if now.Sub(rec.LastSeen) > ttl {
			delete(t.byMAC, mac)
			purged++
		}
	}
	return purged
}

// Registered returns every record currently in StateRegistered or later
// (used for broadcast/multicast fan-out), sorted by MAC for determinism.
func (t *Table) Registered() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Record
	for _, rec := range t.byMAC {
		if rec.P2P >= StateRegistered {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC.String() < out[j].MAC.String() })
	return out
}
