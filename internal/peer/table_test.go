package peer

import (
	"testing"
	"time"

	"github.com/n3n-go/edge/internal/util"
)

func sockFor(b byte) util.Sock {
	s := util.Sock{Family: util.FamilyV4, Port: 4242}
	s.Addr[3] = b
	return s
}

func TestAddOrUpdateLookupByMAC(t *testing.T) {
	table := NewTable()
	mac := util.MAC{1, 2, 3, 4, 5, 6}
	sock := sockFor(1)

	rec := table.AddOrUpdate(sock, mac, ModeAdd)
	if rec == nil {
		t.Fatalf("expected a record to be created")
	}

	found := table.LookupByMAC(mac)
	if found != rec {
		t.Fatalf("lookup by mac did not return the same record")
	}
	if table.Len() != 1 {
		t.Fatalf("expected exactly one record in the table")
	}
}

func TestAddOrUpdateRekeysOnMACLearned(t *testing.T) {
	table := NewTable()
	sock := sockFor(2)

	// transient null-MAC record (e.g. from initial REGISTER)
	rec := table.AddOrUpdate(sock, util.NullMAC, ModeAdd)
	if rec == nil {
		t.Fatalf("expected record")
	}

	mac := util.MAC{9, 9, 9, 9, 9, 9}
	rec2 := table.AddOrUpdate(sock, mac, ModeNoAdd)
	if rec2 != rec {
		t.Fatalf("expected re-keying to return the same record")
	}
	if table.LookupByMAC(mac) != rec {
		t.Fatalf("expected the record to now be keyed by the learned mac")
	}
	if table.LookupByMAC(util.NullMAC) != nil {
		t.Fatalf("null-mac key should have been removed on re-key")
	}
}

func TestAddOrUpdateNoAddReturnsNilWhenMissing(t *testing.T) {
	table := NewTable()
	if rec := table.AddOrUpdate(sockFor(3), util.MAC{1}, ModeNoAdd); rec != nil {
		t.Fatalf("expected nil for unknown peer with ModeNoAdd")
	}
}

func TestPurgeStale(t *testing.T) {
	table := NewTable()
	mac := util.MAC{1, 1, 1, 1, 1, 1}
	rec := table.AddOrUpdate(sockFor(4), mac, ModeAdd)
	rec.LastSeen = time.Now().Add(-time.Hour)

	purged := table.PurgeStale(time.Now(), time.Minute)
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	if table.LookupByMAC(mac) != nil {
		t.Fatalf("expected stale record to be gone")
	}
}
