package clienttable

import (
	"net"
	"testing"
	"time"
)

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestInsertAllocatesSequentialVPNIPs(t *testing.T) {
	tb := New()
	now := time.Now()

	e1, err := tb.Insert(udpAddr(1), 1, now)
	if err != nil {
		t.Fatalf("Insert 1: %v", err)
	}
	e2, err := tb.Insert(udpAddr(2), 2, now)
	if err != nil {
		t.Fatalf("Insert 2: %v", err)
	}

	if e1.VPNIP != [4]byte{10, 8, 0, 2} {
		t.Fatalf("expected first client at 10.8.0.2, got %v", e1.VPNIP)
	}
	if e2.VPNIP != [4]byte{10, 8, 0, 3} {
		t.Fatalf("expected second client at 10.8.0.3, got %v", e2.VPNIP)
	}
}

func TestAddressAllocationUniquenessAndWraparound(t *testing.T) {
	tb := New()
	now := time.Now()
	seen := make(map[[4]byte]bool)

	// Fill the table with unique addresses, free one entry, then insert
	// again: by then the cursor has wrapped from .255 back to .2.
	for i := 0; i < MaxClients; i++ {
		e, err := tb.Insert(udpAddr(i), uint32(i), now)
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		if seen[e.VPNIP] {
			t.Fatalf("duplicate vpn_ip allocated: %v", e.VPNIP)
		}
		seen[e.VPNIP] = true
	}

	if _, err := tb.Insert(udpAddr(9999), 9999, now); err != ErrTableFull {
		t.Fatalf("expected ErrTableFull at capacity, got %v", err)
	}

	// Evict one, then the next Insert must succeed and its entry must be
	// reachable by the vpn_ip it was given.
	_, first := tb.LookupByVPNIP([4]byte{10, 8, 0, 2})
	if first == nil {
		t.Fatalf("expected client at 10.8.0.2 to exist")
	}
	tb.Remove(first.VPNIP)

	e, err := tb.Insert(udpAddr(10000), 10000, now)
	if err != nil {
		t.Fatalf("Insert after evict: %v", err)
	}
	if _, active := tb.LookupByVPNIP(e.VPNIP); active == nil {
		t.Fatalf("newly inserted entry not found by vpn_ip")
	}
}

func TestLastAllocatableAddressIsAssignedBeforeWrap(t *testing.T) {
	tb := New()
	now := time.Now()

	var last Entry
	for i := 0; i < MaxClients; i++ {
		e, err := tb.Insert(udpAddr(i), uint32(i), now)
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		last = e
	}
	if last.VPNIP != [4]byte{10, 8, 0, 255} {
		t.Fatalf("expected the 254th client to be assigned 10.8.0.255, got %v", last.VPNIP)
	}
}

func TestLookupByAddrMatchesIPAndPort(t *testing.T) {
	tb := New()
	now := time.Now()
	tb.Insert(udpAddr(100), 1, now)

	if idx, e := tb.LookupByAddr(udpAddr(100)); e == nil || idx < 0 {
		t.Fatalf("expected lookup to find entry")
	}
	if _, e := tb.LookupByAddr(udpAddr(101)); e != nil {
		t.Fatalf("expected no match for a different port")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	tb := New()
	now := time.Now()
	e, _ := tb.Insert(udpAddr(1), 1, now)

	tb.Remove(e.VPNIP)
	if tb.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", tb.Count())
	}
	tb.Remove(e.VPNIP) // must not panic or double-decrement
	if tb.Count() != 0 {
		t.Fatalf("expected count to stay 0, got %d", tb.Count())
	}
}

func TestSweepIdleEvictsStaleEntries(t *testing.T) {
	tb := New()
	base := time.Now()

	tb.Insert(udpAddr(1), 1, base)
	e2, _ := tb.Insert(udpAddr(2), 2, base)
	tb.Touch(0, base.Add(250*time.Second))

	evicted := tb.SweepIdle(base.Add(310*time.Second), 300*time.Second)
	if len(evicted) != 1 || evicted[0].VPNIP != e2.VPNIP {
		t.Fatalf("expected exactly the stale second client evicted, got %+v", evicted)
	}
	if tb.Count() != 1 {
		t.Fatalf("expected one surviving entry, got %d", tb.Count())
	}
}

func TestTableFullLeavesTableUnmutated(t *testing.T) {
	tb := New()
	now := time.Now()
	for i := 0; i < MaxClients; i++ {
		tb.Insert(udpAddr(i), uint32(i), now)
	}
	countBefore := tb.Count()
	if _, err := tb.Insert(udpAddr(10001), 1, now); err == nil {
		t.Fatalf("expected insert at capacity to fail")
	}
	if tb.Count() != countBefore {
		t.Fatalf("expected no mutation on failed insert: before=%d after=%d", countBefore, tb.Count())
	}
}
