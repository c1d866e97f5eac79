// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package clienttable is the gateway's sole record of which transport
// addresses map to which VPN IPs. It is owned exclusively by the gateway's
// dispatcher goroutine; nothing in this package takes a lock because
// nothing needs to share it (§5).
package clienttable

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// MaxClients is the fixed table capacity (§5 resource caps).
const MaxClients = 254

// vpnOctetA/vpnOctetB/vpnOctetC fix the 10.8.0.0/24 VPN subnet; the
// gateway itself always holds .1, so the allocator cursor starts at .2.
const (
	vpnOctetA = 10
	vpnOctetB = 8
	vpnOctetC = 0

	firstAllocatable = 2
	lastAllocatable  = 255
)

// ErrTableFull is returned when all 254 slots are occupied.
var ErrTableFull = errors.New("clienttable: table full")

// ErrNoSlot is returned when the cursor could not find an inactive slot to
// populate — distinct from ErrTableFull per §4.4, though in this fixed-size
// implementation the two converge (count == MaxClients both times).
var ErrNoSlot = errors.New("clienttable: no inactive slot")

// Entry is one client's routing state.
type Entry struct {
	VPNIP        [4]byte
	Addr         *net.UDPAddr
	LastSeen     time.Time
	SessionID    uint32
	ServerPubKey [32]byte
	Active       bool
}

// Table is the gateway's fixed-capacity client table plus its VPN-IP
// allocation cursor.
type Table struct {
	entries [MaxClients]Entry
	count   int
	cursor  byte // next host octet to try, in [firstAllocatable, lastAllocatable]
}

// New returns an empty table with the allocation cursor at 10.8.0.2.
func New() *Table {
	return &Table{cursor: firstAllocatable}
}

// nextVPNIP returns the cursor's current address and then advances it,
// wrapping 10.8.0.255 back to 10.8.0.2 only once .255 itself has been
// handed out (§3 VPN-IP: the pool is .2-.255 inclusive, 254 addresses).
func (t *Table) nextVPNIP() [4]byte {
	ip := [4]byte{vpnOctetA, vpnOctetB, vpnOctetC, t.cursor}
	if t.cursor >= lastAllocatable {
		t.cursor = firstAllocatable
	} else {
		t.cursor++
	}
	return ip
}

// Insert allocates a VPN IP from the cursor and records addr against it in
// the first inactive slot, advancing the cursor exactly once. It fails with
// ErrTableFull if every slot is occupied, or ErrNoSlot if (in a more general
// implementation) no inactive slot could be found despite free capacity;
// this implementation's count accounting makes the two cases coincide.
func (t *Table) Insert(addr *net.UDPAddr, sessionID uint32, now time.Time) (Entry, error) {
	if t.count >= MaxClients {
		return Entry{}, ErrTableFull
	}

	slot := -1
	for i := range t.entries {
		if !t.entries[i].Active {
			slot = i
			break
		}
	}
	if slot < 0 {
		return Entry{}, ErrNoSlot
	}

	vpnIP := t.nextVPNIP()
	entry := Entry{
		VPNIP:     vpnIP,
		Addr:      addr,
		LastSeen:  now,
		SessionID: sessionID,
		Active:    true,
	}
	t.entries[slot] = entry
	t.count++
	return entry, nil
}

// LookupByAddr finds the active entry whose transport address matches addr
// on both IP and port.
func (t *Table) LookupByAddr(addr *net.UDPAddr) (int, *Entry) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Active && e.Addr.IP.Equal(addr.IP) && e.Addr.Port == addr.Port {
			return i, e
		}
	}
	return -1, nil
}

// LookupByVPNIP finds the active entry assigned vpnIP.
func (t *Table) LookupByVPNIP(vpnIP [4]byte) (int, *Entry) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.Active && e.VPNIP == vpnIP {
			return i, e
		}
	}
	return -1, nil
}

// Remove marks the entry at vpnIP inactive. It is idempotent: removing an
// already-inactive or unknown vpn_ip is a no-op.
func (t *Table) Remove(vpnIP [4]byte) {
	idx, e := t.LookupByVPNIP(vpnIP)
	if e == nil {
		return
	}
	t.entries[idx] = Entry{}
	t.count--
}

// RemoveByAddr is Remove's transport-address counterpart, used when a
// packet arrives from an address the table still knows but whose vpn_ip
// the caller hasn't looked up yet (e.g. DISCONNECT).
func (t *Table) RemoveByAddr(addr *net.UDPAddr) {
	idx, e := t.LookupByAddr(addr)
	if e == nil {
		return
	}
	t.entries[idx] = Entry{}
	t.count--
}

// Touch refreshes an entry's last-seen timestamp.
func (t *Table) Touch(idx int, now time.Time) {
	t.entries[idx].LastSeen = now
}

// SetServerPubKey records the server's ECDH public key for the entry at idx,
// so a repeat CONNECT_REQ from the same address can be answered from the
// table without a second enclave handshake.
func (t *Table) SetServerPubKey(idx int, pub [32]byte) {
	t.entries[idx].ServerPubKey = pub
}

// Count returns the number of active entries.
func (t *Table) Count() int {
	return t.count
}

// SweepIdle removes every active entry whose last-seen time is older than
// idleTimeout and returns the removed entries so the caller can purge their
// keys from the enclave (§4.4 timeout sweep).
func (t *Table) SweepIdle(now time.Time, idleTimeout time.Duration) []Entry {
	var evicted []Entry
	for i := range t.entries {
		e := &t.entries[i]
		if !e.Active {
			continue
		}
		if now.Sub(e.LastSeen) > idleTimeout {
			evicted = append(evicted, *e)
			t.entries[i] = Entry{}
			t.count--
		}
	}
	return evicted
}
