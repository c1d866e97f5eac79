package vpncrypto

import (
	"sync"

	"github.com/pkg/errors"
)

// MaxKeys is the fixed capacity of the enclave's key table (§3).
const MaxKeys = 256

// ErrKeyTableFull is returned by KeyTable.Add when no inactive slot remains.
var ErrKeyTableFull = errors.New("vpncrypto: key table full")

// ErrKeyMissing is returned by KeyTable.Get when no active entry matches
// the requested VPN IP.
var ErrKeyMissing = errors.New("vpncrypto: key missing")

type keyEntry struct {
	vpnIP  [4]byte
	key    [KeySize]byte
	active bool
}

// KeyTable is the enclave-only key table of §3: up to MaxKeys session keys,
// each keyed by VPN IP. It is not safe to share across processes; the
// enclave's single-threaded dispatch loop is the only caller in this
// codebase, but the mutex keeps KeyTable safe to unit-test concurrently.
type KeyTable struct {
	mu      sync.Mutex
	entries [MaxKeys]keyEntry
	count   int
}

// NewKeyTable returns an empty key table.
func NewKeyTable() *KeyTable {
	return &KeyTable{}
}

// Add inserts a session key for vpnIP into the first inactive slot. Per
// §4.3, it is a precondition violation (not enforced) for a key to already
// exist for that vpnIP — the new value wins, matching the original design.
func (t *KeyTable) Add(vpnIP [4]byte, key [KeySize]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].active && t.entries[i].vpnIP == vpnIP {
			t.entries[i].key = key // last-writer wins, per spec
			return nil
		}
	}

	for i := range t.entries {
		if !t.entries[i].active {
			t.entries[i].vpnIP = vpnIP
			t.entries[i].key = key
			t.entries[i].active = true
			t.count++
			return nil
		}
	}
	return ErrKeyTableFull
}

// Get returns the active session key for vpnIP, if any.
func (t *KeyTable) Get(vpnIP [4]byte) ([KeySize]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].active && t.entries[i].vpnIP == vpnIP {
			return t.entries[i].key, true
		}
	}
	return [KeySize]byte{}, false
}

// Remove scrubs and deactivates the entry for vpnIP. Idempotent: removing
// an already-inactive or unknown vpnIP is a no-op.
func (t *KeyTable) Remove(vpnIP [4]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].active && t.entries[i].vpnIP == vpnIP {
			ZeroArray(&t.entries[i].key)
			t.entries[i].active = false
			t.count--
			return
		}
	}
}

// Count returns the number of active key entries.
func (t *KeyTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
