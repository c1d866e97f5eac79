//go:build linux

package vpncrypto

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MadviseDontDump advises the kernel not to include t's backing key-entry
// array in a core dump, best-effort. MADV_DONTDUMP is Linux-specific;
// other unix platforms rely on RLIMIT_CORE alone (see HardenProcess). The
// advice applies to whatever heap page the array currently lives on, which
// is a coarser unit than the array itself — a real per-allocation guarantee
// would require a dedicated mmap'd arena, out of scope for this exercise.
func (t *KeyTable) MadviseDontDump() error {
	region := unsafe.Slice((*byte)(unsafe.Pointer(&t.entries)), unsafe.Sizeof(t.entries))
	return unix.Madvise(region, unix.MADV_DONTDUMP)
}
