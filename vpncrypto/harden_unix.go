//go:build unix

package vpncrypto

import (
	"golang.org/x/sys/unix"
)

// HardenProcess applies the enclave's startup hardening from §4.3: disable
// core dumps and lock all current and future pages into RAM. Each step is
// best-effort — some environments (containers without CAP_IPC_LOCK,
// restrictive seccomp) deny these operations, so failures are collected and
// returned for the caller to log rather than treated as fatal. Callers that
// also want the key table excluded from core dumps on Linux should follow
// up with keys.MadviseDontDump(), which is a no-op on other unix platforms.
func HardenProcess() []error {
	var errs []error

	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		errs = append(errs, err)
	}

	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		errs = append(errs, err)
	}

	return errs
}
