//go:build windows

package vpncrypto

// HardenProcess is a no-op on Windows: RLIMIT_CORE and mlockall have no
// direct equivalent exposed by golang.org/x/sys on this platform. The
// enclave still runs, just without the unix-specific memory hardening.
func HardenProcess() []error {
	return nil
}
