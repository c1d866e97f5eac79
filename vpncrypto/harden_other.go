//go:build !linux

package vpncrypto

// MadviseDontDump is a no-op outside Linux; MADV_DONTDUMP has no portable
// equivalent, and RLIMIT_CORE (applied by HardenProcess on unix) is what
// keeps key material out of core dumps on those platforms.
func (t *KeyTable) MadviseDontDump() error {
	return nil
}
