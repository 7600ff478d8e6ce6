package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies a repository's reusable environment configuration
// in the memory pool. It hashes the repository identity together with the
// package/version string, which stands in for a dependency-manifest hash:
// a dependency change that ships a new version yields a new fingerprint,
// so stale cached setups are never returned for it.
func Fingerprint(repo, version string) string {
	h := sha256.New()
	h.Write([]byte(repo))
	h.Write([]byte{0x00}) // separator
	h.Write([]byte(version))
	return hex.EncodeToString(h.Sum(nil))
}
