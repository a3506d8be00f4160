package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest domains. The version suffix allows a future algorithm change.
const (
	DomainSnapshot = "stitchfeed/snapshot/v1"
	DomainTrace    = "stitchfeed/trace/v1"
)

// Digest returns hex(SHA256(domain || 0x00 || Marshal(v))).
// The null separator keeps domain and payload unambiguous.
func Digest(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SnapshotDigest fingerprints an ordered list of thread ids.
func SnapshotDigest(threadIDs []string) string {
	// []string always marshals
	d, _ := Digest(DomainSnapshot, threadIDs)
	return d
}
