package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key returns a deterministic string identity for v.
//
// Two values have the same Key iff they are canonically equal, so Key is
// safe to use as a Go map key for primary-key dedup and foreign-key set
// membership. Values that cannot be canonicalised fall back to a typed
// %v rendering, which still never collides with a canonical form.
func Key(v IRValue) string {
	b, err := MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("!%T:%v", v, v)
	}
	return string(b)
}

// KeySet collects the Keys of vs, skipping IRNull.
func KeySet(vs ...IRValue) map[string]struct{} {
	out := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		if IsNull(v) {
			continue
		}
		out[Key(v)] = struct{}{}
	}
	return out
}

// IsNull reports whether v is absent or IRNull.
func IsNull(v IRValue) bool {
	switch v.(type) {
	case nil, IRNull:
		return true
	}
	return false
}

// Fingerprint computes a domain-separated SHA-256 digest of a value.
//
// Format: SHA256(domain + 0x00 + canonical(v)), hex encoded. The domain
// prefix keeps fingerprints of different kinds (queries, result sets) from
// colliding even when their canonical bytes match.
func Fingerprint(domain string, v IRValue) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Domain prefixes for Fingerprint.
const (
	DomainQuery  = "stitch/query/v1"
	DomainResult = "stitch/result/v1"
)
