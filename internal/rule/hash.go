package rule

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future algorithm migration.
const (
	DomainParams   = "playbook/params/v1"
	DomainSnapshot = "playbook/snapshot/v1"
	DomainOutcome  = "playbook/outcome/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain || 0x00 || data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ParamsHash computes the content-addressed identity of a primitive
// instance: the kind plus its canonical parameters. Two references to
// the same primitive with the same parameters share one hash, which is
// what makes per-cycle result caching sound.
func ParamsHash(kind string, params Object) (string, error) {
	obj := Object{
		"kind":   Str(kind),
		"params": params,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("params hash: %w", err)
	}
	return hashWithDomain(DomainParams, canonical), nil
}

// HashCanonical hashes an arbitrary canonical-serializable value under
// the given domain. Used by the snapshot builder and outcome model to
// produce their audit identities.
func HashCanonical(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}
