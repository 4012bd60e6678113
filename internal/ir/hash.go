package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashes.
// Version suffix enables future algorithm migration.
const (
	DomainFiring   = "glyph/firing/v1"
	DomainSnapshot = "glyph/snapshot/v1"
	DomainBatch    = "glyph/batch/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FiringHash identifies one (rule, binding identity) pair. The rule engine
// uses it to remember which matches already fired in a transaction.
func FiringHash(ruleID string, identity []GlyphID) string {
	canonical, err := MarshalCanonical(map[string]any{
		"rule":     ruleID,
		"identity": identity,
	})
	if err != nil {
		// Only strings and ints are involved; marshaling cannot fail.
		panic(fmt.Sprintf("FiringHash: %v", err))
	}
	return hashWithDomain(DomainFiring, canonical)
}

// SnapshotHash fingerprints a canonical graph dump so two stores can be
// compared without diffing the full document.
func SnapshotHash(canonicalDump []byte) string {
	return hashWithDomain(DomainSnapshot, canonicalDump)
}

// BatchHash fingerprints the canonical encoding of a committed batch.
func BatchHash(canonicalBatch []byte) string {
	return hashWithDomain(DomainBatch, canonicalBatch)
}
