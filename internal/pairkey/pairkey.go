// Package pairkey derives the stable fingerprint that keys one Pair
// Store instance, and the comparisonId format built on top of it.
package pairkey

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Of returns the SHA-256 hex digest of the two URLs sorted and joined by
// "|", insensitive to argument order.
func Of(leftURL, rightURL string) string {
	pair := []string{leftURL, rightURL}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(strings.Join(pair, "|")))
	return hex.EncodeToString(sum[:])
}

// comparisonIDPrefixLen is the number of leading hex characters of the pair
// fingerprint carried into the comparisonId (and used by the gateway to
// recover pairKey from a comparisonId alone).
const comparisonIDPrefixLen = 40

// Prefix returns the first 40 hex characters of a pair fingerprint: the key
// that selects a Pair Store instance. The POST and GET paths must both route
// through this prefix, since a poll only has the comparisonId to go on.
func Prefix(pairKey string) string {
	if len(pairKey) < comparisonIDPrefixLen {
		return pairKey
	}
	return pairKey[:comparisonIDPrefixLen]
}

// NewComparisonID builds a fresh comparisonId for a pair: the first 40 hex
// characters of Of(leftURL, rightURL), a hyphen, and a fresh UUIDv4. Total
// length is bounded at 40 + 1 + 36 = 77.
func NewComparisonID(leftURL, rightURL string) string {
	return Of(leftURL, rightURL)[:comparisonIDPrefixLen] + "-" + uuid.NewString()
}

// FromComparisonID recovers the pairKey prefix a comparisonId was minted
// with. It does not re-derive or verify it against any URL pair; it is a
// syntactic extraction used to route a GET poll to the right Pair Store.
func FromComparisonID(comparisonID string) string {
	if len(comparisonID) < comparisonIDPrefixLen {
		return comparisonID
	}
	return comparisonID[:comparisonIDPrefixLen]
}
