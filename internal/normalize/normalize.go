// Package normalize canonicalizes user-supplied lookup keys.
//
// Keys are lowered with the per-rune Unicode simple case mapping, which
// is locale-independent and matches the output of the index analyzer's
// lowercase token filter. The same function is applied at write time
// (the stored projection) and at query time (the term value), so an
// exact-match lookup on a normalized field never produces a false
// negative from case differences.
package normalize

import "strings"

// Key returns the canonical comparison form of a lookup key.
func Key(s string) string {
	return strings.ToLower(s)
}
