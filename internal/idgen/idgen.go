// Package idgen provides cryptographically random identifiers for ledger
// entries, transactions ("txn_"), escrow records ("esc_"), items ("itm_"),
// webhook subscriptions ("wh_"), and emitted events ("evt_").
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// New generates a UUID-like random ID (32 hex chars with dashes), used for
// ledger entry rows where no typed prefix is needed.
func New() string {
	b := randBytes(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix generates prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(randBytes(12))
}

// Hex generates a random hex string of the given byte length. Used for
// request IDs and webhook signing secrets.
func Hex(numBytes int) string {
	return hex.EncodeToString(randBytes(numBytes))
}
