// Package idgen provides cryptographically random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Common prefixes. Keeping them here makes IDs recognisable in logs.
const (
	PrefixGate      = "gate_"
	PrefixInvoice   = "inv_"
	PrefixScreening = "scr_"
	PrefixRequest   = "req_"
)

// WithPrefix returns prefix followed by 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns a random hex string encoding numBytes random bytes.
func Hex(numBytes int) string {
	return hex.EncodeToString(randomBytes(numBytes))
}

// Salt returns 16 random bytes, used to blind invoice privacy hashes.
func Salt() []byte {
	return randomBytes(16)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}
