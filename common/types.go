// Package common holds the small set of shared value types (hashes) used
// across the sync handler and its collaborators.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the expected length of a block or transaction hash.
const HashLength = 32

// Hash represents the 32 byte output of the chain's block hashing
// function. Identity of headers, blocks and requests is by Hash.
type Hash [HashLength]byte

// BytesToHash sets b as the tail of a Hash, left-padding with zeroes if
// b is shorter than HashLength and truncating the left side if longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// Bytes returns the raw byte representation of h.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the 0x-prefixed hex encoding of h.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// TerminalString returns a shortened hex string for logging.
func (h Hash) TerminalString() string {
	return fmt.Sprintf("%x…%x", h[:3], h[len(h)-3:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }
