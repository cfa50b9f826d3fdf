package crypto

import (
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the width of a MARP resource hash.
const HashSize = blake2b.Size256

// Digest is the BLAKE2b-256 hash of data.
func Digest(data []byte) [HashSize]byte {
	return blake2b.Sum256(data)
}

// NameHash maps a human readable name onto the 32-byte identifier queried on
// the wire. Names are case-insensitive and ignore a trailing dot.
func NameHash(name string) [HashSize]byte {
	normalized := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	return Digest([]byte(normalized))
}
