package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Protocol constants
const (
	// Magic number for MARP frames ('MARP')
	ProtocolMagic = 0x4D415250

	// Protocol version
	ProtocolVersion = 0x0001

	// Header size
	HeaderSize = 32

	// MaxPayloadSize bounds a frame body on stream transports. Datagram
	// transports apply their own, smaller limit.
	MaxPayloadSize = 16 << 20

	// MaxRecurseDepth is the hop budget a query may ask for.
	MaxRecurseDepth = 8
)

// Frame types
const (
	TypeQuery    uint8 = 0x01
	TypeResponse uint8 = 0x02
	TypeError    uint8 = 0x03
)

// Flags
const (
	FlagAuthoritativeOnly uint8 = 0x01 // Only signed answers are acceptable
	FlagRecursionDesired  uint8 = 0x02 // Responder may ask its peers
	FlagTruncated         uint8 = 0x04 // Answer did not fit the transport
)

// MessageID pairs a reply with its query (16 bytes)
type MessageID [16]byte

// ===== HELPER FUNCTIONS =====

// GenerateMessageID generates a random message ID
func GenerateMessageID() MessageID {
	var id MessageID
	// Use timestamp for first 8 bytes (for uniqueness and ordering)
	timestamp := time.Now().UnixNano()
	binary.BigEndian.PutUint64(id[0:8], uint64(timestamp))

	if _, err := rand.Read(id[8:]); err != nil {
		binary.BigEndian.PutUint64(id[8:], uint64(timestamp^0x4D415250))
	}

	return id
}

// TypeName is used in logs and metrics labels.
func TypeName(t uint8) string {
	switch t {
	case TypeQuery:
		return "query"
	case TypeResponse:
		return "response"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}
