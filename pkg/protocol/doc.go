// Package protocol implements the MARP frame layer.
//
// Every message exchanged between MARP nodes, over UDP or a libp2p stream, is
// a Frame: a fixed 32-byte header followed by Length payload bytes.
//
// # Frame Types
//
//   - Query: CBOR encoded query (hash and wanted protocols)
//   - Response: serialized Response for the queried hash
//   - Error: UTF-8 reason the query could not be answered
//
// # Header Format
//
// All integers are big-endian:
//   - Magic (4 bytes): Protocol identifier (0x4D415250 = "MARP")
//   - Version (2 bytes): Protocol version (0x0001)
//   - Type (1 byte): Frame type
//   - Flags (1 byte): Authoritative-only, recursion desired, truncated
//   - RecurseDepth (1 byte): Remaining hop budget of a query
//   - Reserved (1 byte)
//   - MessageID (16 bytes): Pairs a reply with its query
//   - Length (4 bytes): Payload length
//   - Reserved (2 bytes)
//
// # Usage Example
//
//	payload, _ := query.ForName("example.org").Encode()
//	req := protocol.NewQueryFrame(false, 2, payload)
//	if err := protocol.WriteFrame(stream, req); err != nil {
//	    return err
//	}
//	reply, err := protocol.ReadFrame(stream)
//
// Replies carry the MessageID of the query they answer. Receivers must drop
// replies whose MessageID they did not issue.
package protocol
