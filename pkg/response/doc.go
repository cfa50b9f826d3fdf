// Package response implements the MARP Response: the set of typed records
// answering one 32-byte hash, its wire codec and the merge engine that
// reconciles two independently obtained Responses.
//
// # Wire Format
//
// A serialized Response is, with all integers big-endian:
//
//	[32B hash] [1B record count N]
//	repeat N: [2B protocol][2B length L][L B payload][2B ttl][8B timestamp]
//	[65B signature]
//
// The signature is present only on authoritative Responses. A single record
// uses the inner layout on its own (GetSerializedRecord, AddRecord).
//
// # Merge Policy
//
// Authority beats timestamps and timestamps beat arrival order. A signed
// Response is never altered by a merge and replaces any unsigned one
// wholesale. Two unsigned Responses reconcile per protocol, last writer wins,
// with ties going to the receiver.
//
// # Ownership
//
// The package has no internal locking. A Response belongs to one goroutine at
// a time; Merge may move content between its two arguments.
package response
