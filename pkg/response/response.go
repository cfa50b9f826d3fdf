package response

import (
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

const (
	HashSize      = 32
	SignatureSize = 65
	MaxRecords    = 0xFF
)

// Hash identifies the resource a Response answers. It is not a checksum of
// the record set.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a 64 character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrap(err, "response: parse hash")
	}
	if len(b) != HashSize {
		return h, errors.Errorf("response: hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Response is the set of records answering one hash, optionally carrying an
// authority signature. No two records share a protocol.
//
// A Response is not safe for concurrent use; each request worker owns its
// instances exclusively.
type Response struct {
	hash      Hash
	records   []*Record
	index     map[uint16]int // protocol -> position in records
	signature []byte         // nil or SignatureSize bytes
}

// New returns an empty, unsigned Response for local authoring.
func New(hash Hash) *Response {
	return &Response{
		hash:  hash,
		index: make(map[uint16]int),
	}
}

// Identifier returns the hash this Response answers.
func (r *Response) Identifier() Hash {
	return r.hash
}

// RecordCount returns the number of records; zero for a nil Response.
func (r *Response) RecordCount() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// Records returns copies of the records in insertion order.
func (r *Response) Records() []Record {
	if r == nil {
		return nil
	}
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec.clone())
	}
	return out
}

// Record returns a copy of the record carrying protocol.
func (r *Response) Record(protocol uint16) (Record, bool) {
	if r == nil {
		return Record{}, false
	}
	i, ok := r.index[protocol]
	if !ok {
		return Record{}, false
	}
	return *r.records[i].clone(), true
}

// Protocols lists the record protocols in insertion order.
func (r *Response) Protocols() []uint16 {
	if r == nil {
		return nil
	}
	out := make([]uint16, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Protocol
	}
	return out
}

// GetSerializedRecord serializes the record carrying protocol into a new,
// caller-owned buffer. It returns ErrNotFound when no record matches.
func (r *Response) GetSerializedRecord(protocol uint16) ([]byte, error) {
	if r == nil {
		return nil, ErrNotFound
	}
	i, ok := r.index[protocol]
	if !ok {
		return nil, ErrNotFound
	}
	return r.records[i].Encode(), nil
}

// BuildRecord stamps a record with the current time and stores a copy of
// payload. It is the authoring path: the caller is trusted, so an existing
// record with the same protocol is overwritten in place rather than rejected.
func (r *Response) BuildRecord(protocol uint16, payload []byte, ttl uint16) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	rec := &Record{
		Protocol:  protocol,
		Payload:   append([]byte(nil), payload...),
		TTL:       ttl,
		Timestamp: time.Now().Unix(),
	}
	if i, ok := r.index[protocol]; ok {
		r.records[i] = rec
		return nil
	}
	if len(r.records) >= MaxRecords {
		return ErrTooManyRecords
	}
	r.append(rec)
	return nil
}

// AddRecord ingests one record in the single-record wire format. It returns
// ErrDuplicateProtocol, leaving the Response untouched, when a record with
// the same protocol is already present.
func (r *Response) AddRecord(raw []byte) error {
	rec, err := DecodeRecord(raw)
	if err != nil {
		return err
	}
	if _, ok := r.index[rec.Protocol]; ok {
		return ErrDuplicateProtocol
	}
	if len(r.records) >= MaxRecords {
		return ErrTooManyRecords
	}
	r.append(rec)
	return nil
}

// RemoveRecord drops the record carrying protocol. It reports whether a
// record was removed.
func (r *Response) RemoveRecord(protocol uint16) bool {
	i, ok := r.index[protocol]
	if !ok {
		return false
	}
	r.records = append(r.records[:i], r.records[i+1:]...)
	r.reindex()
	return true
}

// IsAuthoritative reports whether the Response carries a signature.
func (r *Response) IsAuthoritative() bool {
	return r != nil && r.signature != nil
}

// Signature returns a copy of the signature, or nil.
func (r *Response) Signature() []byte {
	if r == nil || r.signature == nil {
		return nil
	}
	return append([]byte(nil), r.signature...)
}

// SetSignature attaches an authority signature. Passing nil clears it.
func (r *Response) SetSignature(sig []byte) error {
	if sig == nil {
		r.signature = nil
		return nil
	}
	if len(sig) != SignatureSize {
		return ErrInvalidSignature
	}
	r.signature = append([]byte(nil), sig...)
	return nil
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := New(r.hash)
	for _, rec := range r.records {
		c.append(rec.clone())
	}
	if r.signature != nil {
		c.signature = append([]byte(nil), r.signature...)
	}
	return c
}

// Reset releases every record and the signature. The hash is kept.
func (r *Response) Reset() {
	r.records = nil
	r.index = make(map[uint16]int)
	r.signature = nil
}

func (r *Response) append(rec *Record) {
	if r.index == nil {
		r.index = make(map[uint16]int)
	}
	r.index[rec.Protocol] = len(r.records)
	r.records = append(r.records, rec)
}

func (r *Response) reindex() {
	r.index = make(map[uint16]int, len(r.records))
	for i, rec := range r.records {
		r.index[rec.Protocol] = i
	}
}
