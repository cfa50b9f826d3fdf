package response

import (
	"encoding/binary"
	"time"
)

// Record wire layout: protocol(2) | length(2) | payload(L) | ttl(2) | timestamp(8)
const (
	RecordHeaderSize  = 4
	RecordTrailerSize = 10
	MaxPayloadSize    = 0xFFFF
)

// Record is one typed, TTL-bounded, timestamped answer fragment. Payload is
// opaque ciphertext owned by the record.
type Record struct {
	Protocol  uint16
	Payload   []byte
	TTL       uint16
	Timestamp int64 // unix seconds of the last write
}

// WireSize is the number of bytes the record occupies when serialized.
func (rec *Record) WireSize() int {
	return RecordHeaderSize + len(rec.Payload) + RecordTrailerSize
}

// Time returns the record timestamp as a time.Time.
func (rec *Record) Time() time.Time {
	return time.Unix(rec.Timestamp, 0)
}

// Expired reports whether the record's TTL has elapsed at now. Timestamps
// come from peers, so the comparison must hold for any int64.
func (rec *Record) Expired(now time.Time) bool {
	return now.Unix()-int64(rec.TTL) > rec.Timestamp
}

func (rec *Record) clone() *Record {
	c := *rec
	c.Payload = append([]byte(nil), rec.Payload...)
	return &c
}

// put writes the record at the start of buf and returns the bytes written.
// buf must hold at least WireSize bytes.
func (rec *Record) put(buf []byte) int {
	n := len(rec.Payload)
	binary.BigEndian.PutUint16(buf[0:2], rec.Protocol)
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	copy(buf[4:4+n], rec.Payload)
	binary.BigEndian.PutUint16(buf[4+n:6+n], rec.TTL)
	binary.BigEndian.PutUint64(buf[6+n:14+n], uint64(rec.Timestamp))
	return 14 + n
}

// Encode returns the record in the single-record wire format.
func (rec *Record) Encode() []byte {
	buf := make([]byte, rec.WireSize())
	rec.put(buf)
	return buf
}

// readRecord parses one record from r. The payload is copied out of the
// underlying buffer.
func readRecord(r *reader) (*Record, error) {
	protocol, ok := r.uint16()
	if !ok {
		return nil, ErrTruncatedRecord
	}
	length, ok := r.uint16()
	if !ok {
		return nil, ErrTruncatedRecord
	}
	payload, ok := r.take(int(length))
	if !ok {
		return nil, ErrTruncatedRecord
	}
	ttl, ok := r.uint16()
	if !ok {
		return nil, ErrTruncatedRecord
	}
	ts, ok := r.int64()
	if !ok {
		return nil, ErrTruncatedRecord
	}

	return &Record{
		Protocol:  protocol,
		Payload:   append([]byte(nil), payload...),
		TTL:       ttl,
		Timestamp: ts,
	}, nil
}

// DecodeRecord parses a record in the single-record wire format. Bytes past
// the end of the record are ignored.
func DecodeRecord(raw []byte) (*Record, error) {
	return readRecord(newReader(raw))
}
