package response

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHash(seed byte) Hash {
	var h Hash
	for i := range h {
		h[i] = seed + byte(i)
	}
	return h
}

func testSignature() []byte {
	sig := make([]byte, SignatureSize)
	for i := range sig {
		sig[i] = byte(0xA0 + i)
	}
	return sig
}

// newTestResponse builds a Response with explicit timestamps.
func newTestResponse(seed byte, records ...Record) *Response {
	resp := New(testHash(seed))
	for i := range records {
		resp.append(records[i].clone())
	}
	return resp
}

func mustMarshal(t *testing.T, r *Response) []byte {
	t.Helper()
	buf, err := r.MarshalBinary()
	require.NoError(t, err)
	return buf
}

func requireSameContent(t *testing.T, want, got *Response) {
	t.Helper()
	require.Equal(t, want.Identifier(), got.Identifier())
	require.Equal(t, want.RecordCount(), got.RecordCount())
	for i, w := range want.Records() {
		g := got.Records()[i]
		assert.Equal(t, w.Protocol, g.Protocol, "record %d protocol", i)
		assert.True(t, bytes.Equal(w.Payload, g.Payload), "record %d payload", i)
		assert.Equal(t, w.TTL, g.TTL, "record %d ttl", i)
		assert.Equal(t, w.Timestamp, g.Timestamp, "record %d timestamp", i)
	}
	assert.Equal(t, want.Signature(), got.Signature())
}

func TestSerializeLayout(t *testing.T) {
	resp := newTestResponse(1, Record{Protocol: 0x0102, Payload: []byte("ab"), TTL: 60, Timestamp: 100})

	buf := mustMarshal(t, resp)

	want := make([]byte, 0, 64)
	h := testHash(1)
	want = append(want, h[:]...)
	want = append(want, 1)
	want = append(want, 0x01, 0x02, 0x00, 0x02, 'a', 'b', 0x00, 60)
	want = binary.BigEndian.AppendUint64(want, 100)

	assert.Equal(t, want, buf)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		resp   *Response
		signed bool
	}{
		{name: "empty", resp: newTestResponse(2)},
		{
			name: "several records",
			resp: newTestResponse(3,
				Record{Protocol: 1, Payload: []byte("aa"), TTL: 60, Timestamp: 100},
				Record{Protocol: 28, Payload: []byte("2001:db8::1"), TTL: 3600, Timestamp: 1700000000},
				Record{Protocol: 0xFFFF, Payload: bytes.Repeat([]byte{7}, 300), TTL: 0, Timestamp: -5},
			),
		},
		{
			name:   "signed",
			resp:   newTestResponse(4, Record{Protocol: 1, Payload: []byte("x"), TTL: 1, Timestamp: 1}),
			signed: true,
		},
		{
			name: "maximum payload",
			resp: newTestResponse(5, Record{Protocol: 9, Payload: make([]byte, MaxPayloadSize), TTL: 5, Timestamp: 5}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.signed {
				require.NoError(t, tt.resp.SetSignature(testSignature()))
			}

			buf := mustMarshal(t, tt.resp)
			decoded, err := Deserialize(buf)
			require.NoError(t, err)

			requireSameContent(t, tt.resp, decoded)
			assert.Equal(t, tt.signed, decoded.IsAuthoritative())
		})
	}
}

func TestRoundTripMaxRecords(t *testing.T) {
	resp := New(testHash(6))
	for p := 0; p < MaxRecords; p++ {
		require.NoError(t, resp.BuildRecord(uint16(p), []byte{byte(p)}, 30))
	}
	assert.Equal(t, ErrTooManyRecords, resp.BuildRecord(MaxRecords, []byte{1}, 30))

	decoded, err := Deserialize(mustMarshal(t, resp))
	require.NoError(t, err)
	requireSameContent(t, resp, decoded)
}

func TestSizeUpperBound(t *testing.T) {
	resp := newTestResponse(7,
		Record{Protocol: 1, Payload: []byte("aaaa"), TTL: 60, Timestamp: 100},
		Record{Protocol: 2, Payload: nil, TTL: 60, Timestamp: 100},
	)

	want := HashSize + SignatureSize + 1 + (14 + 4) + 14
	assert.Equal(t, want, resp.SizeUpperBound())

	unsigned := mustMarshal(t, resp)
	assert.Equal(t, resp.SizeUpperBound()-SignatureSize, len(unsigned))

	require.NoError(t, resp.SetSignature(testSignature()))
	signed := mustMarshal(t, resp)
	assert.Equal(t, resp.SizeUpperBound(), len(signed))

	var nilResp *Response
	assert.Equal(t, 0, nilResp.SizeUpperBound())
}

func TestSerializeShortBuffer(t *testing.T) {
	resp := newTestResponse(8, Record{Protocol: 1, Payload: []byte("a"), TTL: 1, Timestamp: 1})

	// the exact unsigned length is not enough: callers allocate the bound
	_, err := resp.Serialize(make([]byte, resp.SizeUpperBound()-SignatureSize))
	assert.Equal(t, ErrShortBuffer, err)

	n, err := resp.Serialize(make([]byte, resp.SizeUpperBound()))
	require.NoError(t, err)
	assert.Equal(t, resp.SizeUpperBound()-SignatureSize, n)
}

func TestSerializeTooManyRecordsAfterMerge(t *testing.T) {
	a := New(testHash(9))
	b := New(testHash(9))
	for p := 0; p < 200; p++ {
		require.NoError(t, a.BuildRecord(uint16(p), nil, 1))
		require.NoError(t, b.BuildRecord(uint16(1000+p), nil, 1))
	}
	assert.Equal(t, 400, a.Merge(b))

	_, err := a.MarshalBinary()
	assert.Equal(t, ErrTooManyRecords, err)
}

func TestDeserializeTruncatedPrefixes(t *testing.T) {
	resp := newTestResponse(10,
		Record{Protocol: 1, Payload: []byte("aa"), TTL: 60, Timestamp: 100},
		Record{Protocol: 2, Payload: []byte("bbb"), TTL: 60, Timestamp: 200},
	)
	bodyLen := len(mustMarshal(t, resp))
	require.NoError(t, resp.SetSignature(testSignature()))
	full := mustMarshal(t, resp)

	for n := 0; n < len(full); n++ {
		if n == bodyLen {
			// exactly the unsigned body is itself a valid buffer
			continue
		}
		_, err := Deserialize(full[:n])
		require.Error(t, err, "prefix %d", n)

		switch {
		case n <= HashSize:
			assert.Equal(t, ErrTruncatedHeader, err, "prefix %d", n)
		case n < bodyLen:
			assert.Equal(t, ErrTruncatedRecord, err, "prefix %d", n)
		default:
			assert.Equal(t, ErrTruncatedSig, err, "prefix %d", n)
		}
	}
}

func TestDeserializeSignatureBoundary(t *testing.T) {
	resp := newTestResponse(11, Record{Protocol: 1, Payload: []byte("a"), TTL: 1, Timestamp: 1})
	body := mustMarshal(t, resp)

	t.Run("exactly 65 trailing bytes is a signature", func(t *testing.T) {
		buf := append(append([]byte(nil), body...), testSignature()...)
		decoded, err := Deserialize(buf)
		require.NoError(t, err)
		assert.True(t, decoded.IsAuthoritative())
		assert.Equal(t, testSignature(), decoded.Signature())
	})

	t.Run("64 trailing bytes is a cut-off signature", func(t *testing.T) {
		buf := append(append([]byte(nil), body...), testSignature()[:64]...)
		_, err := Deserialize(buf)
		assert.Equal(t, ErrTruncatedSig, err)
	})

	t.Run("surplus after signature is ignored", func(t *testing.T) {
		buf := append(append([]byte(nil), body...), testSignature()...)
		buf = append(buf, 0xEE, 0xEE)
		decoded, err := Deserialize(buf)
		require.NoError(t, err)
		assert.Equal(t, testSignature(), decoded.Signature())
	})
}

func TestDeserializeLengthPastEnd(t *testing.T) {
	h := testHash(12)
	buf := append([]byte(nil), h[:]...)
	buf = append(buf, 1)
	buf = append(buf, 0x00, 0x01, 0xFF, 0xFF, 'x') // claims 65535 payload bytes

	_, err := Deserialize(buf)
	assert.Equal(t, ErrTruncatedRecord, err)
}

func TestDeserializeRejectsDuplicateProtocol(t *testing.T) {
	rec := Record{Protocol: 5, Payload: []byte("a"), TTL: 1, Timestamp: 1}
	h := testHash(13)
	buf := append([]byte(nil), h[:]...)
	buf = append(buf, 2)
	buf = append(buf, rec.Encode()...)
	buf = append(buf, rec.Encode()...)

	_, err := Deserialize(buf)
	assert.Equal(t, ErrDuplicateProtocol, err)
}

func TestUnmarshalBinaryKeepsReceiverOnError(t *testing.T) {
	resp := newTestResponse(14, Record{Protocol: 1, Payload: []byte("a"), TTL: 1, Timestamp: 1})

	err := resp.UnmarshalBinary([]byte{1, 2, 3})
	assert.Equal(t, ErrTruncatedHeader, err)
	assert.Equal(t, 1, resp.RecordCount())

	other := newTestResponse(15, Record{Protocol: 2, Payload: []byte("b"), TTL: 2, Timestamp: 2})
	require.NoError(t, resp.UnmarshalBinary(mustMarshal(t, other)))
	requireSameContent(t, other, resp)
}

func TestSignedBodyExcludesSignature(t *testing.T) {
	resp := newTestResponse(16, Record{Protocol: 1, Payload: []byte("a"), TTL: 1, Timestamp: 1})
	unsigned := mustMarshal(t, resp)

	require.NoError(t, resp.SetSignature(testSignature()))
	body, err := resp.SignedBody()
	require.NoError(t, err)
	assert.Equal(t, unsigned, body)
}
