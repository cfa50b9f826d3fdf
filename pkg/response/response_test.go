package response

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRecord(t *testing.T) {
	resp := New(testHash(1))
	payload := []byte("hello")

	before := time.Now().Unix()
	require.NoError(t, resp.BuildRecord(1, payload, 300))
	payload[0] = 'J'

	rec, ok := resp.Record(1)
	require.True(t, ok)
	assert.Equal(t, "hello", string(rec.Payload))
	assert.Equal(t, uint16(300), rec.TTL)
	assert.GreaterOrEqual(t, rec.Timestamp, before)
	assert.False(t, resp.IsAuthoritative())
}

func TestBuildRecordOverwritesProtocol(t *testing.T) {
	resp := New(testHash(1))
	require.NoError(t, resp.BuildRecord(1, []byte("one"), 10))
	require.NoError(t, resp.BuildRecord(2, []byte("two"), 10))
	require.NoError(t, resp.BuildRecord(1, []byte("uno"), 20))

	assert.Equal(t, 2, resp.RecordCount())
	assert.Equal(t, []uint16{1, 2}, resp.Protocols())
	assert.Equal(t, "uno", payloadOf(t, resp, 1))
}

func TestBuildRecordPayloadTooLarge(t *testing.T) {
	resp := New(testHash(1))
	assert.Equal(t, ErrPayloadTooLarge, resp.BuildRecord(1, make([]byte, MaxPayloadSize+1), 10))
	assert.Equal(t, 0, resp.RecordCount())
}

func TestAddRecord(t *testing.T) {
	src := Record{Protocol: 16, Payload: []byte("txt"), TTL: 60, Timestamp: 1234}
	resp := New(testHash(1))

	require.NoError(t, resp.AddRecord(src.Encode()))
	rec, ok := resp.Record(16)
	require.True(t, ok)
	assert.Equal(t, src, rec)

	dup := Record{Protocol: 16, Payload: []byte("other"), TTL: 1, Timestamp: 9999}
	assert.Equal(t, ErrDuplicateProtocol, resp.AddRecord(dup.Encode()))
	assert.Equal(t, "txt", payloadOf(t, resp, 16))

	assert.Equal(t, ErrTruncatedRecord, resp.AddRecord([]byte{0, 1, 0}))
	assert.Equal(t, 1, resp.RecordCount())
}

func TestGetSerializedRecord(t *testing.T) {
	rec := Record{Protocol: 5, Payload: []byte("abc"), TTL: 7, Timestamp: 77}
	resp := newTestResponse(1, rec)

	raw, err := resp.GetSerializedRecord(5)
	require.NoError(t, err)
	assert.Equal(t, rec.Encode(), raw)
	assert.Len(t, raw, rec.WireSize())

	// the buffer belongs to the caller
	raw[4] = 'X'
	assert.Equal(t, "abc", payloadOf(t, resp, 5))

	_, err = resp.GetSerializedRecord(6)
	assert.Equal(t, ErrNotFound, err)

	var nilResp *Response
	_, err = nilResp.GetSerializedRecord(5)
	assert.Equal(t, ErrNotFound, err)
}

func TestSerializedRecordFeedsAddRecord(t *testing.T) {
	src := newTestResponse(1, Record{Protocol: 5, Payload: []byte("abc"), TTL: 7, Timestamp: 77})
	raw, err := src.GetSerializedRecord(5)
	require.NoError(t, err)

	dst := New(testHash(2))
	require.NoError(t, dst.AddRecord(raw))

	want, _ := src.Record(5)
	got, _ := dst.Record(5)
	assert.Equal(t, want, got)
}

func TestRecordCountNil(t *testing.T) {
	var resp *Response
	assert.Equal(t, 0, resp.RecordCount())
	assert.False(t, resp.IsAuthoritative())
	assert.Nil(t, resp.Records())
	assert.Nil(t, resp.Clone())
}

func TestRemoveRecord(t *testing.T) {
	resp := newTestResponse(1,
		Record{Protocol: 1, Payload: []byte("a"), TTL: 1, Timestamp: 1},
		Record{Protocol: 2, Payload: []byte("b"), TTL: 1, Timestamp: 1},
		Record{Protocol: 3, Payload: []byte("c"), TTL: 1, Timestamp: 1},
	)

	assert.True(t, resp.RemoveRecord(2))
	assert.False(t, resp.RemoveRecord(2))
	assert.Equal(t, []uint16{1, 3}, resp.Protocols())
	assert.Equal(t, "c", payloadOf(t, resp, 3))
}

func TestSetSignature(t *testing.T) {
	resp := New(testHash(1))

	assert.Equal(t, ErrInvalidSignature, resp.SetSignature(make([]byte, SignatureSize-1)))
	assert.False(t, resp.IsAuthoritative())

	sig := testSignature()
	require.NoError(t, resp.SetSignature(sig))
	sig[0] = 0
	assert.Equal(t, testSignature(), resp.Signature())

	require.NoError(t, resp.SetSignature(nil))
	assert.False(t, resp.IsAuthoritative())
}

func TestCloneIsDeep(t *testing.T) {
	resp := newTestResponse(1, Record{Protocol: 1, Payload: []byte("abc"), TTL: 1, Timestamp: 1})
	require.NoError(t, resp.SetSignature(testSignature()))

	c := resp.Clone()
	c.records[0].Payload[0] = 'X'
	c.signature[0] = 0

	assert.Equal(t, "abc", payloadOf(t, resp, 1))
	assert.Equal(t, testSignature(), resp.Signature())
}

func TestReset(t *testing.T) {
	resp := newTestResponse(1, Record{Protocol: 1, Payload: []byte("abc"), TTL: 1, Timestamp: 1})
	require.NoError(t, resp.SetSignature(testSignature()))

	resp.Reset()

	assert.Equal(t, 0, resp.RecordCount())
	assert.False(t, resp.IsAuthoritative())
	assert.Equal(t, testHash(1), resp.Identifier())
	require.NoError(t, resp.BuildRecord(1, []byte("again"), 1))
}

func TestParseHash(t *testing.T) {
	h := testHash(3)

	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("zz")
	assert.Error(t, err)

	_, err = ParseHash(strings.Repeat("ab", 31))
	assert.Error(t, err)
}

func TestRecordExpired(t *testing.T) {
	rec := Record{Protocol: 1, TTL: 60, Timestamp: 1000}

	assert.False(t, rec.Expired(time.Unix(1060, 0)))
	assert.True(t, rec.Expired(time.Unix(1061, 0)))
	assert.Equal(t, int64(1000), rec.Time().Unix())

	// timestamps near the int64 bounds must not wrap
	future := Record{Protocol: 1, TTL: 60, Timestamp: math.MaxInt64 - 10}
	assert.False(t, future.Expired(time.Unix(1_700_000_000, 0)))
	past := Record{Protocol: 1, TTL: 0xFFFF, Timestamp: math.MinInt64}
	assert.True(t, past.Expired(time.Unix(1_700_000_000, 0)))
}
