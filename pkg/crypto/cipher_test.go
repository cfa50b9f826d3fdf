package crypto

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptPayload(t *testing.T) {
	key, err := GenerateRecordKey()
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"ipv4 answer", []byte("10.0.0.7")},
		{"large", bytes.Repeat([]byte{0xAB}, 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncryptPayload(key, tt.plaintext)
			require.NoError(t, err)
			assert.Len(t, payload, len(tt.plaintext)+Overhead)

			// probe
			n, err := DecryptPayload(key, payload, nil)
			require.NoError(t, err)
			assert.Equal(t, len(tt.plaintext), n)

			// fill
			out := make([]byte, n)
			written, err := DecryptPayload(key, payload, out)
			require.NoError(t, err)
			assert.Equal(t, n, written)
			assert.True(t, bytes.Equal(tt.plaintext, out[:written]))
		})
	}
}

func TestEncryptPayloadUsesFreshNonce(t *testing.T) {
	key := DeriveRecordKey("correct horse battery staple")

	a, err := EncryptPayload(key, []byte("same"))
	require.NoError(t, err)
	b, err := EncryptPayload(key, []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestDecryptPayloadWrongKey(t *testing.T) {
	key := DeriveRecordKey("alpha")
	other := DeriveRecordKey("beta")

	payload, err := EncryptPayload(key, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptPayloadAlloc(other, payload)
	assert.True(t, errors.Is(err, ErrDecryption), "got %v", err)
}

func TestDecryptPayloadCorrupted(t *testing.T) {
	key := DeriveRecordKey("alpha")
	payload, err := EncryptPayload(key, []byte("secret"))
	require.NoError(t, err)

	payload[len(payload)-1] ^= 0x01
	_, err = DecryptPayloadAlloc(key, payload)
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestDecryptPayloadShortInputs(t *testing.T) {
	key := DeriveRecordKey("alpha")

	_, err := DecryptedLength(make([]byte, Overhead-1))
	assert.Equal(t, ErrCiphertextTooShort, err)

	payload, err := EncryptPayload(key, []byte("0123456789"))
	require.NoError(t, err)
	_, err = DecryptPayload(key, payload, make([]byte, 4))
	assert.Equal(t, ErrShortBuffer, err)
}

func TestParseRecordKey(t *testing.T) {
	key := DeriveRecordKey("alpha")

	parsed, err := ParseRecordKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseRecordKey("abcd")
	assert.Equal(t, ErrInvalidKey, err)
	_, err = ParseRecordKey("zz")
	assert.Equal(t, ErrInvalidKey, err)
}

func TestDeriveRecordKeyDeterministic(t *testing.T) {
	assert.Equal(t, DeriveRecordKey("pw"), DeriveRecordKey("pw"))
	assert.NotEqual(t, DeriveRecordKey("pw"), DeriveRecordKey("pw2"))
}

func TestRecordKeyFrom(t *testing.T) {
	explicit := DeriveRecordKey("other")

	key, ok, err := RecordKeyFrom(explicit.String(), "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, explicit, key)

	key, ok, err = RecordKeyFrom("", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, DeriveRecordKey("pw"), key)

	_, ok, err = RecordKeyFrom("", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = RecordKeyFrom("nothex", "")
	assert.Equal(t, ErrInvalidKey, err)
	assert.False(t, ok)
}
