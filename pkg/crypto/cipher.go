package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// AES-256 requires 32-byte keys
	RecordKeySize = 32

	// AES-GCM nonce size (96 bits / 12 bytes is standard)
	NonceSize = 12

	// GCM authentication tag appended by Seal
	TagSize = 16

	// Overhead is the ciphertext expansion of a record payload.
	Overhead = NonceSize + TagSize

	// PBKDF2 iterations (100,000 is recommended minimum)
	PBKDF2Iterations = 100000

	DerivationSalt = "MARP-Record-Key-v1"
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than nonce and tag")
	ErrShortBuffer        = errors.New("crypto: output buffer too small")
	ErrDecryption         = errors.New("crypto: decryption failed (wrong key or corrupted data)")
	ErrInvalidKey         = errors.New("crypto: invalid key")
)

// RecordKey is the symmetric key shared by the publisher of a record and the
// parties allowed to read it.
type RecordKey [RecordKeySize]byte

func (k RecordKey) String() string {
	return hex.EncodeToString(k[:])
}

// ParseRecordKey decodes a 64 character hex key.
func ParseRecordKey(s string) (RecordKey, error) {
	var key RecordKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != RecordKeySize {
		return key, ErrInvalidKey
	}
	copy(key[:], b)
	return key, nil
}

// GenerateRecordKey returns a random key.
func GenerateRecordKey() (RecordKey, error) {
	var key RecordKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, errors.Wrap(err, "crypto: generate record key")
	}
	return key, nil
}

// DeriveRecordKey stretches a passphrase into a record key with PBKDF2-SHA256.
func DeriveRecordKey(passphrase string) RecordKey {
	derived := pbkdf2.Key([]byte(passphrase), []byte(DerivationSalt), PBKDF2Iterations, RecordKeySize, sha256.New)

	var key RecordKey
	copy(key[:], derived)
	return key
}

// RecordKeyFrom picks the record key a caller asked for: an explicit hex key
// wins over a passphrase. ok is false when neither is given.
func RecordKeyFrom(hexKey, passphrase string) (key RecordKey, ok bool, err error) {
	switch {
	case hexKey != "":
		key, err = ParseRecordKey(hexKey)
		return key, err == nil, err
	case passphrase != "":
		return DeriveRecordKey(passphrase), true, nil
	default:
		return key, false, nil
	}
}

func newGCM(key RecordKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "crypto: create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: create GCM")
	}
	return gcm, nil
}

// EncryptPayload seals plaintext with AES-256-GCM.
// Layout: nonce(12) | ciphertext | tag(16)
func EncryptPayload(key RecordKey, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, errors.Wrap(err, "crypto: generate nonce")
	}

	return gcm.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// DecryptedLength is the probe half of decryption: the plaintext length a
// payload opens to.
func DecryptedLength(payload []byte) (int, error) {
	if len(payload) < Overhead {
		return 0, ErrCiphertextTooShort
	}
	return len(payload) - Overhead, nil
}

// DecryptPayload is the fill half of decryption. With a nil dst it only
// reports the required length; otherwise dst must hold DecryptedLength bytes
// and receives the plaintext.
func DecryptPayload(key RecordKey, payload, dst []byte) (int, error) {
	need, err := DecryptedLength(payload)
	if err != nil {
		return 0, err
	}
	if dst == nil {
		return need, nil
	}
	if len(dst) < need {
		return 0, ErrShortBuffer
	}

	gcm, err := newGCM(key)
	if err != nil {
		return 0, err
	}
	plain, err := gcm.Open(dst[:0], payload[:NonceSize], payload[NonceSize:], nil)
	if err != nil {
		return 0, errors.Wrap(ErrDecryption, err.Error())
	}
	return len(plain), nil
}

// DecryptPayloadAlloc probes, allocates and fills in one call.
func DecryptPayloadAlloc(key RecordKey, payload []byte) ([]byte, error) {
	n, err := DecryptedLength(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := DecryptPayload(key, payload, out); err != nil {
		return nil, err
	}
	return out, nil
}
