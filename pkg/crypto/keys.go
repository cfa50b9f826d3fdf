package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/pkg/errors"
)

// SignatureSize is the width of a compact recoverable secp256k1 signature:
// one recovery byte followed by R and S.
const SignatureSize = 65

var ErrBadSignature = errors.New("crypto: malformed signature")

// GenerateAuthorityKey creates a secp256k1 key used to sign authoritative
// responses.
func GenerateAuthorityKey() (*secp256k1.PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "crypto: generate authority key")
	}
	return key, nil
}

// ExportPrivateKeyHex encodes the 32-byte scalar as hex.
func ExportPrivateKeyHex(key *secp256k1.PrivateKey) string {
	return hex.EncodeToString(key.Serialize())
}

// ImportPrivateKeyHex parses a key produced by ExportPrivateKeyHex.
func ImportPrivateKeyHex(s string) (*secp256k1.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != secp256k1.PrivKeyBytesLen {
		return nil, ErrInvalidKey
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// ExportPublicKeyHex encodes the compressed 33-byte public key as hex.
func ExportPublicKeyHex(key *secp256k1.PublicKey) string {
	return hex.EncodeToString(key.SerializeCompressed())
}

// ImportPublicKeyHex parses a compressed or uncompressed public key.
func ImportPublicKeyHex(s string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, ErrInvalidKey
	}
	key, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, err.Error())
	}
	return key, nil
}

// SignDigest produces a 65-byte compact signature over a 32-byte digest.
func SignDigest(key *secp256k1.PrivateKey, digest [HashSize]byte) []byte {
	return ecdsa.SignCompact(key, digest[:], true)
}

// RecoverSigner returns the public key that produced sig over digest.
func RecoverSigner(sig []byte, digest [HashSize]byte) (*secp256k1.PublicKey, error) {
	if len(sig) != SignatureSize {
		return nil, ErrBadSignature
	}
	pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return nil, errors.Wrap(ErrBadSignature, err.Error())
	}
	return pub, nil
}

// SaveKeyToFile writes a hex encoded private key, creating parent directories.
func SaveKeyToFile(filename string, key *secp256k1.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return errors.Wrap(err, "crypto: create key directory")
	}
	return os.WriteFile(filename, []byte(ExportPrivateKeyHex(key)+"\n"), 0o600)
}

// LoadKeyFromFile reads a key written by SaveKeyToFile.
func LoadKeyFromFile(filename string) (*secp256k1.PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: read key file")
	}
	return ImportPrivateKeyHex(string(data))
}
