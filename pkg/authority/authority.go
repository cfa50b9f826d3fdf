// Package authority signs Responses on behalf of a name's owner and checks
// received signatures against a set of trusted public keys.
//
// A signature covers the Response serialization without the signature
// itself. Decrypting a payload proves nothing about who wrote it; only a
// signature recovered to a trusted key does.
package authority

import (
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"

	"github.com/ZentaChain/marp-node/pkg/crypto"
	"github.com/ZentaChain/marp-node/pkg/response"
)

var (
	ErrUnsigned     = errors.New("authority: response is not signed")
	ErrBadSignature = errors.New("authority: signature does not verify")
	ErrUntrusted    = errors.New("authority: signer is not trusted")
	ErrNoKey        = errors.New("authority: missing signing key")
)

// Signer seals Responses with an authority key.
type Signer struct {
	key *secp256k1.PrivateKey
}

func NewSigner(key *secp256k1.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, ErrNoKey
	}
	return &Signer{key: key}, nil
}

// PublicKey is the key peers must trust to accept this signer's Responses.
func (s *Signer) PublicKey() *secp256k1.PublicKey {
	return s.key.PubKey()
}

// Sign replaces any existing signature on resp with a fresh one. The
// Response must not be modified afterwards or the signature goes stale.
func (s *Signer) Sign(resp *response.Response) error {
	digest, err := bodyDigest(resp)
	if err != nil {
		return err
	}
	return resp.SetSignature(crypto.SignDigest(s.key, digest))
}

// RecoverSigner returns the public key that produced resp's signature.
func RecoverSigner(resp *response.Response) (*secp256k1.PublicKey, error) {
	if !resp.IsAuthoritative() {
		return nil, ErrUnsigned
	}
	digest, err := bodyDigest(resp)
	if err != nil {
		return nil, err
	}
	pub, err := crypto.RecoverSigner(resp.Signature(), digest)
	if err != nil {
		return nil, errors.Wrap(ErrBadSignature, err.Error())
	}
	return pub, nil
}

func bodyDigest(resp *response.Response) ([crypto.HashSize]byte, error) {
	body, err := resp.SignedBody()
	if err != nil {
		return [crypto.HashSize]byte{}, errors.Wrap(err, "authority: serialize body")
	}
	return crypto.Digest(body), nil
}

// TrustStore is the set of authority keys whose signatures are accepted.
// It is safe for concurrent use.
type TrustStore struct {
	mu   sync.RWMutex
	keys map[string]*secp256k1.PublicKey // compressed hex -> key
}

func NewTrustStore(keys ...*secp256k1.PublicKey) *TrustStore {
	ts := &TrustStore{keys: make(map[string]*secp256k1.PublicKey)}
	for _, k := range keys {
		ts.Add(k)
	}
	return ts
}

func (ts *TrustStore) Add(key *secp256k1.PublicKey) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.keys[crypto.ExportPublicKeyHex(key)] = key
}

// AddHex trusts a hex encoded public key.
func (ts *TrustStore) AddHex(s string) error {
	key, err := crypto.ImportPublicKeyHex(s)
	if err != nil {
		return errors.Wrapf(err, "authority: trust key %q", s)
	}
	ts.Add(key)
	return nil
}

func (ts *TrustStore) Remove(key *secp256k1.PublicKey) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.keys, crypto.ExportPublicKeyHex(key))
}

func (ts *TrustStore) Trusted(key *secp256k1.PublicKey) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.keys[crypto.ExportPublicKeyHex(key)]
	return ok
}

func (ts *TrustStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.keys)
}

// Verify checks that resp is signed by a trusted key. It returns ErrUnsigned,
// ErrBadSignature or ErrUntrusted otherwise.
func (ts *TrustStore) Verify(resp *response.Response) error {
	pub, err := RecoverSigner(resp)
	if err != nil {
		return err
	}
	if !ts.Trusted(pub) {
		return ErrUntrusted
	}
	return nil
}
