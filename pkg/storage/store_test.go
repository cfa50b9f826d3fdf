package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/marp-node/pkg/crypto"
	"github.com/ZentaChain/marp-node/pkg/response"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "marp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newResponse(t *testing.T, name string, protocols ...uint16) *response.Response {
	t.Helper()
	resp := response.New(crypto.NameHash(name))
	for _, p := range protocols {
		require.NoError(t, resp.BuildRecord(p, []byte(name), 60))
	}
	return resp
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)
	resp := newResponse(t, "example.org", 1, 28)
	require.NoError(t, resp.SetSignature(make([]byte, response.SignatureSize)))

	require.NoError(t, s.Put(resp))

	got, err := s.Get(resp.Identifier())
	require.NoError(t, err)
	assert.Equal(t, resp.Protocols(), got.Protocols())
	assert.True(t, got.IsAuthoritative())

	want, _ := resp.MarshalBinary()
	have, _ := got.MarshalBinary()
	assert.Equal(t, want, have)
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(crypto.NameHash("missing"))
	assert.Equal(t, ErrNotFound, err)
}

func TestPutReplaces(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(newResponse(t, "a", 1)))
	require.NoError(t, s.Put(newResponse(t, "a", 2, 3)))

	got, err := s.Get(crypto.NameHash("a"))
	require.NoError(t, err)
	assert.Equal(t, []uint16{2, 3}, got.Protocols())

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	resp := newResponse(t, "a", 1)
	require.NoError(t, s.Put(resp))

	require.NoError(t, s.Delete(resp.Identifier()))
	assert.Equal(t, ErrNotFound, s.Delete(resp.Identifier()))

	_, err := s.Get(resp.Identifier())
	assert.Equal(t, ErrNotFound, err)
}

func TestListAndCount(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(newResponse(t, "a", 1)))
	require.NoError(t, s.Put(newResponse(t, "b", 1, 2)))
	require.NoError(t, s.Put(newResponse(t, "c")))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entries, err := s.List(10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byHash := make(map[response.Hash]Entry)
	for _, e := range entries {
		byHash[e.Hash] = e
	}
	assert.Equal(t, 2, byHash[crypto.NameHash("b")].Records)
	assert.Equal(t, 0, byHash[crypto.NameHash("c")].Records)
	assert.False(t, byHash[crypto.NameHash("a")].Authoritative)

	page, err := s.List(2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marp.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(newResponse(t, "a", 1)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(crypto.NameHash("a"))
	assert.NoError(t, err)
}
