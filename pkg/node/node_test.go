package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/marp-node/pkg/authority"
	"github.com/ZentaChain/marp-node/pkg/config"
	"github.com/ZentaChain/marp-node/pkg/crypto"
	"github.com/ZentaChain/marp-node/pkg/network"
	"github.com/ZentaChain/marp-node/pkg/protocol"
	"github.com/ZentaChain/marp-node/pkg/query"
	"github.com/ZentaChain/marp-node/pkg/resolver"
	"github.com/ZentaChain/marp-node/pkg/response"
	"github.com/ZentaChain/marp-node/pkg/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.Listen = "127.0.0.1:0"
	cfg.Node.Timeout = config.Duration{Duration: time.Second}
	cfg.API.Enabled = false
	return cfg
}

func newTestNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func startTestNode(t *testing.T, cfg *config.Config) *Node {
	t.Helper()
	n := newTestNode(t, cfg)
	require.NoError(t, n.Start(context.Background()))
	return n
}

func withAuthorityKey(t *testing.T, cfg *config.Config) *authority.Signer {
	t.Helper()
	key, err := crypto.GenerateAuthorityKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "authority.key")
	require.NoError(t, crypto.SaveKeyToFile(path, key))
	cfg.Authority.KeyFile = path

	s, err := authority.NewSigner(key)
	require.NoError(t, err)
	return s
}

func exchange(t *testing.T, n *Node, q *query.Query, depth uint8) *protocol.Frame {
	t.Helper()
	payload, err := q.Encode()
	require.NoError(t, err)

	reply, err := network.NewClient(2*time.Second).
		Exchange(context.Background(), n.Addr().String(), protocol.NewQueryFrame(false, depth, payload))
	require.NoError(t, err)
	return reply
}

func TestPublishUnsigned(t *testing.T) {
	n := newTestNode(t, testConfig(t))
	hash := response.Hash(crypto.NameHash("example.org"))

	resp, err := n.Publish(hash, 1, []byte("10.0.0.1"), 300)
	require.NoError(t, err)
	assert.False(t, resp.IsAuthoritative())

	_, err = n.Publish(hash, 2, []byte("mail.example.org"), 300)
	require.NoError(t, err)

	stored, err := n.Local(hash)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, stored.Protocols())
}

func TestPublishSigned(t *testing.T) {
	cfg := testConfig(t)
	signer := withAuthorityKey(t, cfg)
	n := newTestNode(t, cfg)
	hash := response.Hash(crypto.NameHash("example.org"))

	_, err := n.Publish(hash, 1, []byte("a"), 300)
	require.NoError(t, err)
	resp, err := n.Publish(hash, 2, []byte("b"), 300)
	require.NoError(t, err)

	// the second publish re-signs over both records
	assert.True(t, resp.IsAuthoritative())
	assert.Equal(t, 2, resp.RecordCount())
	assert.NoError(t, authority.NewTrustStore(signer.PublicKey()).Verify(resp))
	assert.True(t, n.Trust().Trusted(signer.PublicKey()))
}

func TestPublishInvalidatesCache(t *testing.T) {
	n := newTestNode(t, testConfig(t))
	hash := response.Hash(crypto.NameHash("example.org"))

	stale := response.New(hash)
	require.NoError(t, stale.BuildRecord(9, []byte("stale"), 300))
	n.cache.Put(stale)

	_, err := n.Publish(hash, 1, []byte("fresh"), 300)
	require.NoError(t, err)
	assert.Equal(t, 0, n.cache.Len())
}

func TestUnpublish(t *testing.T) {
	n := newTestNode(t, testConfig(t))
	hash := response.Hash(crypto.NameHash("example.org"))

	_, err := n.Publish(hash, 1, []byte("a"), 300)
	require.NoError(t, err)
	_, err = n.Publish(hash, 2, []byte("b"), 300)
	require.NoError(t, err)

	assert.ErrorIs(t, n.Unpublish(hash, 7), ErrRecordNotFound)

	require.NoError(t, n.Unpublish(hash, 1))
	stored, err := n.Local(hash)
	require.NoError(t, err)
	assert.Equal(t, []uint16{2}, stored.Protocols())

	require.NoError(t, n.Unpublish(hash, 2))
	_, err = n.Local(hash)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewRejectsBadTrustedKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Authority.Trusted = []string{"not-hex"}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	n := startTestNode(t, testConfig(t))
	require.NotNil(t, n.Addr())
	assert.ErrorIs(t, n.Start(context.Background()), ErrRunning)

	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
}

func TestAnswersOverUDP(t *testing.T) {
	n := startTestNode(t, testConfig(t))
	_, err := n.Publish(response.Hash(crypto.NameHash("example.org")), 1, []byte("10.0.0.1"), 300)
	require.NoError(t, err)

	reply := exchange(t, n, query.ForName("example.org"), 0)
	require.Equal(t, protocol.TypeResponse, reply.Type)

	resp, err := response.Deserialize(reply.Payload)
	require.NoError(t, err)
	rec, ok := resp.Record(1)
	require.True(t, ok)
	assert.Equal(t, []byte("10.0.0.1"), rec.Payload)

	miss := exchange(t, n, query.ForName("missing.org"), 0)
	assert.Equal(t, protocol.TypeError, miss.Type)
}

func TestRecursesToPeers(t *testing.T) {
	upstream := startTestNode(t, testConfig(t))
	_, err := upstream.Publish(response.Hash(crypto.NameHash("example.org")), 1, []byte("upstream"), 300)
	require.NoError(t, err)

	edge := startTestNode(t, testConfig(t))
	edge.Peers().Add(upstream.Addr().String())
	_, err = edge.Publish(response.Hash(crypto.NameHash("example.org")), 2, []byte("edge"), 300)
	require.NoError(t, err)

	reply := exchange(t, edge, query.ForName("example.org"), 1)
	require.Equal(t, protocol.TypeResponse, reply.Type)
	resp, err := response.Deserialize(reply.Payload)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint16{1, 2}, resp.Protocols())

	// the upstream answer is now cached on the edge
	local, err := edge.Resolve(context.Background(), query.ForName("example.org", 1), resolver.Options{})
	require.NoError(t, err)
	assert.Equal(t, []uint16{1}, local.Protocols())
}

func TestOversizedAnswerIsTruncated(t *testing.T) {
	n := startTestNode(t, testConfig(t))
	hash := response.Hash(crypto.NameHash("big.example.org"))
	big := make([]byte, 40000)
	for p := uint16(1); p <= 2; p++ {
		_, err := n.Publish(hash, p, big, 300)
		require.NoError(t, err)
	}

	reply := exchange(t, n, query.ForName("big.example.org"), 0)
	assert.Equal(t, protocol.TypeError, reply.Type)
	assert.True(t, reply.HasFlag(protocol.FlagTruncated))
}

func TestStats(t *testing.T) {
	cfg := testConfig(t)
	withAuthorityKey(t, cfg)
	cfg.Peers = []config.PeerConfig{{Address: "127.0.0.1:9"}}
	n := startTestNode(t, cfg)

	_, err := n.Publish(response.Hash(crypto.NameHash("example.org")), 1, []byte("a"), 300)
	require.NoError(t, err)

	s, err := n.Stats()
	require.NoError(t, err)
	assert.True(t, s.Running)
	assert.Equal(t, n.Addr().String(), s.Listen)
	assert.NotEmpty(t, s.Authority)
	assert.Equal(t, 1, s.TrustedKeys)
	assert.Equal(t, 1, s.Stored)
	require.Len(t, s.Peers, 1)
	assert.Equal(t, "127.0.0.1:9", s.Peers[0].Address)
	assert.Nil(t, s.P2P)
}
