// Package node runs a MARP resolver: it answers frames arriving over UDP
// and, when enabled, libp2p, and it owns the local authoring path.
package node

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/ZentaChain/marp-node/pkg/authority"
	"github.com/ZentaChain/marp-node/pkg/cache"
	"github.com/ZentaChain/marp-node/pkg/config"
	"github.com/ZentaChain/marp-node/pkg/crypto"
	logging "github.com/ZentaChain/marp-node/pkg/log"
	"github.com/ZentaChain/marp-node/pkg/metrics"
	"github.com/ZentaChain/marp-node/pkg/network"
	"github.com/ZentaChain/marp-node/pkg/p2p"
	"github.com/ZentaChain/marp-node/pkg/protocol"
	"github.com/ZentaChain/marp-node/pkg/query"
	"github.com/ZentaChain/marp-node/pkg/resolver"
	"github.com/ZentaChain/marp-node/pkg/response"
	"github.com/ZentaChain/marp-node/pkg/storage"
)

var logger = logging.Logger("node")

var (
	ErrRunning        = errors.New("node: already running")
	ErrRecordNotFound = errors.New("node: no record for protocol")
)

// expireInterval is how often expired cache entries are swept.
const expireInterval = time.Minute

// Node is a running MARP resolver.
type Node struct {
	cfg *config.Config

	store    *storage.Store
	cache    *cache.Cache
	peers    *network.PeerSet
	trust    *authority.TrustStore
	signer   *authority.Signer
	resolver *resolver.Resolver
	host     *p2p.Host

	socket *network.Socket
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	started time.Time

	// publishMu serialises read-modify-write cycles on the store.
	publishMu sync.Mutex
}

// New opens the local store and wires the resolver. The libp2p host is
// created here when enabled so that its peer ID is known before Start.
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "node: create data dir")
	}

	n := &Node{
		cfg:   cfg,
		peers: network.NewPeerSet(cfg.PeerAddresses()...),
		trust: authority.NewTrustStore(),
		sem:   semaphore.NewWeighted(int64(cfg.Node.Workers)),
	}

	for _, k := range cfg.Authority.Trusted {
		if err := n.trust.AddHex(k); err != nil {
			return nil, errors.Wrapf(err, "node: trusted key %q", k)
		}
	}

	if cfg.Authority.KeyFile != "" {
		key, err := crypto.LoadKeyFromFile(cfg.Authority.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "node: load authority key")
		}
		if n.signer, err = authority.NewSigner(key); err != nil {
			return nil, err
		}
		// a node always trusts what it signs itself
		n.trust.Add(n.signer.PublicKey())
	}

	var err error
	if n.cache, err = cache.New(cfg.Cache.Size, cfg.Cache.MaxTTL.Duration); err != nil {
		return nil, err
	}
	if n.store, err = storage.Open(cfg.DatabasePath()); err != nil {
		return nil, err
	}

	router := &resolver.Router{UDP: network.NewClient(cfg.Node.Timeout.Duration)}
	if cfg.P2P.Enabled {
		n.host, err = p2p.New(ctx, &p2p.Config{
			ListenAddrs:    cfg.P2P.Listen,
			BootstrapPeers: cfg.P2P.Bootstrap,
			IdentityFile:   cfg.P2P.IdentityFile,
			NAT:            cfg.P2P.NAT,
		})
		if err != nil {
			n.store.Close()
			return nil, err
		}
		router.P2P = n.host
	}

	recursor := resolver.NewRecursor(router, n.peers, n.trust, cfg.Node.Timeout.Duration)
	n.resolver = resolver.New(n.store, n.cache, recursor, cfg.Node.RecurseDepth)
	return n, nil
}

// Start binds the UDP socket and begins answering queries. It returns once
// the node is listening.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return ErrRunning
	}

	socket, err := network.Listen(n.cfg.Node.Listen)
	if err != nil {
		return err
	}
	n.socket = socket

	ctx, n.cancel = context.WithCancel(ctx)
	n.running = true
	n.started = time.Now()

	if n.host != nil {
		n.host.Serve(n.resolver.HandleFrame)
	}

	n.wg.Add(2)
	go n.serve(ctx)
	go n.expireRoutine(ctx)

	logger.Infow("node listening", "addr", socket.Addr().String(),
		"peers", len(n.peers.Snapshot()), "authority", n.signer != nil)
	return nil
}

// Stop closes the socket and waits for in-flight queries to finish. It is
// safe to call more than once.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.cancel()
	err := n.socket.Close()
	n.mu.Unlock()

	n.wg.Wait()
	logger.Infow("node stopped")
	return err
}

// Close stops the node and releases the store and the libp2p host.
func (n *Node) Close() error {
	err := n.Stop()
	if n.host != nil {
		if herr := n.host.Close(); err == nil {
			err = herr
		}
	}
	if serr := n.store.Close(); err == nil {
		err = serr
	}
	return err
}

// Addr is the bound UDP address, nil before Start.
func (n *Node) Addr() *net.UDPAddr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.socket == nil {
		return nil
	}
	return n.socket.Addr()
}

func (n *Node) serve(ctx context.Context) {
	defer n.wg.Done()

	for {
		f, from, err := n.socket.ReadFrame(0)
		if err != nil {
			if network.IsClosed(err) || ctx.Err() != nil {
				return
			}
			metrics.RecordParseFailure("frame")
			logger.Debugw("dropping datagram", "from", from, "err", err)
			continue
		}

		if err := n.sem.Acquire(ctx, 1); err != nil {
			return
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer n.sem.Release(1)
			n.handle(ctx, f, from)
		}()
	}
}

func (n *Node) handle(ctx context.Context, f *protocol.Frame, from *net.UDPAddr) {
	reply := n.resolver.HandleFrame(ctx, f)
	if reply == nil {
		return
	}

	err := n.socket.WriteFrame(reply, from)
	if errors.Is(err, network.ErrDatagramTooLarge) {
		// tell the client to retry over a stream transport
		reply = protocol.NewErrorFrame(f, "answer exceeds datagram size")
		reply.SetFlag(protocol.FlagTruncated)
		err = n.socket.WriteFrame(reply, from)
	}
	if err != nil && !network.IsClosed(err) {
		logger.Warnw("failed to send reply", "to", from.String(), "err", err)
	}
}

func (n *Node) expireRoutine(ctx context.Context) {
	defer n.wg.Done()

	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := n.cache.ExpireOldValues(); removed > 0 {
				logger.Debugw("expired cache entries", "count", removed)
			}
		}
	}
}

// Resolve answers q the same way a query frame would be answered.
func (n *Node) Resolve(ctx context.Context, q *query.Query, opts resolver.Options) (*response.Response, error) {
	return n.resolver.Resolve(ctx, q, opts)
}

// Local returns the stored Response for hash without consulting the cache
// or peers.
func (n *Node) Local(hash response.Hash) (*response.Response, error) {
	return n.store.Get(hash)
}

// Publish sets the record for protocol under hash in the local store. An
// existing signature no longer covers the changed body, so the Response is
// re-signed when the node holds an authority key and left unsigned
// otherwise.
func (n *Node) Publish(hash response.Hash, proto uint16, payload []byte, ttl uint16) (*response.Response, error) {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	resp, err := n.store.Get(hash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		resp = response.New(hash)
	case err != nil:
		return nil, err
	}

	_ = resp.SetSignature(nil)
	if err := resp.BuildRecord(proto, payload, ttl); err != nil {
		return nil, err
	}
	if err := n.commit(resp); err != nil {
		return nil, err
	}

	logger.Infow("published record", "hash", hash.String(), "protocol", proto,
		"ttl", ttl, "authoritative", resp.IsAuthoritative())
	return resp, nil
}

// Unpublish removes the record for protocol under hash. The stored Response
// is deleted once its last record is gone.
func (n *Node) Unpublish(hash response.Hash, proto uint16) error {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	resp, err := n.store.Get(hash)
	if err != nil {
		return err
	}
	if !resp.RemoveRecord(proto) {
		return ErrRecordNotFound
	}

	if resp.RecordCount() == 0 {
		n.cache.Remove(hash)
		return n.store.Delete(hash)
	}
	_ = resp.SetSignature(nil)
	return n.commit(resp)
}

func (n *Node) commit(resp *response.Response) error {
	if n.signer != nil {
		if err := n.signer.Sign(resp); err != nil {
			return err
		}
	}
	if err := n.store.Put(resp); err != nil {
		return err
	}
	// the cached copy may hold records this node no longer serves
	n.cache.Remove(resp.Identifier())
	return nil
}

// Peers is the set of recursion peers.
func (n *Node) Peers() *network.PeerSet {
	return n.peers
}

// Trust is the set of authority keys whose signatures are accepted.
func (n *Node) Trust() *authority.TrustStore {
	return n.trust
}

// Stats summarises node state for the admin API.
type Stats struct {
	Listen      string             `json:"listen"`
	Uptime      string             `json:"uptime"`
	Running     bool               `json:"running"`
	Authority   string             `json:"authority,omitempty"`
	TrustedKeys int                `json:"trusted_keys"`
	Stored      int                `json:"stored_responses"`
	Cache       cache.Stats        `json:"cache"`
	Peers       []network.PeerInfo `json:"peers"`
	P2P         *P2PStats          `json:"p2p,omitempty"`
}

type P2PStats struct {
	PeerID       string   `json:"peer_id"`
	Addrs        []string `json:"addrs"`
	Connected    int      `json:"connected"`
	Bootstrapped bool     `json:"bootstrapped"`
}

func (n *Node) Stats() (*Stats, error) {
	stored, err := n.store.Count()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	s := &Stats{
		Listen:  n.cfg.Node.Listen,
		Running: n.running,
	}
	if n.socket != nil {
		s.Listen = n.socket.Addr().String()
	}
	if n.running {
		s.Uptime = time.Since(n.started).Round(time.Second).String()
	}
	n.mu.Unlock()

	if n.signer != nil {
		s.Authority = crypto.ExportPublicKeyHex(n.signer.PublicKey())
	}
	s.TrustedKeys = n.trust.Len()
	s.Stored = stored
	s.Cache = n.cache.Stats()
	s.Peers = n.peers.Snapshot()

	if n.host != nil {
		s.P2P = &P2PStats{
			PeerID:       n.host.ID().String(),
			Addrs:        n.host.Addrs(),
			Connected:    n.host.PeerCount(),
			Bootstrapped: n.host.IsBootstrapped(),
		}
	}
	return s, nil
}
