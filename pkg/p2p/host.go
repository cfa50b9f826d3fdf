// Package p2p carries MARP frames over libp2p streams, for peers that are
// reachable only through the libp2p network. Peer IDs without a known
// address are located through the Kademlia DHT.
package p2p

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"

	logging "github.com/ZentaChain/marp-node/pkg/log"
	marp "github.com/ZentaChain/marp-node/pkg/protocol"
)

var logger = logging.Logger("p2p")

// ProtocolID is the stream protocol MARP frames travel on.
const ProtocolID = protocol.ID("/marp/1.0.0")

const streamTimeout = 10 * time.Second

var ErrMessageIDMismatch = errors.New("p2p: reply does not match query")

// Handler answers one inbound frame. Returning nil sends nothing.
type Handler func(ctx context.Context, f *marp.Frame) *marp.Frame

// Config contains configuration for creating a Host
type Config struct {
	ListenAddrs    []string // multiaddrs, e.g. /ip4/0.0.0.0/tcp/4001
	BootstrapPeers []string
	IdentityFile   string         // optional: persist the peer key here
	PrivateKey     crypto.PrivKey // optional: takes precedence over IdentityFile
	NAT            bool           // try UPnP/NAT-PMP port mapping
}

// Host is a libp2p host speaking the MARP stream protocol.
type Host struct {
	host   host.Host
	dht    *dht.IpfsDHT
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	bootstrapped bool
}

// New creates a libp2p host with a server-mode DHT and, when configured,
// joins the network through the bootstrap peers.
func New(ctx context.Context, cfg *Config) (*Host, error) {
	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		if priv, err = loadOrCreateIdentity(cfg.IdentityFile); err != nil {
			return nil, err
		}
	}

	listen := cfg.ListenAddrs
	if len(listen) == 0 {
		listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listen...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if cfg.NAT {
		opts = append(opts, libp2p.NATPortMap(), libp2p.EnableNATService())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "p2p: create libp2p host")
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		return nil, errors.Wrap(err, "p2p: create DHT")
	}

	hostCtx, cancel := context.WithCancel(ctx)
	node := &Host{
		host:   h,
		dht:    kad,
		ctx:    hostCtx,
		cancel: cancel,
	}

	if len(cfg.BootstrapPeers) > 0 {
		if err := node.Bootstrap(cfg.BootstrapPeers); err != nil {
			node.Close()
			return nil, err
		}
	}

	logger.Infow("libp2p host started", "id", h.ID().String(), "addrs", node.Addrs())
	return node, nil
}

// loadOrCreateIdentity keeps the peer ID stable across restarts when path is
// set.
func loadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			priv, err := crypto.UnmarshalPrivateKey(data)
			if err != nil {
				return nil, errors.Wrapf(err, "p2p: parse identity %s", path)
			}
			return priv, nil
		}
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "p2p: generate identity")
	}
	if path == "" {
		return priv, nil
	}

	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "p2p: marshal identity")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "p2p: create identity directory")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, errors.Wrap(err, "p2p: write identity")
	}
	return priv, nil
}

// Bootstrap connects to bootstrap peers and joins the DHT network
func (n *Host) Bootstrap(peers []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bootstrapped {
		return errors.New("p2p: already bootstrapped")
	}

	connected := 0
	for _, addr := range peers {
		info, err := parseAddr(addr)
		if err != nil {
			logger.Warnw("invalid bootstrap peer", "addr", addr, "err", err)
			continue
		}
		if err := n.host.Connect(n.ctx, *info); err != nil {
			logger.Warnw("bootstrap peer unreachable", "peer", info.ID.String(), "err", err)
			continue
		}
		connected++
	}
	if connected == 0 {
		return errors.New("p2p: failed to connect to any bootstrap peers")
	}

	if err := n.dht.Bootstrap(n.ctx); err != nil {
		return errors.Wrap(err, "p2p: bootstrap DHT")
	}
	n.bootstrapped = true
	logger.Infow("bootstrapped", "peers", connected)
	return nil
}

func parseAddr(addr string) (*peer.AddrInfo, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "p2p: invalid multiaddr %q", addr)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, errors.Wrapf(err, "p2p: no peer id in %q", addr)
	}
	return info, nil
}

// Serve registers handler for inbound MARP streams. Each stream carries one
// frame in each direction.
func (n *Host) Serve(handler Handler) {
	n.host.SetStreamHandler(ProtocolID, func(s network.Stream) {
		defer s.Close()
		_ = s.SetDeadline(time.Now().Add(streamTimeout))

		req, err := marp.ReadFrame(s)
		if err != nil {
			logger.Debugw("bad inbound frame", "peer", s.Conn().RemotePeer().String(), "err", err)
			_ = s.Reset()
			return
		}

		reply := handler(n.ctx, req)
		if reply == nil {
			return
		}
		if err := marp.WriteFrame(s, reply); err != nil {
			logger.Debugw("failed to write reply", "peer", s.Conn().RemotePeer().String(), "err", err)
		}
	})
}

// Exchange sends f to the peer named by addr, a multiaddr ending in
// /p2p/<peer id>, and returns its reply. When addr carries no transport
// address the peer is looked up in the DHT.
func (n *Host) Exchange(ctx context.Context, addr string, f *marp.Frame) (*marp.Frame, error) {
	info, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	if len(info.Addrs) == 0 && len(n.host.Peerstore().Addrs(info.ID)) == 0 {
		found, err := n.dht.FindPeer(ctx, info.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "p2p: find peer %s", info.ID)
		}
		info = &found
	}
	if err := n.host.Connect(ctx, *info); err != nil {
		return nil, errors.Wrapf(err, "p2p: connect %s", info.ID)
	}

	s, err := n.host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return nil, errors.Wrap(err, "p2p: open stream")
	}
	defer s.Close()

	deadline := time.Now().Add(streamTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.SetDeadline(deadline)

	if err := marp.WriteFrame(s, f); err != nil {
		_ = s.Reset()
		return nil, errors.Wrap(err, "p2p: send frame")
	}
	_ = s.CloseWrite()

	reply, err := marp.ReadFrame(s)
	if err != nil {
		return nil, errors.Wrap(err, "p2p: read reply")
	}
	if reply.MessageID != f.MessageID {
		return nil, ErrMessageIDMismatch
	}
	return reply, nil
}

// ID returns the node's peer ID
func (n *Host) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns dialable addresses including the /p2p component.
func (n *Host) Addrs() []string {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()})
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// PeerCount returns the number of connected peers
func (n *Host) PeerCount() int {
	return len(n.host.Network().Peers())
}

// IsBootstrapped returns whether the node has successfully bootstrapped
func (n *Host) IsBootstrapped() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bootstrapped
}

// Close gracefully shuts down the host
func (n *Host) Close() error {
	n.cancel()
	n.host.RemoveStreamHandler(ProtocolID)

	if err := n.dht.Close(); err != nil {
		logger.Warnw("error closing DHT", "err", err)
	}
	return n.host.Close()
}
