package network

import (
	"sort"
	"sync"
	"time"
)

const (
	initialReputation = 50
	maxReputation     = 100

	// a peer at zero reputation is benched for this long
	benchDuration = time.Minute
)

// PeerInfo is the bookkeeping kept per recursion peer.
type PeerInfo struct {
	Address    string    `json:"address"` // host:port or libp2p multiaddr
	Reputation int       `json:"reputation"`
	LastSeen   time.Time `json:"last_seen"`
	Failures   int       `json:"failures"`
	benchUntil time.Time
}

// Active reports whether the peer is eligible for queries at now.
func (p *PeerInfo) Active(now time.Time) bool {
	return !now.Before(p.benchUntil)
}

// PeerSet tracks the peers a node recurses to and how well they answer.
// Peers that keep failing are benched for a while instead of removed.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]*PeerInfo
	now   func() time.Time
}

func NewPeerSet(addrs ...string) *PeerSet {
	ps := &PeerSet{
		peers: make(map[string]*PeerInfo),
		now:   time.Now,
	}
	for _, a := range addrs {
		ps.Add(a)
	}
	return ps
}

// Add registers addr. Adding a known peer is a no-op.
func (ps *PeerSet) Add(addr string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.peers[addr]; ok {
		return
	}
	ps.peers[addr] = &PeerInfo{Address: addr, Reputation: initialReputation}
}

func (ps *PeerSet) Remove(addr string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.peers, addr)
}

// Active returns the addresses of peers not currently benched, best
// reputation first.
func (ps *PeerSet) Active() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	now := ps.now()
	active := make([]*PeerInfo, 0, len(ps.peers))
	for _, p := range ps.peers {
		if p.Active(now) {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Reputation != active[j].Reputation {
			return active[i].Reputation > active[j].Reputation
		}
		return active[i].Address < active[j].Address
	})

	out := make([]string, len(active))
	for i, p := range active {
		out[i] = p.Address
	}
	return out
}

// MarkSuccess records a usable answer from addr.
func (ps *PeerSet) MarkSuccess(addr string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.peers[addr]
	if !ok {
		return
	}
	p.LastSeen = ps.now()
	p.Failures = 0
	if p.Reputation < maxReputation {
		p.Reputation += 5
		if p.Reputation > maxReputation {
			p.Reputation = maxReputation
		}
	}
}

// MarkFailure records a timeout, transport error or rejected answer.
func (ps *PeerSet) MarkFailure(addr string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	p, ok := ps.peers[addr]
	if !ok {
		return
	}
	p.Failures++
	p.Reputation -= 10
	if p.Reputation <= 0 {
		p.Reputation = initialReputation / 2
		p.benchUntil = ps.now().Add(benchDuration)
		logger.Infow("benching unresponsive peer", "peer", addr, "failures", p.Failures)
	}
}

// Snapshot returns a copy of every peer's state, sorted by address.
func (ps *PeerSet) Snapshot() []PeerInfo {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]PeerInfo, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// GetStats returns peer statistics
func (ps *PeerSet) GetStats() map[string]interface{} {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	now := ps.now()
	active := 0
	for _, p := range ps.peers {
		if p.Active(now) {
			active++
		}
	}
	return map[string]interface{}{
		"total_peers":  len(ps.peers),
		"active_peers": active,
	}
}
