package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/marp-node/pkg/authority"
	"github.com/ZentaChain/marp-node/pkg/metrics"
	"github.com/ZentaChain/marp-node/pkg/network"
	"github.com/ZentaChain/marp-node/pkg/protocol"
	"github.com/ZentaChain/marp-node/pkg/query"
	"github.com/ZentaChain/marp-node/pkg/response"
)

var ErrNoTransport = errors.New("resolver: no transport for address")

// Exchanger sends one frame to addr and returns the reply.
type Exchanger interface {
	Exchange(ctx context.Context, addr string, f *protocol.Frame) (*protocol.Frame, error)
}

// Router sends multiaddrs (leading '/') over libp2p and everything else over
// UDP.
type Router struct {
	UDP Exchanger
	P2P Exchanger
}

func (r *Router) Exchange(ctx context.Context, addr string, f *protocol.Frame) (*protocol.Frame, error) {
	ex := r.UDP
	if strings.HasPrefix(addr, "/") {
		ex = r.P2P
	}
	if ex == nil {
		return nil, errors.Wrap(ErrNoTransport, addr)
	}
	return ex.Exchange(ctx, addr, f)
}

const DefaultFanout = 8

// Recursor asks peers for a hash on behalf of a local query.
type Recursor struct {
	exchanger Exchanger
	peers     *network.PeerSet
	trust     *authority.TrustStore
	fanout    int
	timeout   time.Duration
}

// NewRecursor fans queries out to the active peers in peers. A nil trust
// store rejects every signed reply.
func NewRecursor(ex Exchanger, peers *network.PeerSet, trust *authority.TrustStore, timeout time.Duration) *Recursor {
	if trust == nil {
		trust = authority.NewTrustStore()
	}
	return &Recursor{
		exchanger: ex,
		peers:     peers,
		trust:     trust,
		fanout:    DefaultFanout,
		timeout:   timeout,
	}
}

// Resolve sends q to every active peer concurrently and returns the replies
// that survive validation, in peer order. depth is the hop budget granted to
// the peers. Replies for another hash, with a signature that does not verify
// against the trust store, or unsigned when authoritativeOnly is set are
// dropped.
func (r *Recursor) Resolve(ctx context.Context, q *query.Query, depth uint8, authoritativeOnly bool) ([]*response.Response, error) {
	payload, err := q.Encode()
	if err != nil {
		return nil, err
	}
	peers := r.peers.Active()
	if len(peers) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() { metrics.RecordRecursion(time.Since(start)) }()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		replies = make([]*response.Response, len(peers))
		g       errgroup.Group
	)
	g.SetLimit(r.fanout)

	for i, addr := range peers {
		i, addr := i, addr
		g.Go(func() error {
			f := protocol.NewQueryFrame(authoritativeOnly, depth, payload)
			resp := r.ask(ctx, addr, f, q.Hash, authoritativeOnly)
			mu.Lock()
			replies[i] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := replies[:0]
	for _, resp := range replies {
		if resp != nil {
			out = append(out, resp)
		}
	}
	return out, nil
}

// ask performs one exchange and validates the reply. It returns nil when the
// peer had no usable answer.
func (r *Recursor) ask(ctx context.Context, addr string, f *protocol.Frame, hash response.Hash, authoritativeOnly bool) *response.Response {
	reply, err := r.exchanger.Exchange(ctx, addr, f)
	if err != nil {
		logger.Debugw("peer exchange failed", "peer", addr, "err", err)
		r.peers.MarkFailure(addr)
		metrics.RecordPeerReply("error")
		return nil
	}

	switch reply.Type {
	case protocol.TypeError:
		logger.Debugw("peer has no answer", "peer", addr, "reason", string(reply.Payload))
		r.peers.MarkSuccess(addr)
		metrics.RecordPeerReply("empty")
		return nil
	case protocol.TypeResponse:
	default:
		r.peers.MarkFailure(addr)
		metrics.RecordPeerReply("rejected")
		return nil
	}

	resp, err := response.Deserialize(reply.Payload)
	if err != nil {
		logger.Infow("malformed response from peer", "peer", addr, "err", err)
		r.peers.MarkFailure(addr)
		metrics.RecordParseFailure("response")
		metrics.RecordPeerReply("rejected")
		return nil
	}
	if err := r.validate(resp, hash, authoritativeOnly); err != nil {
		logger.Infow("rejected response from peer", "peer", addr, "hash", hash.String(), "err", err)
		r.peers.MarkFailure(addr)
		metrics.RecordPeerReply("rejected")
		return nil
	}

	r.peers.MarkSuccess(addr)
	metrics.RecordPeerReply("accepted")
	return resp
}

func (r *Recursor) validate(resp *response.Response, hash response.Hash, authoritativeOnly bool) error {
	if resp.Identifier() != hash {
		return errors.Errorf("answer for %s", resp.Identifier())
	}
	if resp.IsAuthoritative() {
		return r.trust.Verify(resp)
	}
	if authoritativeOnly {
		return authority.ErrUnsigned
	}
	return nil
}
