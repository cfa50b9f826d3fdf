// Package resolver answers queries from the local store, the cache and, when
// the query allows it, from peers. Every Response obtained for a hash is
// merged into one answer.
package resolver

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ZentaChain/marp-node/pkg/cache"
	logging "github.com/ZentaChain/marp-node/pkg/log"
	"github.com/ZentaChain/marp-node/pkg/metrics"
	"github.com/ZentaChain/marp-node/pkg/protocol"
	"github.com/ZentaChain/marp-node/pkg/query"
	"github.com/ZentaChain/marp-node/pkg/response"
	"github.com/ZentaChain/marp-node/pkg/storage"
)

var logger = logging.Logger("resolver")

var (
	ErrNoAnswer              = errors.New("resolver: no answer")
	ErrNoAuthoritativeAnswer = errors.New("resolver: no authoritative answer")
)

// Store is the read side of the local response store.
type Store interface {
	Get(hash response.Hash) (*response.Response, error)
}

// Options shape a single resolution.
type Options struct {
	// Depth is the hop budget; zero answers from local state only.
	Depth uint8
	// AuthoritativeOnly fails the query unless a signed answer is found.
	AuthoritativeOnly bool
}

type Resolver struct {
	store    Store
	cache    *cache.Cache
	recursor *Recursor
	maxDepth uint8
}

// New wires the answer sources. Any of them may be nil.
func New(store Store, c *cache.Cache, recursor *Recursor, maxDepth uint8) *Resolver {
	if maxDepth > protocol.MaxRecurseDepth {
		maxDepth = protocol.MaxRecurseDepth
	}
	return &Resolver{store: store, cache: c, recursor: recursor, maxDepth: maxDepth}
}

// Resolve answers q. Sources are consulted in order local store, cache,
// peers; a signed answer ends the search early since nothing can be merged
// into it. The result is a caller-owned Response narrowed to q's protocols.
func (r *Resolver) Resolve(ctx context.Context, q *query.Query, opts Options) (*response.Response, error) {
	var (
		answer *response.Response
		source = metrics.SourceMiss
	)

	// fold skips any source whose records no longer fit in one Response
	fold := func(src *response.Response, from string) {
		if answer == nil {
			if src.RecordCount() <= response.MaxRecords {
				answer, source = src, from
			}
			return
		}
		if answer.MergedCount(src) > response.MaxRecords {
			metrics.RecordMerge(metrics.MergeOverflow)
			logger.Debugw("dropping answer that would overflow", "hash", q.Hash.String(), "source", from,
				"records", answer.RecordCount(), "incoming", src.RecordCount())
			return
		}
		merge(answer, src)
	}

	if r.store != nil {
		resp, err := r.store.Get(q.Hash)
		switch {
		case err == nil:
			fold(resp, metrics.SourceLocal)
		case errors.Is(err, storage.ErrNotFound):
		default:
			logger.Warnw("local store lookup failed", "hash", q.Hash.String(), "err", err)
		}
	}

	if !answer.IsAuthoritative() && r.cache != nil {
		if resp, ok := r.cache.Get(q.Hash); ok {
			fold(resp, metrics.SourceCache)
		}
	}

	depth := opts.Depth
	if depth > r.maxDepth {
		depth = r.maxDepth
	}
	if !answer.IsAuthoritative() && depth > 0 && r.recursor != nil {
		replies, err := r.recursor.Resolve(ctx, q, depth-1, opts.AuthoritativeOnly)
		if err != nil {
			return nil, err
		}
		for _, resp := range replies {
			if r.cache != nil {
				r.cache.Put(resp)
			}
			fold(resp, metrics.SourceRecursion)
		}
	}

	metrics.RecordQuery(source)
	if answer == nil {
		return nil, ErrNoAnswer
	}
	if opts.AuthoritativeOnly && !answer.IsAuthoritative() {
		return nil, ErrNoAuthoritativeAnswer
	}

	logger.Debugw("resolved", "hash", q.Hash.String(), "source", source,
		"records", answer.RecordCount(), "authoritative", answer.IsAuthoritative())
	return q.Filter(answer), nil
}

// merge folds src into dst and records which branch of the policy applied.
func merge(dst, src *response.Response) {
	switch {
	case dst.IsAuthoritative():
		metrics.RecordMerge(metrics.MergeNoop)
	case src.IsAuthoritative():
		metrics.RecordMerge(metrics.MergeSwap)
	default:
		metrics.RecordMerge(metrics.MergeReconcile)
	}
	dst.Merge(src)
}

// HandleFrame turns an inbound query frame into its reply. Frames other than
// queries get no reply.
func (r *Resolver) HandleFrame(ctx context.Context, f *protocol.Frame) *protocol.Frame {
	metrics.RecordFrame(protocol.TypeName(f.Type))
	if f.Type != protocol.TypeQuery {
		return nil
	}

	q, err := query.Decode(f.Payload)
	if err != nil {
		metrics.RecordParseFailure("query")
		return protocol.NewErrorFrame(f, "malformed query")
	}

	var opts Options
	if f.HasFlag(protocol.FlagRecursionDesired) {
		opts.Depth = f.RecurseDepth
	}
	opts.AuthoritativeOnly = f.HasFlag(protocol.FlagAuthoritativeOnly)

	resp, err := r.Resolve(ctx, q, opts)
	if err != nil {
		return protocol.NewErrorFrame(f, err.Error())
	}
	body, err := resp.MarshalBinary()
	if err != nil {
		logger.Errorw("failed to serialize answer", "hash", q.Hash.String(), "err", err)
		return protocol.NewErrorFrame(f, "answer not serializable")
	}
	return protocol.NewResponseFrame(f, body)
}
