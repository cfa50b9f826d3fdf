// Package query defines the request half of a MARP exchange: which hash is
// wanted and, optionally, which record protocols.
package query

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/ZentaChain/marp-node/pkg/crypto"
	"github.com/ZentaChain/marp-node/pkg/response"
)

var ErrTooManyProtocols = errors.New("query: too many protocols")

// Query asks for the records answering Hash. An empty Protocols list asks for
// every record.
type Query struct {
	Hash      response.Hash `cbor:"1,keyasint"`
	Protocols []uint16      `cbor:"2,keyasint,omitempty"`
}

// ForName builds a Query for a human readable name.
func ForName(name string, protocols ...uint16) *Query {
	return &Query{Hash: crypto.NameHash(name), Protocols: protocols}
}

func (q *Query) Encode() ([]byte, error) {
	if len(q.Protocols) > response.MaxRecords {
		return nil, ErrTooManyProtocols
	}
	return cbor.Marshal(q)
}

func Decode(b []byte) (*Query, error) {
	q := new(Query)
	if err := cbor.Unmarshal(b, q); err != nil {
		return nil, errors.Wrap(err, "query: decode")
	}
	if len(q.Protocols) > response.MaxRecords {
		return nil, ErrTooManyProtocols
	}
	return q, nil
}

// Wants reports whether records of protocol answer the query.
func (q *Query) Wants(protocol uint16) bool {
	if len(q.Protocols) == 0 {
		return true
	}
	for _, p := range q.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

// Filter returns a copy of resp narrowed to the requested protocols. An
// authoritative Response is returned whole: dropping records would break its
// signature.
func (q *Query) Filter(resp *response.Response) *response.Response {
	out := resp.Clone()
	if out == nil || len(q.Protocols) == 0 || out.IsAuthoritative() {
		return out
	}
	for _, p := range out.Protocols() {
		if !q.Wants(p) {
			out.RemoveRecord(p)
		}
	}
	return out
}
