package response

import "github.com/pkg/errors"

var (
	ErrTruncatedHeader   = errors.New("response: truncated header")
	ErrTruncatedRecord   = errors.New("response: truncated record")
	ErrTruncatedSig      = errors.New("response: truncated signature")
	ErrDuplicateProtocol = errors.New("response: duplicate protocol")
	ErrNotFound          = errors.New("response: record not found")
	ErrShortBuffer       = errors.New("response: buffer smaller than size upper bound")
	ErrTooManyRecords    = errors.New("response: too many records")
	ErrPayloadTooLarge   = errors.New("response: payload too large")
	ErrInvalidSignature  = errors.New("response: invalid signature length")
)
