package response

// Response wire layout, all integers big-endian:
//
//	[32B hash] [1B record count N]
//	repeat N: [2B protocol][2B length L][L B payload][2B ttl][8B timestamp]
//	[65B signature]   present only when at least 65 bytes trail the records
//
// Between 1 and 64 trailing bytes are a cut-off signature and fail the parse.
// Bytes past the first 65 of a signature are ignored.

// Deserialize parses a received buffer. Any truncation fails the whole parse
// and no partially built Response escapes.
func Deserialize(buf []byte) (*Response, error) {
	r := newReader(buf)

	hash, ok := r.take(HashSize)
	if !ok {
		return nil, ErrTruncatedHeader
	}
	count, ok := r.uint8()
	if !ok {
		return nil, ErrTruncatedHeader
	}

	var h Hash
	copy(h[:], hash)
	resp := New(h)
	resp.records = make([]*Record, 0, count)

	for i := 0; i < int(count); i++ {
		rec, err := readRecord(r)
		if err != nil {
			return nil, err
		}
		if _, dup := resp.index[rec.Protocol]; dup {
			return nil, ErrDuplicateProtocol
		}
		resp.append(rec)
	}

	switch rest := r.remaining(); {
	case rest == 0:
	case rest < SignatureSize:
		return nil, ErrTruncatedSig
	default:
		sig, _ := r.take(SignatureSize)
		resp.signature = append([]byte(nil), sig...)
	}

	return resp, nil
}

// SizeUpperBound is the buffer size a caller must provide to Serialize. It
// always reserves room for a signature, so an unsigned Response serializes to
// SignatureSize bytes less than the bound.
func (r *Response) SizeUpperBound() int {
	if r == nil {
		return 0
	}
	n := HashSize + SignatureSize + 1
	for _, rec := range r.records {
		n += rec.WireSize()
	}
	return n
}

// Serialize writes the Response into buf, which must be at least
// SizeUpperBound bytes long, and returns the number of bytes written.
func (r *Response) Serialize(buf []byte) (int, error) {
	if len(buf) < r.SizeUpperBound() {
		return 0, ErrShortBuffer
	}
	n, err := r.serializeBody(buf)
	if err != nil {
		return 0, err
	}
	if r.signature != nil {
		n += copy(buf[n:], r.signature)
	}
	return n, nil
}

func (r *Response) serializeBody(buf []byte) (int, error) {
	if len(r.records) > MaxRecords {
		return 0, ErrTooManyRecords
	}
	n := copy(buf, r.hash[:])
	buf[n] = uint8(len(r.records))
	n++
	for _, rec := range r.records {
		n += rec.put(buf[n:])
	}
	return n, nil
}

// SignedBody returns the serialization without the signature: the bytes an
// authority signs.
func (r *Response) SignedBody() ([]byte, error) {
	buf := make([]byte, r.SizeUpperBound())
	n, err := r.serializeBody(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// MarshalBinary allocates the size upper bound, serializes and trims.
func (r *Response) MarshalBinary() ([]byte, error) {
	buf := make([]byte, r.SizeUpperBound())
	n, err := r.Serialize(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// UnmarshalBinary replaces the receiver's content with the parsed buffer.
// On error the receiver is unchanged.
func (r *Response) UnmarshalBinary(data []byte) error {
	parsed, err := Deserialize(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
