package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrInvalidMagic    = errors.New("protocol: invalid magic")
	ErrInvalidVersion  = errors.New("protocol: unsupported version")
	ErrInvalidHeader   = errors.New("protocol: invalid header")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrLengthMismatch  = errors.New("protocol: payload length mismatch")
)

// Header is the fixed 32-byte frame prefix.
//
//	0  Magic(4) Version(2) Type(1) Flags(1)
//	8  RecurseDepth(1) Reserved(1) MessageID(16)
//	26 Length(4) Reserved(2)
type Header struct {
	Magic        uint32
	Version      uint16
	Type         uint8
	Flags        uint8
	RecurseDepth uint8
	MessageID    MessageID
	Length       uint32
}

// Encode encodes the header to bytes
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = h.Type
	buf[7] = h.Flags
	buf[8] = h.RecurseDepth
	buf[9] = 0
	copy(buf[10:26], h.MessageID[:])
	binary.BigEndian.PutUint32(buf[26:30], h.Length)
	binary.BigEndian.PutUint16(buf[30:32], 0)
}

// Decode decodes the header from bytes
func (h *Header) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrInvalidHeader
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Type = buf[6]
	h.Flags = buf[7]
	h.RecurseDepth = buf[8]
	copy(h.MessageID[:], buf[10:26])
	h.Length = binary.BigEndian.Uint32(buf[26:30])

	return nil
}

// Validate validates the header
func (h *Header) Validate() error {
	if h.Magic != ProtocolMagic {
		return ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}
	switch h.Type {
	case TypeQuery, TypeResponse, TypeError:
	default:
		return errors.Wrapf(ErrInvalidHeader, "unknown type 0x%02x", h.Type)
	}
	if h.Length > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	return nil
}

// HasFlag checks if a flag is set
func (h *Header) HasFlag(flag uint8) bool {
	return (h.Flags & flag) != 0
}

// SetFlag sets a flag
func (h *Header) SetFlag(flag uint8) {
	h.Flags |= flag
}

// Frame is one MARP message: a header and its body. Query bodies carry a
// CBOR query, Response bodies a serialized Response and Error bodies a UTF-8
// reason.
type Frame struct {
	Header
	Payload []byte
}

func newFrame(typ uint8, id MessageID, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      typ,
			MessageID: id,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// NewQueryFrame starts an exchange. depth is the remaining hop budget; a
// non-zero depth sets FlagRecursionDesired.
func NewQueryFrame(authoritativeOnly bool, depth uint8, payload []byte) *Frame {
	f := newFrame(TypeQuery, GenerateMessageID(), payload)
	if authoritativeOnly {
		f.SetFlag(FlagAuthoritativeOnly)
	}
	if depth > 0 {
		f.SetFlag(FlagRecursionDesired)
		f.RecurseDepth = depth
	}
	return f
}

// NewResponseFrame answers req. The authoritative-only flag is echoed.
func NewResponseFrame(req *Frame, payload []byte) *Frame {
	f := newFrame(TypeResponse, req.MessageID, payload)
	f.Flags = req.Flags & FlagAuthoritativeOnly
	return f
}

// NewErrorFrame reports a failure to handle req.
func NewErrorFrame(req *Frame, msg string) *Frame {
	return newFrame(TypeError, req.MessageID, []byte(msg))
}

// Encode returns header and payload as one buffer.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	f.Length = uint32(len(f.Payload))

	buf := make([]byte, HeaderSize+len(f.Payload))
	f.put(buf)
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// DecodeFrame parses a complete frame, as received in one datagram. The
// payload is copied.
func DecodeFrame(buf []byte) (*Frame, error) {
	f := &Frame{}
	if err := f.Decode(buf); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if int(f.Length) != len(buf)-HeaderSize {
		return nil, ErrLengthMismatch
	}
	f.Payload = append([]byte(nil), buf[HeaderSize:]...)
	return f, nil
}

// ReadFrame reads one frame from a stream.
func ReadFrame(r io.Reader) (*Frame, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	f := &Frame{}
	if err := f.Decode(buf); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	f.Payload = make([]byte, f.Length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "protocol: read payload")
	}
	return f, nil
}

// WriteFrame writes f to a stream in a single Write.
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
