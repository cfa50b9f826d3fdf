package network

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/ZentaChain/marp-node/pkg/protocol"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

var (
	ErrTimeout          = errors.New("network: timed out")
	ErrDatagramTooLarge = errors.New("network: frame exceeds datagram size")
)

// Socket is a bound UDP endpoint exchanging whole frames, one per datagram.
type Socket struct {
	conn *net.UDPConn
	buf  []byte
}

// Listen binds addr, e.g. ":5353" or "127.0.0.1:0".
func Listen(addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "network: resolve %s", addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "network: listen %s", addr)
	}
	return &Socket{conn: conn, buf: make([]byte, MaxDatagramSize)}, nil
}

// Addr is the bound address, useful after listening on port 0.
func (s *Socket) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// ReadFrame waits for the next datagram and decodes it. A zero timeout
// blocks until a datagram arrives or the socket is closed. Datagrams that
// are not valid frames are returned as errors; callers keep reading.
//
// ReadFrame must not be called concurrently.
func (s *Socket) ReadFrame(timeout time.Duration) (*protocol.Frame, *net.UDPAddr, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}

	n, from, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}

	f, err := protocol.DecodeFrame(s.buf[:n])
	if err != nil {
		return nil, from, err
	}
	return f, from, nil
}

// WriteFrame sends f to addr in one datagram.
func (s *Socket) WriteFrame(f *protocol.Frame, addr *net.UDPAddr) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	if len(buf) > MaxDatagramSize {
		return ErrDatagramTooLarge
	}
	_, err = s.conn.WriteToUDP(buf, addr)
	return err
}

// Close unblocks any pending ReadFrame.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// IsClosed reports whether err comes from using a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
