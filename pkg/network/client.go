package network

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	logging "github.com/ZentaChain/marp-node/pkg/log"
	"github.com/ZentaChain/marp-node/pkg/protocol"
)

var logger = logging.Logger("network")

const DefaultExchangeTimeout = 3 * time.Second

// Client performs single request/reply exchanges over UDP.
type Client struct {
	// Timeout applies when the context has no earlier deadline.
	Timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultExchangeTimeout
	}
	return &Client{Timeout: timeout}
}

// Exchange sends f to addr and waits for the reply carrying f's MessageID.
// Stray datagrams and malformed frames are skipped until the deadline.
func (c *Client) Exchange(ctx context.Context, addr string, f *protocol.Frame) (*protocol.Frame, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "network: resolve %s", addr)
	}

	buf, err := f.Encode()
	if err != nil {
		return nil, err
	}
	if len(buf) > MaxDatagramSize {
		return nil, ErrDatagramTooLarge
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "network: dial %s", addr)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	// closing the connection is the only way to abort a blocked read
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write(buf); err != nil {
		return nil, errors.Wrapf(err, "network: send to %s", addr)
	}

	in := make([]byte, MaxDatagramSize)
	for {
		n, err := conn.Read(in)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrTimeout
			}
			return nil, errors.Wrapf(err, "network: receive from %s", addr)
		}

		reply, err := protocol.DecodeFrame(in[:n])
		if err != nil {
			logger.Debugw("dropping malformed reply", "peer", addr, "err", err)
			continue
		}
		if reply.MessageID != f.MessageID || reply.Type == protocol.TypeQuery {
			logger.Debugw("dropping unrelated frame", "peer", addr, "type", protocol.TypeName(reply.Type))
			continue
		}
		return reply, nil
	}
}
