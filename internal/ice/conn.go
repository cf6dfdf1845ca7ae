package ice

import (
	"net"
	"os"
	"sync"
	"time"
)

// ChannelConn is the net.Conn handed to the session once a pair is
// nominated: writes go out the selected base's socket to the peer's
// address, reads drain the channel the base's read loop fills with
// non-STUN traffic.
type ChannelConn struct {
	socket net.PacketConn
	laddr  net.Addr
	raddr  net.Addr

	in <-chan []byte

	mu       sync.Mutex
	deadline time.Time
}

func NewChannelConn(base *Base, in <-chan []byte, raddr net.Addr) *ChannelConn {
	return &ChannelConn{
		socket: base.PacketConn,
		laddr:  base.LocalAddr(),
		raddr:  raddr,
		in:     in,
	}
}

// Read returns the next datagram, truncating it if b is too small.
func (c *ChannelConn) Read(b []byte) (int, error) {
	var expire <-chan time.Time
	c.mu.Lock()
	if !c.deadline.IsZero() {
		wait := time.Until(c.deadline)
		if wait <= 0 {
			c.mu.Unlock()
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expire = timer.C
	}
	c.mu.Unlock()

	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, net.ErrClosed
		}
		if len(data) > len(b) {
			log.Warn("read truncated: %d-byte datagram into %d-byte buffer", len(data), len(b))
		}
		return copy(b, data), nil
	case <-expire:
		return 0, os.ErrDeadlineExceeded
	}
}

// Write sends one datagram to the nominated remote address.
func (c *ChannelConn) Write(b []byte) (int, error) {
	return c.socket.WriteTo(b, c.raddr)
}

// Close is a no-op: the base owns the socket, and the agent owns the base.
func (c *ChannelConn) Close() error {
	return nil
}

func (c *ChannelConn) LocalAddr() net.Addr  { return c.laddr }
func (c *ChannelConn) RemoteAddr() net.Addr { return c.raddr }

func (c *ChannelConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *ChannelConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *ChannelConn) SetWriteDeadline(t time.Time) error {
	return c.socket.SetWriteDeadline(t)
}
