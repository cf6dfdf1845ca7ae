package mux

import (
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// How many datagrams an endpoint queues before the mux starts dropping.
const endpointQueueDepth = 32

// Endpoint is one protocol's net.Conn view of the muxed socket (DTLS,
// handshake lines, or RTP/RTCP). Reads deliver whole datagrams in arrival
// order; writes pass straight through to the shared socket.
type Endpoint struct {
	mux   *Mux
	match MatchFunc

	packets chan []byte

	done     chan struct{}
	doneOnce sync.Once

	deadline *deadlineTimer
}

func (e *Endpoint) shutdown() {
	e.doneOnce.Do(func() { close(e.done) })
}

// Close detaches the endpoint from its mux. The socket stays open for the
// other endpoints.
func (e *Endpoint) Close() error {
	e.mux.RemoveEndpoint(e)
	return nil
}

// Read copies the next queued datagram into p. A datagram larger than p is
// truncated, matching UDP semantics. Queued datagrams drain even after the
// endpoint closes; EOF follows once the queue is empty.
func (e *Endpoint) Read(p []byte) (int, error) {
	select {
	case pkt := <-e.packets:
		return copy(p, pkt), nil
	default:
	}

	select {
	case pkt := <-e.packets:
		return copy(p, pkt), nil
	case <-e.done:
		return 0, io.EOF
	case <-e.deadline.expired():
		return 0, os.ErrDeadlineExceeded
	}
}

// Write sends p on the underlying socket.
func (e *Endpoint) Write(p []byte) (int, error) {
	select {
	case <-e.done:
		return 0, io.ErrClosedPipe
	default:
		return e.mux.conn.Write(p)
	}
}

func (e *Endpoint) LocalAddr() net.Addr  { return e.mux.conn.LocalAddr() }
func (e *Endpoint) RemoteAddr() net.Addr { return e.mux.conn.RemoteAddr() }

func (e *Endpoint) SetDeadline(t time.Time) error {
	return e.SetReadDeadline(t)
}

func (e *Endpoint) SetReadDeadline(t time.Time) error {
	e.deadline.set(t)
	return nil
}

// SetWriteDeadline is a no-op; writes go straight to the socket.
func (e *Endpoint) SetWriteDeadline(t time.Time) error { return nil }

// deadlineTimer turns a wall-clock deadline into a channel that fires when
// the deadline passes, the shape net.Conn read loops want to select on.
type deadlineTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	ch    chan struct{}
}

func newDeadlineTimer() *deadlineTimer {
	return &deadlineTimer{ch: make(chan struct{})}
}

// set arms the timer for deadline t; a zero time disarms it.
func (d *deadlineTimer) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.ch = make(chan struct{})
	if t.IsZero() {
		return
	}

	ch := d.ch
	wait := time.Until(t)
	if wait <= 0 {
		close(ch)
		return
	}
	d.timer = time.AfterFunc(wait, func() { close(ch) })
}

// expired returns the channel for the currently armed deadline.
func (d *deadlineTimer) expired() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch
}
