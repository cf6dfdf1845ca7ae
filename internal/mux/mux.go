// Package mux splits the single nominated connection into per-protocol
// views. On the wire every protocol sharing the 5-tuple is distinguishable
// by its first byte (RFC 7983 style), so a Mux reads datagrams off the
// socket and routes each to the first endpoint whose matcher claims it.
package mux

import (
	"net"
	"sync"

	"github.com/lanikai/rtcore/internal/logging"
)

var log = logging.New("mux")

// Mux owns the underlying connection: closing the Mux closes the socket
// and every endpoint derived from it.
type Mux struct {
	conn net.Conn

	mu        sync.Mutex
	endpoints []*Endpoint
	closed    bool

	bufferSize int
}

// NewMux starts routing datagrams from conn. bufferSize bounds the largest
// datagram the mux will read.
func NewMux(conn net.Conn, bufferSize int) *Mux {
	m := &Mux{
		conn:       conn,
		bufferSize: bufferSize,
	}
	go m.readLoop()
	return m
}

// NewEndpoint registers a protocol view selected by match. Matchers are
// consulted in registration order; the first claim wins.
func (m *Mux) NewEndpoint(match MatchFunc) *Endpoint {
	e := &Endpoint{
		mux:      m,
		match:    match,
		packets:  make(chan []byte, endpointQueueDepth),
		done:     make(chan struct{}),
		deadline: newDeadlineTimer(),
	}
	m.mu.Lock()
	m.endpoints = append(m.endpoints, e)
	m.mu.Unlock()
	return e
}

// RemoveEndpoint detaches an endpoint without closing the socket.
func (m *Mux) RemoveEndpoint(e *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.endpoints {
		if other == e {
			m.endpoints = append(m.endpoints[:i], m.endpoints[i+1:]...)
			break
		}
	}
	e.shutdown()
}

// Close tears down the socket and every endpoint.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	endpoints := m.endpoints
	m.endpoints = nil
	m.mu.Unlock()

	for _, e := range endpoints {
		e.shutdown()
	}
	return m.conn.Close()
}

// readLoop pulls datagrams off the socket and dispatches until the socket
// dies, then closes everything down.
func (m *Mux) readLoop() {
	defer m.Close()

	buf := make([]byte, m.bufferSize)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return
		}
		m.dispatch(buf[:n])
	}
}

// dispatch copies the datagram to the claiming endpoint's queue. A full
// queue drops the datagram rather than stalling the socket reader.
func (m *Mux) dispatch(datagram []byte) {
	m.mu.Lock()
	var target *Endpoint
	for _, e := range m.endpoints {
		if e.match(datagram) {
			target = e
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		if len(datagram) > 0 {
			log.Debug("no endpoint claims packet starting with %d", datagram[0])
		}
		return
	}

	owned := append([]byte(nil), datagram...)
	select {
	case target.packets <- owned:
	default:
		log.Debug("endpoint backlogged, dropping %d-byte packet", len(owned))
	}
}
