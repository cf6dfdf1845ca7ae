package signaling

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// wsMessage is the wire shape exchanged over the demo WebSocket transport.
// It mirrors the JSON shape used by the original local-webserver signaler:
//
//	{ "type": "offer", "sdp": "..." }
//	{ "type": "answer", "sdp": "..." }
//	{ "type": "iceCandidate", "candidate": "...", "sdpMid": "..." }
type wsMessage struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Mid       string `json:"sdpMid,omitempty"`
}

const writeTimeout = 5 * time.Second

// wsTransport implements Transport over a single *websocket.Conn. It is used
// on both ends: the listening peer gets one from an http.Server's Upgrader,
// the dialing peer gets one from websocket.Dial.
type wsTransport struct {
	conn *websocket.Conn
	in   chan Message
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn: conn,
		in:   make(chan Message, 16),
	}
	go t.readLoop()
	return t
}

func (t *wsTransport) readLoop() {
	defer close(t.in)
	for {
		var m wsMessage
		if err := t.conn.ReadJSON(&m); err != nil {
			log.Debug("websocket read loop exiting: %v", err)
			return
		}

		switch m.Type {
		case "offer", "answer":
			t.in <- Message{Kind: m.Type, SDP: m.SDP}
		case "iceCandidate":
			if m.Candidate == "" {
				t.in <- Message{Kind: "candidates-done"}
				continue
			}
			t.in <- Message{Kind: "candidate", Candidate: m.Candidate, Mid: m.Mid}
		default:
			log.Warn("unexpected signaling message type: %q", m.Type)
		}
	}
}

func (t *wsTransport) SendSDP(kind, sdp string) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(wsMessage{Type: kind, SDP: sdp})
}

func (t *wsTransport) SendCandidate(candidate, mid string) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(wsMessage{Type: "iceCandidate", Candidate: candidate, Mid: mid})
}

func (t *wsTransport) Recv() <-chan Message {
	return t.in
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// Listener accepts a single incoming WebSocket connection and hands back a
// Transport for it. It is meant for short-lived demo use: one rendezvous per
// process, matching the peer-to-peer scope of this module (no multi-call
// routing, no authentication, no persistent server).
type Listener struct {
	addr     string
	server   *http.Server
	upgrader websocket.Upgrader
	accepted chan Transport
}

// Listen starts an HTTP server on addr (e.g. ":8000") that upgrades the
// first request to path to a WebSocket and yields a Transport for it.
func Listen(addr, path string) *Listener {
	l := &Listener{
		addr:     addr,
		accepted: make(chan Transport, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handle)
	l.server = &http.Server{Addr: addr, Handler: mux}
	return l
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed: %v", err)
		return
	}
	select {
	case l.accepted <- newWSTransport(conn):
	default:
		log.Warn("rejecting extra signaling connection; only one peer is expected")
		conn.Close()
	}
}

// Accept blocks until a peer connects, then returns a Transport for it.
func (l *Listener) Accept() (Transport, error) {
	go func() {
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("signaling listener stopped: %v", err)
		}
	}()
	t, ok := <-l.accepted
	if !ok {
		return nil, errors.New("signaling listener closed before a peer connected")
	}
	return t, nil
}

// Close shuts down the listener. Safe to call after Accept has returned.
func (l *Listener) Close() error {
	return l.server.Close()
}

// DialConfig carries the TLS trust options for wss:// rendezvous URLs. The
// zero value uses the system trust store and the URL's own host name.
type DialConfig struct {
	// CAPath, when set, is a PEM bundle that replaces the system roots.
	CAPath string

	// ServerDomain, when set, overrides the name the server certificate is
	// verified against (for relays fronted by an IP or a CNAME).
	ServerDomain string
}

// Dial connects to a Listener started elsewhere (e.g. by the other peer, or
// by a small relay) and returns a Transport for the resulting connection.
func Dial(url string, cfg DialConfig) (Transport, error) {
	dialer := *websocket.DefaultDialer
	if cfg.CAPath != "" || cfg.ServerDomain != "" {
		tlsConfig := &tls.Config{ServerName: cfg.ServerDomain}
		if cfg.CAPath != "" {
			pem, err := os.ReadFile(cfg.CAPath)
			if err != nil {
				return nil, errors.Wrap(err, "read signaling CA bundle")
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, errors.Errorf("no certificates in %s", cfg.CAPath)
			}
			tlsConfig.RootCAs = pool
		}
		dialer.TLSClientConfig = tlsConfig
	}

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial signaling websocket")
	}
	return newWSTransport(conn), nil
}
