package ice

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lanikai/rtcore/internal/mux"
)

const (
	// Largest datagram a base will read. Path MTU discovery is out of
	// scope; 1500 covers common Ethernet paths.
	baseReadBufferSize = 1500

	// How long to wait for the STUN server before giving up on a
	// server-reflexive candidate.
	stunQueryTimeout = 5 * time.Second

	// A base whose socket stays silent this long is retired; only the
	// selected base carries steady traffic (plus periodic keepalives).
	baseIdleTimeout = 5 * time.Second
)

// A Base is one transport address this agent can send from [RFC8445 §5.1.1]:
// a bound UDP socket on one local interface, shared by every candidate
// derived from it.
type Base struct {
	net.PacketConn

	address   TransportAddress
	component int
	sdpMid    string

	// Interface index and the session-wide table mapping it to a stable
	// local-preference rank.
	ifaceIndex    int
	priorityTable *PriorityTable

	// Outstanding STUN transactions awaiting responses on this socket.
	pending pendingTransactions

	// Closed when the read loop exits; err records why.
	dead chan struct{}
	err  error
}

type stunHandler func(msg *stunMessage, addr net.Addr, base *Base)

func (base *Base) localPreference() int {
	return base.priorityTable.localPreference(base.ifaceIndex)
}

// initializeBases binds one UDP socket per eligible local address.
func initializeBases(component int, sdpMid string) ([]*Base, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	ranks := newPriorityTable()
	var bases []*Base
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				log.Debug("skipping non-IP interface address %v", addr)
				continue
			}
			if !flagEnableIPv6 && ipnet.IP.To4() == nil {
				continue
			}

			base, err := bindBase(ipnet.IP, component, sdpMid, iface.Index, ranks)
			if err != nil {
				// Expected for e.g. link-local IPv6 addresses.
				log.Debug("cannot bind %s: %v", ipnet.IP, err)
				continue
			}
			log.Info("listening on %s", base.address)
			bases = append(bases, base)
		}
	}
	return bases, nil
}

func bindBase(ip net.IP, component int, sdpMid string, ifaceIndex int, ranks *PriorityTable) (*Base, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, err
	}
	return &Base{
		PacketConn:    conn,
		address:       makeTransportAddress(conn.LocalAddr()),
		component:     component,
		sdpMid:        sdpMid,
		ifaceIndex:    ifaceIndex,
		priorityTable: ranks,
	}, nil
}

// gatherAllCandidates collects host and server-reflexive candidates from
// every base concurrently, blocking until all are done.
func gatherAllCandidates(ctx context.Context, bases []*Base, take func(c Candidate)) {
	var wg sync.WaitGroup
	wg.Add(len(bases))
	for _, base := range bases {
		go func(base *Base) {
			defer wg.Done()
			base.gatherCandidates(ctx, take)
		}(base)
	}
	wg.Wait()
}

func (base *Base) gatherCandidates(ctx context.Context, take func(c Candidate)) {
	take(makeHostCandidate(base))

	if base.address.protocol != UDP || base.address.linkLocal {
		return
	}

	// Ask the STUN server how this base looks from outside the NAT.
	mapped, err := base.queryStunServer(ctx, flagStunServer)
	if ctx.Err() != nil {
		return
	}
	switch {
	case err != nil:
		log.Debug("no server-reflexive candidate for %s: %v", base.address, err)
	case mapped == base.address:
		log.Debug("%s is not behind a NAT", base.address)
	default:
		take(makeServerReflexiveCandidate(base, mapped, flagStunServer))
	}
}

// queryStunServer runs one binding request against the configured STUN
// server and returns the reflexive transport address it reports.
func (base *Base) queryStunServer(ctx context.Context, stunServer string) (TransportAddress, error) {
	network := "udp4"
	if base.address.family == IPv6 {
		network = "udp6"
	}
	serverAddr, err := net.ResolveUDPAddr(network, stunServer)
	if err != nil {
		return TransportAddress{}, err
	}

	var mapped TransportAddress
	result := make(chan error, 1)
	req := newStunBindingRequest("")
	defer base.pending.forget(req.transactionID)

	err = base.sendStun(req, serverAddr, func(resp *stunMessage, raddr net.Addr, _ *Base) {
		if resp.class != stunSuccessResponse {
			result <- fmt.Errorf("STUN query refused: %s", resp)
			return
		}
		mapped = makeTransportAddress(resp.getMappedAddress())
		result <- nil
	})
	if err != nil {
		return TransportAddress{}, err
	}

	select {
	case err = <-result:
		return mapped, err
	case <-ctx.Done():
		return TransportAddress{}, ctx.Err()
	case <-time.After(stunQueryTimeout):
		return TransportAddress{}, fmt.Errorf("no answer from %s", stunServer)
	}
}

// sendStun transmits msg to raddr. A non-nil onResponse is invoked when a
// response with the matching transaction ID arrives.
func (base *Base) sendStun(msg *stunMessage, raddr net.Addr, onResponse stunHandler) error {
	if _, err := base.WriteTo(msg.Bytes(), raddr); err != nil {
		return err
	}
	if onResponse != nil {
		base.pending.register(msg.transactionID, onResponse)
	}
	return nil
}

// readLoop services the base's socket until it dies: STUN messages go to
// their transaction handler (or the fallback for unsolicited ones), and
// everything else is buffered for the eventual ChannelConn.
func (base *Base) readLoop(fallback stunHandler, dataIn chan []byte) {
	if base.dead != nil {
		panic("base read loop started twice")
	}
	base.dead = make(chan struct{})
	defer close(base.dead)

	var warnedBacklog bool
	buf := make([]byte, baseReadBufferSize)
	for {
		base.SetReadDeadline(time.Now().Add(baseIdleTimeout))
		n, raddr, err := base.ReadFrom(buf)
		if err != nil {
			base.err = classifyReadError(err, base.address)
			return
		}

		datagram := append([]byte(nil), buf[:n]...)
		if !mux.MatchSTUN(datagram) {
			select {
			case dataIn <- datagram:
			default:
				if !warnedBacklog {
					warnedBacklog = true
					log.Warn("dropping data on %s: reader cannot keep up", base.address)
				}
			}
			continue
		}

		msg, err := parseStunMessage(datagram)
		if err != nil {
			log.Warn("malformed STUN from %s: %v", raddr, err)
			continue
		}
		if msg == nil {
			continue
		}
		log.Debug("received from %s: %s", raddr, msg)
		base.pending.claim(msg.transactionID, fallback)(msg, raddr, base)
	}
}

// classifyReadError sorts a socket read failure into the base's terminal
// error. A timeout just means this base was never selected; a closed socket
// means the agent shut it down.
func classifyReadError(err error, addr TransportAddress) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		log.Debug("base %s idle, retiring", addr)
		return errReadTimeout
	}
	if oe, ok := err.(*net.OpError); ok && oe.Op == "read" {
		log.Debug("base %s closed", addr)
		return nil
	}
	log.Warn("read error on %s: %v", addr, err)
	return err
}

// pendingTransactions maps outstanding STUN transaction IDs to their
// response handlers. Claiming a transaction removes it; unsolicited
// messages fall back to the handler the read loop was started with.
type pendingTransactions struct {
	mu sync.Mutex
	m  map[string]stunHandler
}

func (p *pendingTransactions) register(transactionID string, h stunHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]stunHandler)
	}
	p.m[transactionID] = h
}

func (p *pendingTransactions) claim(transactionID string, fallback stunHandler) stunHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.m[transactionID]; ok {
		delete(p.m, transactionID)
		return h
	}
	return fallback
}

func (p *pendingTransactions) forget(transactionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, transactionID)
}
