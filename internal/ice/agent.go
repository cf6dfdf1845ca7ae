package ice

import (
	"context"
	"net"
	"sync"
	"time"
)

// RFC 8445: https://tools.ietf.org/html/rfc8445

// Role distinguishes the controlling ICE agent (the one that nominates the
// pair both sides end up using) from the controlled one.
type Role int

const (
	Controlled Role = iota
	Controlling
)

// Agent is a Full ICE implementation supporting a single component of a
// single media stream, per [RFC8445]. Offerers run as Controlling, answerers
// as Controlled, matching the usual JSEP convention.
type Agent struct {
	role Role

	sdpMid         string
	username       string
	localPassword  string
	remotePassword string
	component      int

	bases   []*Base
	dataIns map[*Base]chan []byte

	checklist Checklist

	conn      net.Conn
	ready     chan net.Conn
	readyOnce sync.Once
}

// NewAgent creates an unconfigured ICE agent. Call Configure before
// EstablishConnection.
func NewAgent(role Role) *Agent {
	return &Agent{
		role:  role,
		ready: make(chan net.Conn, 1),
	}
}

// Configure supplies the ICE credentials negotiated via SDP: the combined
// username fragment and each side's password.
func (a *Agent) Configure(sdpMid, username, localPassword, remotePassword string) {
	a.sdpMid = sdpMid
	a.username = username
	a.localPassword = localPassword
	a.remotePassword = remotePassword

	a.checklist.username = username
	a.checklist.localPassword = localPassword
	a.checklist.remotePassword = remotePassword
	a.checklist.controlling = a.role == Controlling
}

// EstablishConnection gathers local candidates (trickling each one to lcand
// as it's found), runs connectivity checks against remote candidates added
// via AddRemoteCandidate, and blocks until a pair is selected or ctx ends.
// On success it returns a net.Conn bound to the selected pair.
func (a *Agent) EstablishConnection(ctx context.Context, lcand chan<- Candidate) (net.Conn, error) {
	if a.username == "" {
		return nil, errNotConfigured
	}

	// TODO: Support multiple components.
	a.component = 1

	bases, err := initializeBases(a.component, a.sdpMid)
	if err != nil {
		return nil, err
	}
	a.bases = bases
	a.dataIns = make(map[*Base]chan []byte, len(bases))

	a.checklist.run(ctx)

	for _, base := range bases {
		dataIn := make(chan []byte, 64)
		a.dataIns[base] = dataIn
		go base.readLoop(a.handleStun, dataIn)
	}

	go func() {
		gatherAllCandidates(ctx, bases, func(c Candidate) {
			a.addLocalCandidate(c)
			select {
			case lcand <- c:
			case <-ctx.Done():
			}
		})
		close(lcand)
	}()

	go a.watchChecklist(ctx)

	select {
	case conn := <-a.ready:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, errEstablishTimeout
	}
}

// AddRemoteCandidate adds a trickled remote candidate, pairing it against
// every local candidate gathered so far. An empty desc signals end of
// trickling and is a no-op.
func (a *Agent) AddRemoteCandidate(desc, mid string) error {
	if desc == "" {
		// TODO: This should signal end of trickling.
		return nil
	}

	c, err := ParseCandidate(desc, mid)
	if err != nil {
		return err
	}

	a.checklist.addCandidatePairs(a.localCandidates(), []Candidate{c})
	return nil
}

// localCandidates returns the local candidates paired so far, derived from
// the checklist's pair list rather than a separately maintained slice, so
// there's a single source of truth.
func (a *Agent) localCandidates() []Candidate {
	a.checklist.mutex.Lock()
	defer a.checklist.mutex.Unlock()

	seen := make(map[string]bool)
	var out []Candidate
	for _, p := range a.checklist.pairs {
		key := p.local.address.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, p.local)
		}
	}
	return out
}

func (a *Agent) addLocalCandidate(c Candidate) {
	a.checklist.addCandidatePairs([]Candidate{c}, a.remoteCandidates())
}

func (a *Agent) remoteCandidates() []Candidate {
	a.checklist.mutex.Lock()
	defer a.checklist.mutex.Unlock()

	seen := make(map[string]bool)
	var out []Candidate
	for _, p := range a.checklist.pairs {
		key := p.remote.address.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, p.remote)
		}
	}
	return out
}

// watchChecklist waits for the checklist to select a pair, then wires up a
// ChannelConn over it and delivers it once via a.ready.
func (a *Agent) watchChecklist(ctx context.Context) {
	p, err := a.checklist.getSelected(ctx)
	if err != nil {
		return
	}

	a.readyOnce.Do(func() {
		log.Info("Selected candidate pair: %s", p)
		base := p.local.base
		dataIn := a.dataIns[base]
		conn := NewChannelConn(base, dataIn, p.remote.address.netAddr())
		a.conn = conn
		a.ready <- conn
	})
}

// handleStun is the default handler passed to each base's readLoop: it
// receives STUN messages that don't match a pending outbound transaction,
// i.e. incoming requests and indications from the remote agent.
func (a *Agent) handleStun(msg *stunMessage, raddr net.Addr, base *Base) {
	if msg.method != methodBinding {
		log.Warn("Unexpected STUN method in message: %s", msg)
		return
	}

	switch msg.class {
	case stunRequest:
		a.checklist.handleStunRequest(msg, raddr, base)
	case stunIndication:
		// Keepalive; nothing to do.
	case stunSuccessResponse, stunErrorResponse:
		log.Debug("Received unexpected STUN response: %s\n", msg)
	}
}

// Close tears down every base this agent gathered candidates from.
func (a *Agent) Close() error {
	var firstErr error
	for _, base := range a.bases {
		if err := base.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
