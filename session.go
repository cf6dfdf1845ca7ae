package rtcore

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/rtcore/internal/clock"
	"github.com/lanikai/rtcore/internal/dtls"
	"github.com/lanikai/rtcore/internal/mux"
	"github.com/lanikai/rtcore/internal/protocol"
	"github.com/lanikai/rtcore/internal/rtp"

	"github.com/google/uuid"
	pdtls "github.com/pion/dtls/v2"
)

// SessionState tracks the lifecycle of an established connection.
type SessionState int

const (
	StateIdle SessionState = iota
	StateHandshaking
	StateEstablished
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandshaking:
		return "Handshaking"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	readTimeout    = 500 * time.Millisecond
	maxPacketSize  = 8192
	eventQueueSize = 32
)

// Session owns the nominated connection after ICE: it runs the DTLS
// handshake, then the application-level SYN handshake, relays RTP/RTCP to
// its RtpSession while established, and drives the FIN exchange on close.
type Session struct {
	cfg SessionConfig

	conn net.Conn
	mux  *mux.Mux

	dtlsConn *pdtls.Conn
	keys     dtls.Keys

	// Mux endpoints for the two kinds of post-DTLS traffic we own.
	ctrl net.Conn
	data net.Conn

	// Local and (once learned) remote session tokens.
	token     uint64
	peerToken uint64

	mu    sync.Mutex
	state SessionState

	rtpSession   *rtp.Session
	payloadTypes map[byte]rtp.PayloadType
	cname        string

	events chan EngineEvent

	ids clock.IdGen

	established chan struct{}
	estabOnce   sync.Once

	// Signals for the close exchange.
	finAcked  chan struct{}
	finDone   chan struct{}
	closedCh  chan struct{}
	closeOnce sync.Once

	wg sync.WaitGroup
}

// NewSession takes ownership of the nominated connection, runs the DTLS
// handshake against the pinned remote fingerprint, and prepares (but does
// not start) the application handshake. The ConnectionManager supplies the
// DTLS identity, role, and negotiated payload types.
func NewSession(conn net.Conn, manager *ConnectionManager, cfg SessionConfig) (*Session, error) {
	s := &Session{
		cfg:          cfg,
		conn:         conn,
		state:        StateIdle,
		payloadTypes: manager.PayloadTypes(),
		cname:        uuid.NewString(),
		events:       make(chan EngineEvent, eventQueueSize),
		established:  make(chan struct{}),
		finAcked:     make(chan struct{}),
		finDone:      make(chan struct{}),
		closedCh:     make(chan struct{}),
	}
	s.token = s.ids.Token()

	s.mux = mux.NewMux(conn, maxPacketSize)
	dtlsEndpoint := s.mux.NewEndpoint(mux.MatchDTLS)
	s.ctrl = s.mux.NewEndpoint(mux.MatchControl)
	s.data = s.mux.NewEndpoint(mux.MatchRTP)

	// The offerer advertises setup:actpass and waits; the answerer picks
	// setup:active and dials.
	role := dtls.RoleServer
	if !manager.Controlling() {
		role = dtls.RoleClient
	}
	dtlsConn, keys, err := dtls.Handshake(dtlsEndpoint, manager.Certificate(), role, manager.RemoteFingerprint())
	if err != nil {
		s.mux.Close()
		return nil, err
	}
	s.dtlsConn = dtlsConn
	s.keys = keys

	s.emit(NominatedEvent{
		LocalAddr:  conn.LocalAddr().String(),
		RemoteAddr: conn.RemoteAddr().String(),
	})
	return s, nil
}

// Events returns the engine event stream. Terminates with a ClosedEvent.
// When the consumer lags, the oldest event is dropped; the data plane never
// blocks here.
func (s *Session) Events() <-chan EngineEvent { return s.events }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the locally chosen 64-bit session token.
func (s *Session) Token() uint64 { return s.token }

// Start launches the control reader and the handshake driver. It returns
// immediately; watch Events for EstablishedEvent or ClosedEvent.
func (s *Session) Start() {
	s.mu.Lock()
	s.state = StateHandshaking
	s.mu.Unlock()
	s.emit(StatusEvent{Message: "application handshake started"})

	s.wg.Add(2)
	go s.controlLoop()
	go s.handshakeLoop()
}

// Established returns a channel closed once the application handshake
// completes.
func (s *Session) Established() <-chan struct{} { return s.established }

// handshakeLoop resends SYN until the session is established or the
// handshake times out. Both ends run it; glare resolves because each side
// answers the other's SYN regardless of having sent its own.
func (s *Session) handshakeLoop() {
	defer s.wg.Done()

	deadline := time.NewTimer(s.cfg.HandshakeTimeout)
	defer deadline.Stop()
	resend := time.NewTicker(s.cfg.ResendEvery)
	defer resend.Stop()

	s.sendLine(protocol.EncodeSyn(s.token))
	for {
		select {
		case <-s.established:
			return
		case <-s.closedCh:
			return
		case <-resend.C:
			s.sendLine(protocol.EncodeSyn(s.token))
		case <-deadline.C:
			log.Warn("handshake timeout after %s", s.cfg.HandshakeTimeout)
			s.teardown(ErrHandshakeTimeout)
			return
		}
	}
}

// controlLoop reads handshake and close lines for the life of the session.
func (s *Session) controlLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-s.closedCh:
			return
		default:
		}

		s.ctrl.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := s.ctrl.Read(buf)
		if err != nil {
			if isTransient(err) {
				continue
			}
			// Socket is dead; the reader thread dies with it.
			s.teardown(errors.Wrap(err, "control read"))
			return
		}

		msg, ok := protocol.Parse(buf[:n])
		if !ok {
			log.Debug("ignoring unparseable control line: %q", strings.TrimSpace(string(buf[:n])))
			continue
		}
		s.handleControl(msg)
	}
}

func (s *Session) handleControl(msg protocol.Message) {
	switch msg.Kind {
	case protocol.Syn:
		// Store the peer's token and answer. Duplicates (resends) get the
		// same reply; a conflicting token is silently ignored.
		s.mu.Lock()
		if s.peerToken == 0 {
			s.peerToken = msg.Token
		}
		known := s.peerToken == msg.Token
		s.mu.Unlock()
		if known {
			s.sendLine(protocol.EncodeSynAck(msg.Token, s.token))
		}

	case protocol.SynAck:
		if msg.Your != s.token {
			return
		}
		s.mu.Lock()
		if s.peerToken == 0 {
			s.peerToken = msg.Mine
		}
		known := s.peerToken == msg.Mine
		s.mu.Unlock()
		if known {
			s.sendLine(protocol.EncodeAck(msg.Mine))
			s.becomeEstablished()
		}

	case protocol.Ack:
		if msg.Your == s.token {
			s.becomeEstablished()
		}

	case protocol.Fin:
		s.mu.Lock()
		match := s.peerToken == msg.Token
		s.mu.Unlock()
		if match {
			go s.respondToClose()
		}

	case protocol.FinAck:
		if msg.Your == s.token {
			s.mu.Lock()
			peer := s.peerToken
			s.mu.Unlock()
			if msg.Mine == peer {
				select {
				case <-s.finAcked:
				default:
					close(s.finAcked)
				}
			}
		}

	case protocol.FinAck2:
		if msg.Your == s.token {
			select {
			case <-s.finDone:
			default:
				close(s.finDone)
			}
		}
	}
}

// becomeEstablished transitions to Established exactly once: starts the RTP
// session over the data endpoint and announces it.
func (s *Session) becomeEstablished() {
	s.estabOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateClosed || s.state == StateClosing {
			s.mu.Unlock()
			return
		}
		s.state = StateEstablished
		peer := s.peerToken
		s.mu.Unlock()

		s.rtpSession = rtp.NewSession(s.data, rtp.SessionOptions{
			ReadKeys:     s.keys.Read,
			WriteKeys:    s.keys.Write,
			CNAME:        s.cname,
			PayloadTypes: s.payloadTypes,
			Clock:        clock.System{},
		})

		s.wg.Add(1)
		go s.dataLoop()

		log.Info("session established, peer token %016x", peer)
		close(s.established)
		s.emit(EstablishedEvent{PeerToken: peer})
	})
}

// dataLoop relays inbound RTP/RTCP datagrams to the RtpSession until the
// session is torn down.
func (s *Session) dataLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-s.closedCh:
			return
		default:
		}

		s.data.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := s.data.Read(buf)
		if err != nil {
			if isTransient(err) {
				continue
			}
			s.teardown(errors.Wrap(err, "data read"))
			return
		}
		s.rtpSession.HandlePacket(buf[:n])
	}
}

// RTP returns the RTP session, or nil before Established.
func (s *Session) RTP() *rtp.Session { return s.rtpSession }

// RegisterOutboundTrack creates a send stream for the named codec ("H264"
// or "PCMU") using the payload type settled during negotiation.
func (s *Session) RegisterOutboundTrack(codec string) (*rtp.SendStream, error) {
	if s.rtpSession == nil {
		return nil, errors.Wrap(ErrClosed, "session not established")
	}
	for _, pt := range s.payloadTypes {
		if strings.EqualFold(pt.Name, codec) {
			return s.rtpSession.AddSendStream(pt), nil
		}
	}
	return nil, errors.Wrapf(ErrMediaSpec, "codec %s was not negotiated", codec)
}

// SendFrameChunks writes one frame's RTP chunks to an outbound track.
func (s *Session) SendFrameChunks(track *rtp.SendStream, chunks []rtp.Chunk, timestamp uint32) error {
	if s.State() != StateEstablished {
		return ErrClosed
	}
	return track.WriteFrame(chunks, timestamp)
}

// RequestClose starts a graceful shutdown: FIN with resend until the peer
// acknowledges, then FIN-ACK2 and teardown. The close timeout forces
// teardown even if the peer never answers.
func (s *Session) RequestClose() {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	peer := s.peerToken
	s.mu.Unlock()

	s.stopMedia()
	s.emit(ClosingEvent{Initiated: true})

	deadline := time.NewTimer(s.cfg.CloseTimeout)
	defer deadline.Stop()
	resend := time.NewTicker(s.cfg.CloseResendEvery)
	defer resend.Stop()

	s.sendLine(protocol.EncodeFin(s.token))
	for {
		select {
		case <-s.finAcked:
			s.sendLine(protocol.EncodeFinAck2(peer))
			s.teardown(nil)
			return
		case <-resend.C:
			s.sendLine(protocol.EncodeFin(s.token))
		case <-deadline.C:
			log.Warn("close timed out; tearing down anyway")
			s.teardown(nil)
			return
		case <-s.closedCh:
			return
		}
	}
}

// respondToClose handles the responder side of the FIN exchange: reply
// FIN-ACK with resend until FIN-ACK2 arrives or the close timeout fires.
func (s *Session) respondToClose() {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	peer := s.peerToken
	s.mu.Unlock()

	s.stopMedia()
	s.emit(ClosingEvent{Initiated: false})

	deadline := time.NewTimer(s.cfg.CloseTimeout)
	defer deadline.Stop()
	resend := time.NewTicker(s.cfg.CloseResendEvery)
	defer resend.Stop()

	s.sendLine(protocol.EncodeFinAck(peer, s.token))
	for {
		select {
		case <-s.finDone:
			s.teardown(nil)
			return
		case <-resend.C:
			s.sendLine(protocol.EncodeFinAck(peer, s.token))
		case <-deadline.C:
			s.teardown(nil)
			return
		case <-s.closedCh:
			return
		}
	}
}

// stopMedia halts the RTP session (its RTCP scheduler stops, a BYE goes out
// once) and drops its streams. Safe to call more than once.
func (s *Session) stopMedia() {
	if s.rtpSession != nil {
		s.rtpSession.Close()
	}
}

// teardown transitions to Closed exactly once, closing the mux (and with it
// the underlying socket) and emitting the terminal event.
func (s *Session) teardown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		close(s.closedCh)
		s.stopMedia()
		if s.dtlsConn != nil {
			s.dtlsConn.Close()
		}
		s.mux.Close()
		s.emit(ClosedEvent{Err: err})
	})
}

// Close tears the session down immediately, without the FIN exchange. Use
// RequestClose for a graceful shutdown.
func (s *Session) Close() error {
	s.teardown(nil)
	s.wg.Wait()
	return nil
}

func (s *Session) sendLine(line string) {
	if _, err := s.ctrl.Write([]byte(line)); err != nil {
		log.Debug("control write failed: %v", err)
	}
}

// emit never blocks: when the queue is full the oldest event is dropped.
func (s *Session) emit(e EngineEvent) {
	for {
		select {
		case s.events <- e:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}
