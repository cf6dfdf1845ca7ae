// Package signaling defines the fixed boundary between a session and
// whatever out-of-band channel is used to exchange SDP and ICE candidates
// with the remote peer. The wire format and transport of that channel are
// explicitly out of scope for this module; only the Transport interface and
// a minimal demo implementation over a WebSocket live here.
package signaling

import (
	"github.com/lanikai/rtcore/internal/ice"
	"github.com/lanikai/rtcore/internal/logging"
)

var log = logging.New("signaling")

// Message is a single inbound signaling event, delivered over the channel
// returned by Transport.Recv.
type Message struct {
	// Kind is "offer", "answer", "candidate", or "candidates-done".
	Kind string

	// SDP holds the session description for Kind == "offer" or "answer".
	SDP string

	// Candidate and Mid hold an ICE candidate line and its associated media
	// stream id for Kind == "candidate".
	Candidate string
	Mid       string
}

// Transport is the fixed interface a SessionOrchestrator uses to exchange
// session descriptions and trickled candidates with a remote peer. It says
// nothing about how messages reach the peer; that's the collaborator's job.
type Transport interface {
	// SendSDP delivers a local session description of the given kind
	// ("offer" or "answer") to the remote peer.
	SendSDP(kind, sdp string) error

	// SendCandidate delivers a single local ICE candidate to the remote
	// peer, associated with the given media stream id. An empty candidate
	// string signals the end of local trickling.
	SendCandidate(candidate, mid string) error

	// Recv returns a channel of inbound messages from the remote peer. The
	// channel is closed when the transport is closed or the connection to
	// the peer is lost.
	Recv() <-chan Message

	// Close releases the underlying connection.
	Close() error
}

// ParseCandidateMessage converts an inbound candidate Message into an
// ice.Candidate, mirroring the JSON shape used by the WebSocket demo
// transport's wire format.
func ParseCandidateMessage(m Message) (ice.Candidate, error) {
	return ice.ParseCandidate(m.Candidate, m.Mid)
}
