package rtcore

import (
	"net"

	"github.com/pkg/errors"
)

// Connection errors are classified so callers can distinguish "this offer
// can never work" (negotiation) from "the network let us down" (ICE, socket)
// without string matching. Wrap with pkg/errors to keep the cause for logs.
var (
	// ErrMediaSpec means no codec acceptable to both sides was found.
	ErrMediaSpec = errors.New("no compatible media codec")

	// ErrNegotiation covers malformed or unsatisfiable offers/answers,
	// including a missing DTLS fingerprint.
	ErrNegotiation = errors.New("negotiation failed")

	// ErrSdp is an SDP parse failure.
	ErrSdp = errors.New("invalid SDP")

	// ErrIceAgent means no candidate pair succeeded within the timeout.
	ErrIceAgent = errors.New("ICE failed")

	// ErrHandshakeTimeout means the application-level SYN handshake did not
	// complete in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrClosed is returned from operations on a session that has already
	// transitioned to Closed.
	ErrClosed = errors.New("session closed")
)

// isTransient reports whether a socket error may be retried: timeouts from
// read deadlines and interrupted calls resume the loop, anything else kills
// the owning worker.
func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
