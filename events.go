package rtcore

import (
	"fmt"
	"time"
)

// EngineEvent is the control-plane surface a session exposes to its owner:
// connection lifecycle transitions and the network telemetry that doesn't
// belong on the media data plane. Events are delivered over a bounded
// channel; the data plane never blocks on a slow consumer.
type EngineEvent interface {
	event()
}

// StatusEvent is a human-readable progress note (gathering, nominated pair,
// handshake phase), for surfacing in a UI or log.
type StatusEvent struct {
	Message string
}

// NominatedEvent reports the 5-tuple ICE selected.
type NominatedEvent struct {
	LocalAddr  string
	RemoteAddr string
}

// EstablishedEvent fires once the application handshake completes and media
// may flow.
type EstablishedEvent struct {
	PeerToken uint64
}

// ClosingEvent fires when a graceful close begins, on either end.
type ClosingEvent struct {
	// Initiated is true if the local side requested the close.
	Initiated bool
}

// ClosedEvent is the terminal event; no further events follow it.
type ClosedEvent struct {
	// Err is non-nil when the session ended abnormally (handshake timeout,
	// dead socket), nil after a graceful close.
	Err error
}

// MetricsEvent relays a receiver-report digest for one outbound stream.
type MetricsEvent struct {
	RTT            time.Duration
	FractionLost   uint8
	CumulativeLost int32
	HighestSeq     uint32
}

// BitrateEvent reports a congestion-controller decision, emitted once the
// update has been handed to the media agent's command queue; the encoder
// picks it up from there asynchronously.
type BitrateEvent struct {
	BitsPerSecond uint32
}

func (StatusEvent) event()      {}
func (NominatedEvent) event()   {}
func (EstablishedEvent) event() {}
func (ClosingEvent) event()     {}
func (ClosedEvent) event()      {}
func (MetricsEvent) event()     {}
func (BitrateEvent) event()     {}

func (e StatusEvent) String() string { return e.Message }
func (e NominatedEvent) String() string {
	return fmt.Sprintf("nominated %s -> %s", e.LocalAddr, e.RemoteAddr)
}
