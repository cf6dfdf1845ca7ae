package rtp

import (
	"time"

	"github.com/lanikai/rtcore/internal/clock"
)

// Payload type description, as provided via SDP.
type PayloadType struct {
	// Payload type number (<= 127) assigned by the SDP `rtpmap` attribute.
	Number uint8

	// Encoding name, from the SDP `rtpmap` attribute (e.g. "H264").
	Name string

	// Clock rate in Hz, from the SDP `rtpmap` attribute (e.g. 90000).
	ClockRate int

	// Codec-specific format parameters, from the SDP `fmtp` attribute.
	Format string

	// Supported feedback RTCP options, from the SDP `rtcp-fb` attributes.
	FeedbackOptions []string
}

// A Chunk is one RTP payload belonging to a media frame: a single NALU, an
// FU-A fragment, a STAP-A aggregate, or an audio frame. Marker must be true
// only on the last chunk of a frame.
type Chunk struct {
	Bytes  []byte
	Marker bool
}

// SendStream is the outgoing half of an RTP stream: one local SSRC, with
// sequence number generation and the packet/octet counters needed for
// sender reports.
type SendStream struct {
	// SSRC identifying this stream to the remote peer.
	SSRC uint32

	// Negotiated payload type for this stream.
	PayloadType PayloadType

	out *rtpWriter
}

// WriteFrame sends the chunks of one media frame as consecutive RTP packets,
// all sharing the given RTP timestamp. Chunks are written in order; the
// caller must set Marker on the final chunk only.
func (s *SendStream) WriteFrame(chunks []Chunk, timestamp uint32) error {
	for i := range chunks {
		err := s.out.writePacket(s.PayloadType.Number, chunks[i].Marker, timestamp, chunks[i].Bytes)
		if err != nil {
			return err
		}
	}
	return nil
}

// PacketCount returns the number of RTP packets sent on this stream.
func (s *SendStream) PacketCount() uint64 { return s.out.sent }

// OctetCount returns the number of payload bytes sent on this stream.
func (s *SendStream) OctetCount() uint64 { return s.out.payloadBytes }

// ReceiveStream is the incoming half of an RTP stream: one remote SSRC, with
// the sequence/jitter/loss bookkeeping needed for receiver reports.
// See https://tools.ietf.org/html/rfc3550#appendix-A.1
type ReceiveStream struct {
	// SSRC the remote peer uses for this stream.
	SSRC uint32

	// Payload type this stream was admitted under.
	PayloadType PayloadType

	in *rtpReader

	// First extended sequence number received.
	baseIndex uint64

	// Total packets received.
	received uint64

	// Snapshots taken at the last receiver report, for fraction-lost.
	expectedPrior uint64
	receivedPrior uint64

	// Interarrival jitter estimate, in timestamp units, per RFC 3550 A.8.
	jitter uint32

	// RTP-units transit time of the previous packet, for the jitter update.
	lastTransit int64

	// Middle 32 bits of the NTP timestamp from the most recent sender
	// report, and the local time it arrived, for LSR/DLSR.
	lastSR        uint32
	lastSRArrival time.Time
}

// receive folds one authenticated RTP packet into the stream's statistics.
func (s *ReceiveStream) receive(hdr rtpHeader, arrival time.Time) {
	s.received++
	if s.received == 1 {
		s.baseIndex = s.in.index()
	}
	s.updateJitter(hdr.timestamp, arrival)
}

// updateJitter applies the RFC 3550 A.8 estimator: transit time is arrival
// minus the packet's RTP timestamp, both in RTP clock units; the smoothed
// estimate moves 1/16 of the way toward each new difference.
func (s *ReceiveStream) updateJitter(timestamp uint32, arrival time.Time) {
	rate := s.PayloadType.ClockRate
	if rate == 0 {
		rate = 90000
	}
	arrivalRTP := arrival.UnixNano() / (int64(time.Second) / int64(rate))
	transit := arrivalRTP - int64(timestamp)
	if s.lastTransit != 0 {
		d := transit - s.lastTransit
		if d < 0 {
			d = -d
		}
		// J += (|D| - J) / 16, saturating at the field bounds.
		j := int64(s.jitter)
		j += (d - j) / 16
		if j < 0 {
			j = 0
		}
		if j > int64(^uint32(0)) {
			j = int64(^uint32(0))
		}
		s.jitter = uint32(j)
	}
	s.lastTransit = transit
}

// extendedHighest returns the extended highest sequence number received,
// i.e. the low 32 bits of the stream's packet index.
func (s *ReceiveStream) extendedHighest() uint32 {
	return uint32(s.in.index())
}

// report builds the RR report block for this stream and advances the
// per-interval snapshots.
// See https://tools.ietf.org/html/rfc3550#section-6.4.1
func (s *ReceiveStream) report(now time.Time) rtcpReport {
	expected := s.in.index() - s.baseIndex + 1
	lost := int64(expected) - int64(s.received)

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	var fraction byte
	if lostInterval := int64(expectedInterval) - int64(receivedInterval); expectedInterval > 0 && lostInterval > 0 {
		fraction = byte((lostInterval << 8) / int64(expectedInterval))
	}

	// Clamp cumulative lost to the signed 24-bit field.
	if lost > 0x7fffff {
		lost = 0x7fffff
	} else if lost < -0x800000 {
		lost = -0x800000
	}

	var lsr, dlsr uint32
	if !s.lastSRArrival.IsZero() {
		lsr = s.lastSR
		dlsr = uint32(now.Sub(s.lastSRArrival) * 65536 / time.Second)
	}

	return rtcpReport{
		Source:                    s.SSRC,
		FractionLost:              fraction,
		TotalLost:                 int(lost),
		LastReceived:              s.extendedHighest(),
		Jitter:                    s.jitter,
		LastSenderReportTimestamp: lsr,
		LastSenderReportDelay:     dlsr,
	}
}

// recordSenderReport captures the LSR reference point from an inbound SR.
func (s *ReceiveStream) recordSenderReport(ntpTimestamp uint64, arrival time.Time) {
	s.lastSR = clock.MiddleNTP(ntpTimestamp)
	s.lastSRArrival = arrival
}
