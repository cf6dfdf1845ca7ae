package rtp

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lanikai/rtcore/internal/clock"
)

// EndpointKeys is one direction's SRTP master keying material, as exported
// from the DTLS handshake per RFC 5764 Section 4.2.
type EndpointKeys struct {
	MasterKey  []byte // 16 bytes
	MasterSalt []byte // 14 bytes
}

// NetworkMetrics is the digest of one inbound receiver-report block
// addressed to a local SSRC, as consumed by the congestion controller.
type NetworkMetrics struct {
	RTT            time.Duration
	FractionLost   uint8
	CumulativeLost int32
	HighestSeq     uint32
}

// InboundPacket is one authenticated, decrypted RTP packet, handed to the
// packet handler registered with SetPacketHandler. Payload aliases the read
// buffer and is only valid for the duration of the handler call.
type InboundPacket struct {
	SSRC        uint32
	PayloadType PayloadType
	Sequence    uint16
	Timestamp   uint32
	Marker      bool
	Payload     []byte
}

type SessionOptions struct {
	// SRTP master key material for each direction.
	ReadKeys  EndpointKeys
	WriteKeys EndpointKeys

	// CNAME carried in outgoing SDES packets. One per session.
	CNAME string

	// How often to emit a compound RTCP packet. Defaults to 500ms.
	RTCPInterval time.Duration

	// Payload types negotiated via SDP, keyed by 7-bit payload type number.
	// Inbound packets with an unlisted payload type are dropped; a packet
	// with a listed one creates the receive stream for its SSRC on first
	// arrival.
	PayloadTypes map[byte]PayloadType

	// Maximum size of outgoing packets, factoring in MTU and protocol overhead.
	MaxPacketSize int

	// Time and randomness sources.
	Clock clock.Clock
	Ids   clock.IdGen
}

const (
	defaultMaxPacketSize = 1200
	defaultRTCPInterval  = 500 * time.Millisecond
)

// A Session carries the RTP streams of one established connection. It does
// not own the socket: the owner feeds inbound datagrams via HandlePacket
// (after demultiplexing RTP/RTCP from its other traffic) and passes an
// io.Writer that delivers outbound datagrams to the remote peer.
type Session struct {
	SessionOptions

	out io.Writer

	mu   sync.Mutex
	send map[uint32]*SendStream
	recv map[uint32]*ReceiveStream

	// SSRC this session reports as in RTCP when no send stream exists yet.
	reportSSRC uint32

	rtcpOut *rtcpWriter
	rtcpIn  *rtcpReader

	// SRTP cryptographic contexts, one per direction.
	readContext  *cryptoContext
	writeContext *cryptoContext

	// Decrypted inbound RTP packets are handed to this callback on the
	// reader's goroutine.
	handler func(InboundPacket)

	// Keyframe requests derived from inbound PLI packets.
	pliHandler func(mediaSSRC uint32)

	metrics chan NetworkMetrics

	// Counters for dropped/rejected inbound packets.
	protocolErrors uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func NewSession(out io.Writer, opts SessionOptions) *Session {
	if opts.MaxPacketSize == 0 {
		opts.MaxPacketSize = defaultMaxPacketSize
	}
	if opts.RTCPInterval == 0 {
		opts.RTCPInterval = defaultRTCPInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}

	s := new(Session)
	s.SessionOptions = opts
	s.out = out
	s.send = make(map[uint32]*SendStream)
	s.recv = make(map[uint32]*ReceiveStream)
	s.metrics = make(chan NetworkMetrics, 16)
	s.stop = make(chan struct{})
	if opts.ReadKeys.MasterKey != nil {
		s.readContext = newCryptoContext(opts.ReadKeys.MasterKey, opts.ReadKeys.MasterSalt)
	}
	if opts.WriteKeys.MasterKey != nil {
		s.writeContext = newCryptoContext(opts.WriteKeys.MasterKey, opts.WriteKeys.MasterSalt)
	}
	s.reportSSRC = opts.Ids.Uint32()
	s.rtcpOut = newRTCPWriter(out, s.reportSSRC, s.writeContext)
	s.rtcpIn = newRTCPReader(s.readContext)
	s.rtcpIn.handler = s.handleRTCPPacket

	go s.rtcpLoop()
	return s
}

// Close stops the RTCP scheduler, tells the peer we're leaving, and drops
// all streams. It does not close the underlying socket, which belongs to
// the session's owner.
func (s *Session) Close() error {
	var first bool
	s.stopOnce.Do(func() {
		close(s.stop)
		first = true
	})
	if first {
		rr := &rtcpReceiverReport{receiver: s.reportSSRC}
		sdes := &rtcpSourceDescription{ssrc: s.reportSSRC, cname: s.CNAME}
		bye := &rtcpGoodbye{ssrc: s.reportSSRC, reason: "session closed"}
		if err := s.rtcpOut.writePacket(rr, sdes, bye); err != nil {
			log.Debug("goodbye failed: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.send = make(map[uint32]*SendStream)
	s.recv = make(map[uint32]*ReceiveStream)
	return nil
}

// Metrics returns the channel of receiver-report digests for streams this
// session is sending. When the consumer lags, the oldest entry is dropped.
func (s *Session) Metrics() <-chan NetworkMetrics {
	return s.metrics
}

// SetPacketHandler registers the callback that receives decrypted inbound
// RTP packets. Must be called before the first packet arrives.
func (s *Session) SetPacketHandler(h func(InboundPacket)) {
	s.handler = h
}

// SetPLIHandler registers the callback invoked when the remote peer sends a
// Picture Loss Indication for one of our outbound streams.
func (s *Session) SetPLIHandler(h func(mediaSSRC uint32)) {
	s.pliHandler = h
}

// AddSendStream registers an outbound track with a freshly generated SSRC
// and randomized initial sequence number.
func (s *Session) AddSendStream(pt PayloadType) *SendStream {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ssrc uint32
	for {
		ssrc = s.Ids.Uint32()
		if _, taken := s.send[ssrc]; !taken && ssrc != 0 {
			break
		}
	}
	stream := &SendStream{
		SSRC:        ssrc,
		PayloadType: pt,
		out:         newRTPWriter(s.out, ssrc, s.Ids.Uint16(), s.writeContext),
	}
	s.send[ssrc] = stream
	return stream
}

// RemoveSendStream drops an outbound track. Packets already handed to the
// socket are unaffected.
func (s *Session) RemoveSendStream(stream *SendStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.send, stream.SSRC)
}

// classifyDatagram tells RTCP from RTP by the packet-type byte (RTCP types
// occupy [192, 223] per RFC 5761 Section 4) and pulls out the SSRC that
// keys dispatch: the sender SSRC at offset 4 for RTCP, the stream SSRC at
// offset 8 for RTP.
func classifyDatagram(buf []byte) (isRTCP bool, ssrc uint32, err error) {
	if len(buf) >= 8 && buf[1] >= 192 && buf[1] <= 223 {
		return true, binary.BigEndian.Uint32(buf[4:8]), nil
	}
	if len(buf) >= rtpHeaderSize {
		return false, binary.BigEndian.Uint32(buf[8:12]), nil
	}
	return false, 0, fmt.Errorf("%d-byte datagram is neither RTP nor RTCP", len(buf))
}

// HandlePacket processes one inbound datagram already identified as RTP or
// RTCP by the caller's first-byte demultiplexing. The buffer is decrypted in
// place. Malformed, replayed, or unauthenticated packets are dropped here
// with a counter increment; they are never fatal to the session.
func (s *Session) HandlePacket(buf []byte) {
	rtcp, ssrc, err := classifyDatagram(buf)
	if err != nil {
		s.protocolErrors++
		log.Debug("dropping packet: %v", err)
		return
	}

	if rtcp {
		if err := s.rtcpIn.readPacket(buf); err != nil {
			s.protocolErrors++
			log.Debug("dropping RTCP packet: %v", err)
		}
		return
	}

	stream := s.receiveStreamFor(ssrc, buf)
	if stream == nil {
		s.protocolErrors++
		return
	}
	if err := stream.in.readPacket(buf); err != nil {
		s.protocolErrors++
		log.Debug("dropping RTP packet from %08x: %v", ssrc, err)
	}
}

// receiveStreamFor resolves the stream for an inbound SSRC, creating it
// lazily if the packet's payload type was negotiated.
func (s *Session) receiveStreamFor(ssrc uint32, buf []byte) *ReceiveStream {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stream, ok := s.recv[ssrc]; ok {
		return stream
	}

	pt, ok := s.PayloadTypes[buf[1]&0x7f]
	if !ok {
		log.Debug("ignoring SSRC %08x with unknown payload type %d", ssrc, buf[1]&0x7f)
		return nil
	}

	log.Info("new inbound stream: SSRC %08x, payload type %s", ssrc, pt.Name)
	stream := &ReceiveStream{
		SSRC:        ssrc,
		PayloadType: pt,
		in:          newRTPReader(ssrc, s.readContext),
	}
	stream.in.handler = func(hdr rtpHeader, payload []byte) error {
		stream.receive(hdr, s.Clock.Now())
		if s.handler != nil {
			s.handler(InboundPacket{
				SSRC:        hdr.ssrc,
				PayloadType: pt,
				Sequence:    hdr.sequence,
				Timestamp:   hdr.timestamp,
				Marker:      hdr.marker,
				Payload:     payload,
			})
		}
		return nil
	}
	s.recv[ssrc] = stream
	return stream
}

// SendPLI asks the remote peer for a new keyframe on the given inbound
// stream, via an RTCP payload-specific feedback packet (PT 206, FMT 1).
func (s *Session) SendPLI(remoteSSRC uint32) error {
	pli := &pictureLoss{
		sender: s.reportSSRC,
		media:  remoteSSRC,
	}
	return s.rtcpOut.writePacket(pli)
}

// rtcpLoop emits a compound receiver report + source description at the
// configured interval, until the session closes.
func (s *Session) rtcpLoop() {
	ticker := time.NewTicker(s.RTCPInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.sendReceiverReport(); err != nil {
				log.Debug("receiver report failed: %v", err)
			}
		}
	}
}

// sendReceiverReport builds and sends one compound RTCP packet. The first
// sub-packet is an SR when we have an active send stream (so the peer can
// compute round-trip time from LSR/DLSR), an RR otherwise; report blocks
// cover every active inbound stream, and an SDES with the session CNAME
// closes the compound.
func (s *Session) sendReceiverReport() error {
	now := s.Clock.Now()

	s.mu.Lock()
	var reports []rtcpReport
	for _, stream := range s.recv {
		reports = append(reports, stream.report(now))
	}
	var sender *SendStream
	for _, stream := range s.send {
		sender = stream
		break
	}
	s.mu.Unlock()

	var first rtcpPacket
	if sender != nil {
		first = &rtcpSenderReport{
			sender:       sender.SSRC,
			ntpTimestamp: clock.ToNTP(now),
			rtpTimestamp: sender.out.lastTimestamp,
			packetCount:  uint32(sender.PacketCount()),
			totalBytes:   uint32(sender.OctetCount()),
			reports:      reports,
		}
	} else {
		first = &rtcpReceiverReport{receiver: s.reportSSRC, reports: reports}
	}

	sdes := &rtcpSourceDescription{
		ssrc:  s.reportSSRC,
		cname: s.CNAME,
	}
	return s.rtcpOut.writePacket(first, sdes)
}

// handleRTCPPacket dispatches one parsed inbound RTCP sub-packet.
func (s *Session) handleRTCPPacket(p rtcpPacket) error {
	arrival := s.Clock.Now()
	switch pkt := p.(type) {
	case *rtcpSenderReport:
		s.mu.Lock()
		stream := s.recv[pkt.sender]
		s.mu.Unlock()
		if stream != nil {
			stream.recordSenderReport(pkt.ntpTimestamp, arrival)
		}
		s.consumeReports(pkt.reports, arrival)
	case *rtcpReceiverReport:
		s.consumeReports(pkt.reports, arrival)
	case *pictureLoss:
		s.mu.Lock()
		_, ours := s.send[pkt.media]
		s.mu.Unlock()
		if ours && s.pliHandler != nil {
			s.pliHandler(pkt.media)
		}
	}
	return nil
}

// consumeReports turns report blocks addressed to local send streams into
// NetworkMetrics for the congestion controller. Round-trip time follows
// RFC 3550 Section 6.4.1: now minus LSR minus DLSR, in 1/65536s units.
func (s *Session) consumeReports(reports []rtcpReport, arrival time.Time) {
	for _, r := range reports {
		s.mu.Lock()
		_, ours := s.send[r.Source]
		s.mu.Unlock()
		if !ours {
			continue
		}

		var rtt time.Duration
		if r.LastSenderReportTimestamp != 0 {
			now := clock.MiddleNTP(clock.ToNTP(arrival))
			delta := now - r.LastSenderReportTimestamp - r.LastSenderReportDelay
			// Clock skew can wrap the subtraction; treat that as unknown.
			if delta < 1<<31 {
				rtt = time.Duration(delta) * time.Second / 65536
			}
		}

		m := NetworkMetrics{
			RTT:            rtt,
			FractionLost:   r.FractionLost,
			CumulativeLost: int32(r.TotalLost),
			HighestSeq:     r.LastReceived,
		}

		// Drop the oldest entry rather than ever blocking the reader.
		for {
			select {
			case s.metrics <- m:
			default:
				select {
				case <-s.metrics:
				default:
				}
				continue
			}
			break
		}
	}
}
