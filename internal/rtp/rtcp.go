package rtp

// RTP Control Protocol (RFC 3550 Section 6): sender/receiver reports,
// source descriptions, and goodbyes, plus the writer/reader that frame them
// into SRTCP-protected compounds.

import (
	"io"
	"sync"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtcore/internal/packet"
)

// Packet types from RFC 3550 Section 12.1 and RFC 4585 Section 6.1.
const (
	rtcpSenderReportType      = 200
	rtcpReceiverReportType    = 201
	rtcpSourceDescriptionType = 202
	rtcpGoodbyeType           = 203
	rtcpAppType               = 204

	rtcpTransportFeedbackType       = 205
	rtcpPayloadSpecificFeedbackType = 206
)

const (
	rtcpHeaderSize = 4
	rtcpReportSize = 24

	sdesEndItem   = 0
	sdesCNAMEItem = 1
)

// rtcpHeader is the 4-byte prefix every sub-packet shares. count carries
// the report-block count for SR/RR, the item count for SDES/BYE, and the
// feedback format for RFC 4585 types. length is in 32-bit words minus one.
type rtcpHeader struct {
	padding    bool
	count      int
	packetType byte
	length     int
}

func (h *rtcpHeader) readFrom(r *packet.Reader) error {
	first := r.ReadByte()
	if version := first >> 6; version != rtpVersion {
		return errors.Errorf("unsupported RTCP version %d", version)
	}
	h.padding = first&(1<<5) != 0
	h.count = int(first & 0x1f)
	h.packetType = r.ReadByte()
	h.length = int(r.ReadUint16())
	return nil
}

// marshalRTCP frames one sub-packet: it writes the header with a
// placeholder length, runs body to serialize the rest, pads to a 32-bit
// boundary, and patches the real length back in.
func marshalRTCP(w *packet.Writer, packetType byte, count int, body func(*packet.Writer) error) error {
	start := w.Length()
	if err := w.CheckCapacity(rtcpHeaderSize); err != nil {
		return errors.Errorf("no room for RTCP header: %v", err)
	}
	w.WriteByte(rtpVersion<<6 | byte(count&0x1f))
	w.WriteByte(packetType)
	w.WriteUint16(0) // patched below

	if err := body(w); err != nil {
		return err
	}
	w.Align(4)
	w.PatchUint16(start+2, uint16((w.Length()-start)/4-1))
	return nil
}

// rtcpPacket is one sub-packet of a compound.
type rtcpPacket interface {
	writeTo(w *packet.Writer) error
	readFrom(r *packet.Reader, h *rtcpHeader) error
}

// rtcpReport is the per-source report block shared by SR and RR.
// See https://tools.ietf.org/html/rfc3550#section-6.4.1
type rtcpReport struct {
	// The source this block describes.
	Source uint32

	// Packets lost since the previous report, as the raw 8-bit fixed-point
	// value (numerator of n/256).
	FractionLost byte

	// Cumulative packets lost for the whole session (signed 24-bit).
	TotalLost int

	// Extended highest sequence number received.
	LastReceived uint32

	// Interarrival jitter in timestamp units.
	Jitter uint32

	// Middle 32 bits of the last SR's NTP timestamp, and the delay since
	// it arrived in 1/65536s units.
	LastSenderReportTimestamp uint32
	LastSenderReportDelay     uint32
}

func (b rtcpReport) writeTo(w *packet.Writer) {
	w.WriteUint32(b.Source)
	w.WriteByte(b.FractionLost)
	w.WriteUint24(uint32(b.TotalLost) & 0xffffff)
	w.WriteUint32(b.LastReceived)
	w.WriteUint32(b.Jitter)
	w.WriteUint32(b.LastSenderReportTimestamp)
	w.WriteUint32(b.LastSenderReportDelay)
}

func (b *rtcpReport) readFrom(r *packet.Reader) {
	b.Source = r.ReadUint32()
	b.FractionLost = r.ReadByte()
	lost := r.ReadUint24()
	if lost&0x800000 != 0 { // sign-extend the 24-bit field
		lost |= 0xff000000
	}
	b.TotalLost = int(int32(lost))
	b.LastReceived = r.ReadUint32()
	b.Jitter = r.ReadUint32()
	b.LastSenderReportTimestamp = r.ReadUint32()
	b.LastSenderReportDelay = r.ReadUint32()
}

// rtcpSenderReport (SR) carries the sender's clock sample and traffic
// counters, plus report blocks for streams it receives.
type rtcpSenderReport struct {
	sender       uint32
	ntpTimestamp uint64
	rtpTimestamp uint32
	packetCount  uint32
	totalBytes   uint32
	reports      []rtcpReport
}

func (p *rtcpSenderReport) writeTo(w *packet.Writer) error {
	return marshalRTCP(w, rtcpSenderReportType, len(p.reports), func(w *packet.Writer) error {
		if err := w.CheckCapacity(24 + len(p.reports)*rtcpReportSize); err != nil {
			return err
		}
		w.WriteUint32(p.sender)
		w.WriteUint64(p.ntpTimestamp)
		w.WriteUint32(p.rtpTimestamp)
		w.WriteUint32(p.packetCount)
		w.WriteUint32(p.totalBytes)
		for _, b := range p.reports {
			b.writeTo(w)
		}
		return nil
	})
}

func (p *rtcpSenderReport) readFrom(r *packet.Reader, h *rtcpHeader) error {
	if 4*h.length != 24+h.count*rtcpReportSize {
		return errors.Errorf("inconsistent SR: length %d with %d blocks", h.length, h.count)
	}
	p.sender = r.ReadUint32()
	p.ntpTimestamp = r.ReadUint64()
	p.rtpTimestamp = r.ReadUint32()
	p.packetCount = r.ReadUint32()
	p.totalBytes = r.ReadUint32()
	for i := 0; i < h.count; i++ {
		var b rtcpReport
		b.readFrom(r)
		p.reports = append(p.reports, b)
	}
	return nil
}

// rtcpReceiverReport (RR) carries report blocks only.
type rtcpReceiverReport struct {
	receiver uint32
	reports  []rtcpReport
}

func (p *rtcpReceiverReport) writeTo(w *packet.Writer) error {
	return marshalRTCP(w, rtcpReceiverReportType, len(p.reports), func(w *packet.Writer) error {
		if err := w.CheckCapacity(4 + len(p.reports)*rtcpReportSize); err != nil {
			return err
		}
		w.WriteUint32(p.receiver)
		for _, b := range p.reports {
			b.writeTo(w)
		}
		return nil
	})
}

func (p *rtcpReceiverReport) readFrom(r *packet.Reader, h *rtcpHeader) error {
	if 4*h.length != 4+h.count*rtcpReportSize {
		return errors.Errorf("inconsistent RR: length %d with %d blocks", h.length, h.count)
	}
	p.receiver = r.ReadUint32()
	for i := 0; i < h.count; i++ {
		var b rtcpReport
		b.readFrom(r)
		p.reports = append(p.reports, b)
	}
	return nil
}

// rtcpSourceDescription (SDES) carries one chunk with a CNAME item, the
// only item this session emits or understands.
// See https://tools.ietf.org/html/rfc3550#section-6.5
type rtcpSourceDescription struct {
	ssrc  uint32
	cname string
}

func (p *rtcpSourceDescription) writeTo(w *packet.Writer) error {
	return marshalRTCP(w, rtcpSourceDescriptionType, 1, func(w *packet.Writer) error {
		if err := w.CheckCapacity(4 + 2 + len(p.cname) + 1); err != nil {
			return err
		}
		w.WriteUint32(p.ssrc)
		w.WriteByte(sdesCNAMEItem)
		w.WriteByte(byte(len(p.cname)))
		w.WriteString(p.cname)
		w.WriteByte(sdesEndItem)
		return nil
	})
}

func (p *rtcpSourceDescription) readFrom(r *packet.Reader, h *rtcpHeader) error {
	if h.count != 1 || h.length < 1 {
		return errors.Errorf("unsupported SDES layout: %d chunks", h.count)
	}
	p.ssrc = r.ReadUint32()
	for r.Remaining() > 0 {
		item := r.ReadByte()
		if item == sdesEndItem {
			r.Align(4)
			return nil
		}
		size := int(r.ReadByte())
		if err := r.CheckRemaining(size); err != nil {
			return err
		}
		text := r.ReadString(size)
		if item == sdesCNAMEItem {
			p.cname = text
		}
	}
	return nil
}

// rtcpGoodbye (BYE) announces that a source is leaving the session.
type rtcpGoodbye struct {
	ssrc   uint32
	reason string
}

func (p *rtcpGoodbye) writeTo(w *packet.Writer) error {
	return marshalRTCP(w, rtcpGoodbyeType, 1, func(w *packet.Writer) error {
		if err := w.CheckCapacity(4 + 1 + len(p.reason)); err != nil {
			return err
		}
		w.WriteUint32(p.ssrc)
		if p.reason != "" {
			w.WriteByte(byte(len(p.reason)))
			w.WriteString(p.reason)
		}
		return nil
	})
}

func (p *rtcpGoodbye) readFrom(r *packet.Reader, h *rtcpHeader) error {
	if err := r.CheckRemaining(4); err != nil {
		return err
	}
	p.ssrc = r.ReadUint32()
	if rest := 4*h.length - 4; rest > 0 {
		r.Skip(rest)
	}
	return nil
}

// rtcpWriter serializes compounds, protects them, and counts the SRTCP
// index.
type rtcpWriter struct {
	out    io.Writer
	ssrc   uint32
	crypto *cryptoContext

	// SRTCP index, incremented per protected compound.
	sent uint64

	buf []byte

	sync.Mutex
}

func newRTCPWriter(out io.Writer, ssrc uint32, crypto *cryptoContext) *rtcpWriter {
	return &rtcpWriter{
		out:    out,
		ssrc:   ssrc,
		crypto: crypto,
		buf:    make([]byte, 1500),
	}
}

// writePacket serializes the given sub-packets as one compound datagram,
// protects it, and sends it.
func (w *rtcpWriter) writePacket(packets ...rtcpPacket) error {
	if len(packets) == 0 {
		return nil
	}

	w.Lock()
	defer w.Unlock()

	p := packet.NewWriter(w.buf)
	for _, sub := range packets {
		if err := sub.writeTo(p); err != nil {
			return err
		}
	}

	if w.crypto != nil {
		if err := w.crypto.encryptAndSignRTCP(p, w.sent); err != nil {
			return err
		}
	}

	if _, err := w.out.Write(p.Bytes()); err != nil {
		return err
	}
	w.sent++
	return nil
}

// rtcpReader unprotects inbound compounds and walks their sub-packets.
type rtcpReader struct {
	crypto *cryptoContext

	// Highest SRTCP index seen.
	lastIndex uint64

	// Parsed sub-packets are handed to this callback in compound order.
	handler func(p rtcpPacket) error
}

func newRTCPReader(crypto *cryptoContext) *rtcpReader {
	return &rtcpReader{crypto: crypto}
}

// packetForType returns an empty packet of the right concrete type, or nil
// for types this session only skips.
func packetForType(h *rtcpHeader) rtcpPacket {
	switch h.packetType {
	case rtcpSenderReportType:
		return new(rtcpSenderReport)
	case rtcpReceiverReportType:
		return new(rtcpReceiverReport)
	case rtcpSourceDescriptionType:
		return new(rtcpSourceDescription)
	case rtcpGoodbyeType:
		return new(rtcpGoodbye)
	case rtcpTransportFeedbackType, rtcpPayloadSpecificFeedbackType:
		return feedbackPacketFor(h.packetType, h.count)
	default:
		return nil
	}
}

// readPacket unprotects one SRTCP datagram and dispatches each sub-packet.
// Unknown sub-packet types are skipped by their declared length.
func (r *rtcpReader) readPacket(buf []byte) error {
	if r.crypto != nil {
		var index uint64
		var err error
		if buf, index, err = r.crypto.verifyAndDecryptRTCP(buf); err != nil {
			return err
		}
		if index > r.lastIndex {
			r.lastIndex = index
		}
	}

	pr := packet.NewReader(buf)
	for pr.Remaining() >= rtcpHeaderSize {
		var h rtcpHeader
		if err := h.readFrom(pr); err != nil {
			return err
		}
		if err := pr.CheckRemaining(4 * h.length); err != nil {
			return errors.Errorf("truncated RTCP sub-packet: %v", err)
		}

		sub := packetForType(&h)
		if sub == nil {
			log.Debug("skipping RTCP packet type %d", h.packetType)
			pr.Skip(4 * h.length)
			continue
		}

		before := pr.Remaining()
		if err := sub.readFrom(pr, &h); err != nil {
			return err
		}
		// Stay aligned to the declared length even when the sub-packet's
		// parser stopped early (e.g. an SDES END item before the padding).
		if consumed := before - pr.Remaining(); consumed < 4*h.length {
			pr.Skip(4*h.length - consumed)
		}

		if r.handler != nil {
			if err := r.handler(sub); err != nil {
				return err
			}
		}
	}
	return nil
}
