package rtp

// RTCP feedback messages from the RTP/AVPF profile (RFC 4585). This session
// acts on Picture Loss Indications; generic NACKs are parsed so their loss
// sets can be surfaced, but retransmission itself is out of scope.

import (
	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtcore/internal/packet"
)

// Feedback formats, carried in the header's count field.
const (
	feedbackFormatNACK = 1
	feedbackFormatPLI  = 1
)

// feedbackPacketFor maps a feedback (type, format) pair to an empty message
// of the right shape, or nil for formats this session only skips.
func feedbackPacketFor(packetType byte, format int) rtcpPacket {
	switch {
	case packetType == rtcpTransportFeedbackType && format == feedbackFormatNACK:
		return new(genericNACK)
	case packetType == rtcpPayloadSpecificFeedbackType && format == feedbackFormatPLI:
		return new(pictureLoss)
	default:
		log.Debug("skipping feedback message: type %d, format %d", packetType, format)
		return nil
	}
}

// pictureLoss asks the owner of media to produce a new decodable frame.
// See https://tools.ietf.org/html/rfc4585#section-6.3.1
type pictureLoss struct {
	sender uint32 // who is asking
	media  uint32 // whose stream needs the keyframe
}

func (p *pictureLoss) writeTo(w *packet.Writer) error {
	return marshalRTCP(w, rtcpPayloadSpecificFeedbackType, feedbackFormatPLI, func(w *packet.Writer) error {
		if err := w.CheckCapacity(8); err != nil {
			return err
		}
		w.WriteUint32(p.sender)
		w.WriteUint32(p.media)
		return nil
	})
}

func (p *pictureLoss) readFrom(r *packet.Reader, h *rtcpHeader) error {
	if h.length != 2 {
		return errors.Errorf("malformed PLI: length %d", h.length)
	}
	p.sender = r.ReadUint32()
	p.media = r.ReadUint32()
	return nil
}

// nackRange is one FCI entry: a lost packet ID plus a bitmask naming up to
// 16 further losses that follow it.
type nackRange struct {
	pid  uint16
	mask uint16
}

// genericNACK reports one or more lost RTP packets.
// See https://tools.ietf.org/html/rfc4585#section-6.2.1
type genericNACK struct {
	sender  uint32
	media   uint32
	entries []nackRange
}

func (n *genericNACK) writeTo(w *packet.Writer) error {
	return marshalRTCP(w, rtcpTransportFeedbackType, feedbackFormatNACK, func(w *packet.Writer) error {
		if err := w.CheckCapacity(8 + 4*len(n.entries)); err != nil {
			return err
		}
		w.WriteUint32(n.sender)
		w.WriteUint32(n.media)
		for _, e := range n.entries {
			w.WriteUint16(e.pid)
			w.WriteUint16(e.mask)
		}
		return nil
	})
}

func (n *genericNACK) readFrom(r *packet.Reader, h *rtcpHeader) error {
	if h.length < 3 {
		return errors.Errorf("malformed NACK: length %d", h.length)
	}
	n.sender = r.ReadUint32()
	n.media = r.ReadUint32()
	for i := 0; i < h.length-2; i++ {
		n.entries = append(n.entries, nackRange{
			pid:  r.ReadUint16(),
			mask: r.ReadUint16(),
		})
	}
	return nil
}

// lostPackets expands the FCI entries into the full set of sequence
// numbers the peer reported missing.
func (n *genericNACK) lostPackets() []uint16 {
	var lost []uint16
	for _, e := range n.entries {
		lost = append(lost, e.pid)
		for bit := uint16(0); bit < 16; bit++ {
			if e.mask&(1<<bit) != 0 {
				lost = append(lost, e.pid+1+bit)
			}
		}
	}
	return lost
}

// setLostPackets packs an ascending list of sequence numbers into FCI
// entries, opening a new entry whenever a gap outgrows the 16-bit mask.
func (n *genericNACK) setLostPackets(lost []uint16) error {
	if len(lost) == 0 {
		return errors.New("NACK needs at least one lost packet")
	}
	n.entries = n.entries[:0]
	current := nackRange{pid: lost[0]}
	for _, seq := range lost[1:] {
		offset := seq - current.pid
		if offset == 0 {
			continue
		}
		if offset > 16 {
			n.entries = append(n.entries, current)
			current = nackRange{pid: seq}
			continue
		}
		current.mask |= 1 << (offset - 1)
	}
	n.entries = append(n.entries, current)
	return nil
}
