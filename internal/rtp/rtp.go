package rtp

// RTP data-transfer protocol (RFC 3550 Section 5): the fixed header codec
// and the per-direction packet pumps that pair it with SRTP protection.

import (
	"io"
	"sync"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtcore/internal/packet"
)

const (
	rtpHeaderSize = 12

	// RFC 3550 defines protocol version 2.
	rtpVersion = 2
)

// rtpHeader models the fixed 12-byte header plus CSRC list. Header
// extensions are not negotiated by this engine and never set.
type rtpHeader struct {
	padding     bool
	extension   bool
	marker      bool
	payloadType byte
	sequence    uint16
	timestamp   uint32
	ssrc        uint32
	csrc        []uint32
}

// length is the offset at which the payload region begins.
func (h *rtpHeader) length() int {
	return rtpHeaderSize + 4*len(h.csrc)
}

func (h *rtpHeader) writeTo(w *packet.Writer) {
	first := byte(rtpVersion<<6) | byte(len(h.csrc))&0x0f
	if h.padding {
		first |= 1 << 5
	}
	if h.extension {
		first |= 1 << 4
	}
	second := h.payloadType & 0x7f
	if h.marker {
		second |= 1 << 7
	}

	w.WriteByte(first)
	w.WriteByte(second)
	w.WriteUint16(h.sequence)
	w.WriteUint32(h.timestamp)
	w.WriteUint32(h.ssrc)
	for _, csrc := range h.csrc {
		w.WriteUint32(csrc)
	}
}

func (h *rtpHeader) readFrom(r *packet.Reader) error {
	if err := r.CheckRemaining(rtpHeaderSize); err != nil {
		return errors.Errorf("short buffer: %v", err)
	}

	first := r.ReadByte()
	if version := first >> 6; version != rtpVersion {
		return errors.Errorf("unsupported RTP version %d", version)
	}
	h.padding = first&(1<<5) != 0
	h.extension = first&(1<<4) != 0
	csrcCount := int(first & 0x0f)

	second := r.ReadByte()
	h.marker = second&(1<<7) != 0
	h.payloadType = second & 0x7f

	h.sequence = r.ReadUint16()
	h.timestamp = r.ReadUint32()
	h.ssrc = r.ReadUint32()

	if err := r.CheckRemaining(4 * csrcCount); err != nil {
		return errors.Errorf("short buffer: %v", err)
	}
	h.csrc = nil
	for i := 0; i < csrcCount; i++ {
		h.csrc = append(h.csrc, r.ReadUint32())
	}
	return nil
}

// rtpWriter emits the packets of one outbound stream. The packet index
// (ROC ‖ SEQ) is derived from a monotone send counter on top of the
// randomized initial sequence number, so the writer needs no wrap
// detection of its own.
type rtpWriter struct {
	out  io.Writer
	ssrc uint32

	// Index of the next packet: sent + firstSequence. The low 16 bits are
	// the wire sequence number, the high bits the rollover counter.
	firstSequence uint16
	sent          uint64

	// Payload bytes sent, for sender reports.
	payloadBytes uint64

	// RTP timestamp of the most recent packet, echoed in sender reports.
	lastTimestamp uint32

	// Serialization scratch space, reused across packets.
	scratch []byte

	crypto *cryptoContext

	mu sync.Mutex
}

func newRTPWriter(out io.Writer, ssrc uint32, firstSequence uint16, crypto *cryptoContext) *rtpWriter {
	return &rtpWriter{
		out:           out,
		ssrc:          ssrc,
		firstSequence: firstSequence,
		scratch:       make([]byte, 1500),
		crypto:        crypto,
	}
}

// writePacket serializes, protects, and sends one packet. Counters advance
// only after the packet is fully built, so a serialization error does not
// burn a sequence number.
func (w *rtpWriter) writePacket(payloadType byte, marker bool, timestamp uint32, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	index := w.sent + uint64(w.firstSequence)
	hdr := rtpHeader{
		marker:      marker,
		payloadType: payloadType,
		sequence:    uint16(index),
		timestamp:   timestamp,
		ssrc:        w.ssrc,
	}

	p := packet.NewWriter(w.scratch)
	hdr.writeTo(p)
	if err := p.WriteSlice(payload); err != nil {
		return err
	}
	if w.crypto != nil {
		if err := w.crypto.encryptAndSignRTP(p, &hdr, index); err != nil {
			return err
		}
	}

	w.sent++
	w.payloadBytes += uint64(len(payload))
	w.lastTimestamp = timestamp

	_, err := w.out.Write(p.Bytes())
	return err
}

// rtpReader consumes the packets of one inbound stream, enforcing the
// SRTP receive rules: estimate the index, reject replays, authenticate,
// and only then commit ROC/sequence state.
// See https://tools.ietf.org/html/rfc3711#section-3.3
type rtpReader struct {
	ssrc uint32

	// Highest authenticated sequence number and its rollover counter.
	// started distinguishes "nothing received" from sequence zero.
	lastSequence uint16
	roc          uint32
	started      bool

	replay replayWindow

	// Packets accepted and payload bytes delivered.
	received     uint64
	payloadBytes uint64

	crypto *cryptoContext

	// Receives each authenticated packet on the dispatch goroutine. The
	// payload aliases the read buffer; copy it to keep it.
	handler func(hdr rtpHeader, payload []byte) error
}

func newRTPReader(ssrc uint32, crypto *cryptoContext) *rtpReader {
	return &rtpReader{ssrc: ssrc, crypto: crypto}
}

// index returns the highest authenticated packet index (ROC ‖ SEQ).
func (r *rtpReader) index() uint64 {
	return uint64(r.roc)<<16 | uint64(r.lastSequence)
}

// readPacket processes one serialized packet, decrypting it in place.
func (r *rtpReader) readPacket(buf []byte) error {
	var hdr rtpHeader
	if err := hdr.readFrom(packet.NewReader(buf)); err != nil {
		return err
	}

	// Guess where this sequence number falls relative to the last wrap,
	// and refuse indices the window has already seen, all before any
	// crypto work.
	var roc uint32
	if r.started {
		roc = estimateROC(r.lastSequence, r.roc, hdr.sequence)
	}
	index := uint64(roc)<<16 | uint64(hdr.sequence)
	if err := r.replay.check(index); err != nil {
		return err
	}

	payload := buf[hdr.length():]
	if r.crypto != nil {
		var err error
		if payload, err = r.crypto.verifyAndDecryptRTP(buf, &hdr, index); err != nil {
			return err
		}
	}

	// Authenticated: commit state.
	r.replay.commit(index)
	if !r.started || index > r.index() {
		r.started = true
		r.roc = roc
		r.lastSequence = hdr.sequence
	}
	r.received++
	r.payloadBytes += uint64(len(payload))

	if r.handler == nil {
		log.Warn("no handler for inbound RTP packet")
		return nil
	}
	return r.handler(hdr, payload)
}
