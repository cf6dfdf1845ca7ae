package rtp

import (
	"bytes"

	"github.com/lanikai/rtcore/internal/packet"
)

// RTP packetization of H.264 video streams, non-interleaved mode.
// See [RFC 6184](https://tools.ietf.org/html/rfc6184).

const (
	// NAL unit types. See https://tools.ietf.org/html/rfc6184#section-5.2
	naluTypeSEI    = 6
	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeSTAP_A = 24
	naluTypeSTAP_B = 25
	naluTypeMTAP16 = 26
	naluTypeMTAP24 = 27
	naluTypeFU_A   = 28
	naluTypeFU_B   = 29

	// Bytes of RTP framing assumed when computing the payload budget from
	// the MTU: the fixed 12-byte header, no CSRCs, no extension.
	defaultRTPOverhead = 12
)

// A Packetizer turns one Annex-B access unit into the RTP payload chunks for
// a single frame. All chunks share the frame's timestamp; the caller maps
// chunk order onto consecutive sequence numbers.
type Packetizer struct {
	mtu      int
	overhead int
}

func NewPacketizer(mtu int) *Packetizer {
	return &Packetizer{mtu: mtu, overhead: defaultRTPOverhead}
}

// maxPayload is the RTP payload budget per packet.
func (p *Packetizer) maxPayload() int {
	return p.mtu - p.overhead
}

// Packetize splits an Annex-B access unit into chunks. Leading SEI/SPS/PPS
// NAL units are merged into a single STAP-A aggregate; every other NALU is
// sent verbatim when it fits, or as a train of FU-A fragments when it does
// not. The marker is set on the last chunk only. NALUs too large to
// fragment within the budget are dropped.
func (p *Packetizer) Packetize(accessUnit []byte) []Chunk {
	var chunks []Chunk
	var stap []byte

	flushSTAP := func() {
		if len(stap) > 0 {
			chunks = append(chunks, Chunk{Bytes: stap})
			stap = nil
		}
	}

	for _, nalu := range SplitNALUs(accessUnit) {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1f {
		case naluTypeSEI, naluTypeSPS, naluTypePPS:
			// Aggregate parameter sets, but never beyond the packet budget.
			if len(stap)+2+len(nalu) > p.maxPayload() {
				flushSTAP()
			}
			if 1+2+len(nalu) > p.maxPayload() {
				// Too big to aggregate even alone; send it like any other
				// NALU instead.
				if len(nalu) <= p.maxPayload() {
					chunks = append(chunks, Chunk{Bytes: nalu})
				} else {
					chunks = append(chunks, p.fragment(nalu)...)
				}
				continue
			}
			stap = appendSTAP(stap, nalu)
		default:
			flushSTAP()
			if len(nalu) <= p.maxPayload() {
				chunks = append(chunks, Chunk{Bytes: nalu})
			} else {
				chunks = append(chunks, p.fragment(nalu)...)
			}
		}
	}
	flushSTAP()

	if n := len(chunks); n > 0 {
		chunks[n-1].Marker = true
	}
	return chunks
}

// fragment splits an oversized NALU into FU-A packets.
// See https://tools.ietf.org/html/rfc6184#section-5.8
func (p *Packetizer) fragment(nalu []byte) []Chunk {
	budget := p.maxPayload() - 2
	if budget <= 0 {
		log.Warn("dropping %d-byte NALU: no room for FU-A fragments", len(nalu))
		return nil
	}

	indicator := nalu[0]&0xe0 | naluTypeFU_A
	naluType := nalu[0] & 0x1f

	var chunks []Chunk
	start := byte(0x80)
	for i := 1; i < len(nalu); i += budget {
		end := byte(0)
		tail := i + budget
		if tail >= len(nalu) {
			tail = len(nalu)
			end = 0x40
		}

		frag := make([]byte, 0, 2+tail-i)
		frag = append(frag, indicator, start|end|naluType)
		frag = append(frag, nalu[i:tail]...)
		chunks = append(chunks, Chunk{Bytes: frag})

		start = 0
	}
	return chunks
}

// SplitNALUs separates an Annex-B byte stream into NAL units, discarding the
// start codes. Both 3- and 4-byte start codes are recognized; when a 3-byte
// code is preceded by a zero, the zero belongs to the start code.
func SplitNALUs(annexb []byte) [][]byte {
	var nalus [][]byte
	naluStart := -1
	i := 0
	for i+2 < len(annexb) {
		if annexb[i] == 0 && annexb[i+1] == 0 && annexb[i+2] == 1 {
			end := i
			if end > 0 && annexb[end-1] == 0 {
				end--
			}
			if naluStart >= 0 && end > naluStart {
				nalus = append(nalus, annexb[naluStart:end])
			}
			i += 3
			naluStart = i
			continue
		}
		i++
	}
	if naluStart >= 0 && naluStart < len(annexb) {
		nalus = append(nalus, annexb[naluStart:])
	}
	return nalus
}

// A Depacketizer reassembles inbound RTP payload chunks into Annex-B access
// units. Pushes must follow arrival order; the machine tolerates loss by
// marking the in-progress frame corrupted and draining until the marker, so
// it stays synchronized with frame boundaries.
type Depacketizer struct {
	active      bool
	timestamp   uint32
	expectedSeq uint16
	corrupted   bool

	// NAL units collected for the current frame.
	nalus [][]byte

	// In-progress FU-A reassembly: reconstructed NALU bytes, starting with
	// the header rebuilt from the FU indicator and FU header.
	fu []byte
}

// Push feeds one RTP payload into the machine. When the chunk carries the
// frame's marker and the frame assembled cleanly, the completed access unit
// is returned as Annex-B bytes with 4-byte start codes.
func (d *Depacketizer) Push(seq uint16, timestamp uint32, marker bool, payload []byte) ([]byte, bool) {
	if d.active && timestamp != d.timestamp {
		// A new frame began while the previous one was still partial.
		d.resetFrame()
		d.corrupted = true
	}
	if !d.active {
		d.active = true
		d.timestamp = timestamp
		d.expectedSeq = seq
	}
	if seq != d.expectedSeq {
		d.corrupted = true
	}
	d.expectedSeq = seq + 1

	d.consume(payload)

	if !marker {
		return nil, false
	}

	frame, ok := d.finish()
	d.resetFrame()
	d.corrupted = false
	return frame, ok
}

func (d *Depacketizer) consume(payload []byte) {
	if len(payload) == 0 {
		d.corrupted = true
		return
	}

	switch naluType := payload[0] & 0x1f; naluType {
	case naluTypeSTAP_A:
		// Unpack the aggregate into its NAL units.
		nalus, err := splitSTAP(payload)
		if err != nil {
			d.corrupted = true
			return
		}
		for _, nalu := range nalus {
			d.collect(nalu)
		}
	case naluTypeSTAP_B, naluTypeMTAP16, naluTypeMTAP24, naluTypeFU_B:
		d.corrupted = true
	case naluTypeFU_A:
		d.consumeFragment(payload)
	default:
		if d.fu != nil {
			// A single NALU interrupted an unfinished FU-A train.
			d.fu = nil
			d.corrupted = true
		}
		d.collect(payload)
	}
}

// consumeFragment handles one FU-A packet.
// See https://tools.ietf.org/html/rfc6184#section-5.8
func (d *Depacketizer) consumeFragment(payload []byte) {
	if len(payload) < 2 {
		d.corrupted = true
		return
	}
	indicator, header := payload[0], payload[1]
	start := header&0x80 != 0
	end := header&0x40 != 0

	if start {
		// Rebuild the original NALU header from F|NRI and the type.
		d.fu = []byte{indicator&0xe0 | header&0x1f}
	} else if d.fu == nil {
		// Middle or end fragment with no start seen.
		d.corrupted = true
		return
	}
	d.fu = append(d.fu, payload[2:]...)

	if end {
		d.collect(d.fu)
		d.fu = nil
	}
}

// collect appends a complete NALU to the frame, eliding a NALU identical to
// the one collected immediately before it.
func (d *Depacketizer) collect(nalu []byte) {
	if n := len(d.nalus); n > 0 && bytes.Equal(d.nalus[n-1], nalu) {
		return
	}
	d.nalus = append(d.nalus, append([]byte(nil), nalu...))
}

// finish emits the completed frame, if it assembled cleanly.
func (d *Depacketizer) finish() ([]byte, bool) {
	if d.corrupted || len(d.nalus) == 0 {
		return nil, false
	}
	size := 0
	for _, nalu := range d.nalus {
		size += 4 + len(nalu)
	}
	frame := make([]byte, 0, size)
	for _, nalu := range d.nalus {
		frame = append(frame, 0, 0, 0, 1)
		frame = append(frame, nalu...)
	}
	return frame, true
}

func (d *Depacketizer) resetFrame() {
	d.active = false
	d.nalus = nil
	d.fu = nil
}

// See https://tools.ietf.org/html/rfc6184#section-5.7.1
func appendSTAP(stap, nalu []byte) []byte {
	if len(stap) == 0 {
		// Initialize NALU of type STAP-A, with F and NRI set to 0.
		stap = append(stap, naluTypeSTAP_A)
	}

	n := len(nalu)
	stap = append(stap, byte(n>>8), byte(n))
	stap = append(stap, nalu...)

	// STAP-A forbidden bit is bitwise-OR of all forbidden bits.
	stap[0] |= nalu[0] & 0x80

	// STAP-A NRI value is maximum of all NRI values.
	nri := nalu[0] & 0x60
	stapNRI := stap[0] & 0x60
	if nri > stapNRI {
		stap[0] = (stap[0] &^ 0x60) | nri
	}

	return stap
}

// Split a STAP-A packet into individual NAL units.
func splitSTAP(buf []byte) ([][]byte, error) {
	var nalus [][]byte
	p := packet.NewReader(buf)
	p.Skip(1)
	for p.Remaining() > 0 {
		if err := p.CheckRemaining(2); err != nil {
			return nil, err
		}
		n := p.ReadUint16()
		if err := p.CheckRemaining(int(n)); err != nil {
			return nil, err
		}
		nalus = append(nalus, p.ReadSlice(int(n)))
	}
	return nalus, nil
}
