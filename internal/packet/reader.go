// Package packet implements the bounds-checked, network-byte-order readers
// and writers shared by the STUN, RTP, and RTCP wire codecs. Every multi-byte
// field on those wires is big-endian, and RTCP additionally pads items to
// 32-bit boundaries, so both sides of the codec live here.
package packet

import "fmt"

// Reader consumes a received datagram front to back. Sizing is the caller's
// responsibility: call CheckRemaining before a group of fixed-width reads,
// the same way the wire formats declare their lengths up front.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// readUint pulls an n-byte big-endian unsigned integer.
func (r *Reader) readUint(n int) uint64 {
	var v uint64
	for _, b := range r.data[r.pos : r.pos+n] {
		v = v<<8 | uint64(b)
	}
	r.pos += n
	return v
}

func (r *Reader) ReadByte() byte {
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *Reader) ReadUint16() uint16 { return uint16(r.readUint(2)) }

func (r *Reader) ReadUint24() uint32 { return uint32(r.readUint(3)) }

func (r *Reader) ReadUint32() uint32 { return uint32(r.readUint(4)) }

func (r *Reader) ReadUint64() uint64 { return r.readUint(8) }

// ReadSlice returns the next n bytes without copying; the slice aliases the
// datagram buffer.
func (r *Reader) ReadSlice(n int) []byte {
	s := r.data[r.pos : r.pos+n]
	r.pos += n
	return s
}

func (r *Reader) ReadString(n int) string {
	return string(r.ReadSlice(n))
}

// Skip discards the next n bytes.
func (r *Reader) Skip(n int) {
	r.pos += n
}

// Align discards padding up to the next multiple of width from the start of
// the datagram, as RTCP items require.
func (r *Reader) Align(width int) {
	if over := r.pos % width; over != 0 {
		r.pos += width - over
	}
}

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// CheckRemaining fails when fewer than needed bytes are left to read.
func (r *Reader) CheckRemaining(needed int) error {
	if left := r.Remaining(); left < needed {
		return fmt.Errorf("%d bytes remaining, %d needed", left, needed)
	}
	return nil
}
