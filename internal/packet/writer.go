package packet

import "fmt"

// Writer fills a fixed-size buffer front to back. It never grows the
// buffer: a datagram that doesn't fit is a caller bug surfaced through
// CheckCapacity or WriteSlice, not a reallocation.
type Writer struct {
	data []byte
	pos  int
}

func NewWriter(buffer []byte) *Writer {
	return &Writer{data: buffer}
}

func NewWriterSize(n int) *Writer {
	return &Writer{data: make([]byte, n)}
}

// putUint appends an n-byte big-endian unsigned integer.
func (w *Writer) putUint(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.data[w.pos] = byte(v >> (8 * i))
		w.pos++
	}
}

func (w *Writer) WriteByte(v byte) {
	w.data[w.pos] = v
	w.pos++
}

func (w *Writer) WriteUint16(v uint16) { w.putUint(uint64(v), 2) }

func (w *Writer) WriteUint24(v uint32) { w.putUint(uint64(v), 3) }

func (w *Writer) WriteUint32(v uint32) { w.putUint(uint64(v), 4) }

func (w *Writer) WriteUint64(v uint64) { w.putUint(v, 8) }

func (w *Writer) WriteSlice(p []byte) error {
	if err := w.CheckCapacity(len(p)); err != nil {
		return err
	}
	w.pos += copy(w.data[w.pos:], p)
	return nil
}

func (w *Writer) WriteString(s string) error {
	if err := w.CheckCapacity(len(s)); err != nil {
		return err
	}
	w.pos += copy(w.data[w.pos:], s)
	return nil
}

// Align writes zero bytes up to the next multiple of width, e.g. Align(4)
// pads an RTCP item out to its 32-bit boundary.
func (w *Writer) Align(width int) {
	for w.pos%width != 0 {
		w.data[w.pos] = 0
		w.pos++
	}
}

// Length reports how many bytes have been written.
func (w *Writer) Length() int {
	return w.pos
}

// Rewind steps the write position back n bytes so they can be overwritten,
// used when a trailer is computed over bytes that then get replaced.
func (w *Writer) Rewind(n int) {
	w.pos -= n
	if w.pos < 0 {
		w.pos = 0
	}
}

// PatchUint16 overwrites two bytes at a fixed offset, for length fields
// that are only known once the body following them has been serialized.
func (w *Writer) PatchUint16(offset int, v uint16) {
	w.data[offset] = byte(v >> 8)
	w.data[offset+1] = byte(v)
}

// Capacity reports the fixed size of the underlying buffer.
func (w *Writer) Capacity() int {
	return len(w.data)
}

// CheckCapacity fails when fewer than needed bytes of room remain.
func (w *Writer) CheckCapacity(needed int) error {
	if room := len(w.data) - w.pos; room < needed {
		return fmt.Errorf("%d bytes available, %d needed", room, needed)
	}
	return nil
}

// Bytes returns the written prefix of the buffer.
func (w *Writer) Bytes() []byte {
	return w.data[:w.pos]
}

func (w *Writer) Reset() {
	w.pos = 0
}
