package rtp

import "errors"

// Replay protection for SRTP, per RFC 3711 Section 3.3.2. Packets are
// identified by their 48-bit index (ROC || SEQ); a sliding window over the
// last replayWindowSize indices remembers what has already been accepted.

const replayWindowSize = 64

var (
	errReplayedPacket = errors.New("replayed packet index")
	errStalePacket    = errors.New("packet index too old")
)

// replayWindow tracks accepted packet indices. The zero value is ready to
// use: no packet has been accepted yet.
type replayWindow struct {
	// Highest index accepted so far.
	highest uint64

	// Bitmap of accepted indices, bit k representing index highest-k.
	mask uint64

	// Whether any packet has been accepted. Needed to distinguish "nothing
	// seen" from "index 0 seen".
	started bool
}

// check reports whether the given index may be accepted. It does not mutate
// the window; call commit only after the packet also passes authentication,
// so that forged packets cannot poison the window.
func (w *replayWindow) check(index uint64) error {
	if !w.started || index > w.highest {
		return nil
	}
	delta := w.highest - index
	if delta >= replayWindowSize {
		return errStalePacket
	}
	if w.mask&(1<<delta) != 0 {
		return errReplayedPacket
	}
	return nil
}

// commit records an authenticated index in the window.
func (w *replayWindow) commit(index uint64) {
	if !w.started {
		w.started = true
		w.highest = index
		w.mask = 1
		return
	}
	if index > w.highest {
		shift := index - w.highest
		if shift >= replayWindowSize {
			w.mask = 0
		} else {
			w.mask <<= shift
		}
		w.mask |= 1
		w.highest = index
		return
	}
	w.mask |= 1 << (w.highest - index)
}

// estimateROC guesses the rollover counter for an incoming sequence number,
// given the last authenticated sequence number and ROC. The delta is
// interpreted as a signed 16-bit quantity: a large negative jump means the
// sender's sequence number wrapped forward, a large positive one means this
// packet predates the last wrap.
// See https://tools.ietf.org/html/rfc3711#section-3.3.1
func estimateROC(lastSeq uint16, roc uint32, seq uint16) uint32 {
	delta := int32(seq) - int32(lastSeq)
	switch {
	case delta <= -32768:
		return roc + 1
	case delta >= 32768:
		return roc - 1
	default:
		return roc
	}
}
