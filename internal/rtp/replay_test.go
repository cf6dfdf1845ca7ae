package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayWindowRejectsDuplicates(t *testing.T) {
	var w replayWindow

	require.NoError(t, w.check(1000))
	w.commit(1000)

	assert.ErrorIs(t, w.check(1000), errReplayedPacket)
	assert.NoError(t, w.check(1001))
	assert.NoError(t, w.check(999))
}

func TestReplayWindowRejectsStaleIndices(t *testing.T) {
	var w replayWindow
	w.commit(100)

	assert.NoError(t, w.check(100-replayWindowSize+1))
	assert.ErrorIs(t, w.check(100-replayWindowSize), errStalePacket)
	assert.ErrorIs(t, w.check(0), errStalePacket)
}

func TestReplayWindowTracksOutOfOrder(t *testing.T) {
	var w replayWindow
	for _, idx := range []uint64{50, 52, 51, 80} {
		require.NoError(t, w.check(idx), "index %d", idx)
		w.commit(idx)
	}
	assert.ErrorIs(t, w.check(51), errReplayedPacket)
	assert.ErrorIs(t, w.check(80), errReplayedPacket)
	assert.NoError(t, w.check(79))
}

func TestEstimateROC(t *testing.T) {
	// Forward wrap: last seq near the top, new seq near zero.
	assert.EqualValues(t, 8, estimateROC(65530, 7, 5))
	// Late packet from before the wrap.
	assert.EqualValues(t, 7, estimateROC(5, 8, 65530))
	// Ordinary in-window movement.
	assert.EqualValues(t, 7, estimateROC(1000, 7, 1500))
	assert.EqualValues(t, 7, estimateROC(1500, 7, 1000))
}

// Unprotecting a packet, then re-submitting the identical bytes, must fail
// the replay check without disturbing reader state.
func TestReaderRejectsReplayedPacket(t *testing.T) {
	key := []byte("TopSecret128bits")
	salt := []byte("SodiumChloride")

	var sent [][]byte
	out := writerFunc(func(p []byte) (int, error) {
		sent = append(sent, append([]byte(nil), p...))
		return len(p), nil
	})

	w := newRTPWriter(out, 0xdecafbad, 1000, newCryptoContext(key, salt))
	require.NoError(t, w.writePacket(96, true, 90000, []byte("frame data")))
	require.Len(t, sent, 1)

	r := newRTPReader(0xdecafbad, newCryptoContext(key, salt))
	var got [][]byte
	r.handler = func(hdr rtpHeader, payload []byte) error {
		got = append(got, append([]byte(nil), payload...))
		return nil
	}

	require.NoError(t, r.readPacket(append([]byte(nil), sent[0]...)))
	require.Len(t, got, 1)
	assert.Equal(t, []byte("frame data"), got[0])

	seqBefore, rocBefore := r.lastSequence, r.roc
	err := r.readPacket(append([]byte(nil), sent[0]...))
	assert.ErrorIs(t, err, errReplayedPacket)
	assert.Equal(t, seqBefore, r.lastSequence)
	assert.Equal(t, rocBefore, r.roc)
	assert.Len(t, got, 1)
}

// A sequence number wrap advances the reader's rollover counter once the
// packet authenticates.
func TestReaderRollsOverSequence(t *testing.T) {
	key := []byte("TopSecret128bits")
	salt := []byte("SodiumChloride")

	var sent [][]byte
	out := writerFunc(func(p []byte) (int, error) {
		sent = append(sent, append([]byte(nil), p...))
		return len(p), nil
	})

	// Writer starts 6 packets before the wrap; the 7th crosses it.
	w := newRTPWriter(out, 0x22334455, 65530, newCryptoContext(key, salt))
	for i := 0; i < 12; i++ {
		require.NoError(t, w.writePacket(96, false, 1234, []byte{byte(i)}))
	}

	r := newRTPReader(0x22334455, newCryptoContext(key, salt))
	r.handler = func(rtpHeader, []byte) error { return nil }
	for _, pkt := range sent {
		require.NoError(t, r.readPacket(pkt))
	}

	assert.EqualValues(t, 1, r.roc)
	// 65530 + 11 packets wraps the 16-bit sequence space to 5.
	assert.EqualValues(t, 5, r.lastSequence)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
