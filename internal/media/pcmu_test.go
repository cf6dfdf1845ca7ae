package media

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawSilence(t *testing.T) {
	// G.711 encodes digital silence as 0xFF.
	assert.EqualValues(t, 0xff, linearToMulaw(0))
	assert.EqualValues(t, 0, mulawToLinear(0xff))
}

func TestMulawRoundtripIsMonotone(t *testing.T) {
	// Companding is lossy, but expanding an encoded sample must land close
	// to the original and preserve sign and ordering.
	samples := []int16{-32000, -12345, -500, -1, 0, 1, 500, 12345, 32000}
	prev := int16(-32768)
	for _, s := range samples {
		back := mulawToLinear(linearToMulaw(s))
		if s < 0 {
			assert.LessOrEqual(t, back, int16(0), "sample %d", s)
		} else {
			assert.GreaterOrEqual(t, back, int16(0), "sample %d", s)
		}
		assert.GreaterOrEqual(t, back, prev, "ordering at %d", s)
		prev = back
	}
}

func TestMulawQuantizationError(t *testing.T) {
	// Near zero the step size is small; the error bound is a few counts.
	for s := int16(-256); s <= 256; s += 16 {
		back := mulawToLinear(linearToMulaw(s))
		diff := int32(s) - int32(back)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, int32(8), "sample %d decoded to %d", s, back)
	}
}

func TestPCMUEncoderFramesizes(t *testing.T) {
	enc := NewPCMUEncoder()
	dec := NewPCMUDecoder()

	// One 20 ms frame: 160 samples of 16-bit PCM in, 160 μ-law bytes out.
	pcm := make([]byte, 320)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(i*100-8000)))
	}

	mulaw, err := enc.Encode(pcm)
	require.NoError(t, err)
	assert.Len(t, mulaw, 160)

	back, err := dec.Decode(mulaw)
	require.NoError(t, err)
	assert.Len(t, back, 320)
}
