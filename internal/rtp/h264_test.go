package rtp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketizeSingleNALUs(t *testing.T) {
	accessUnit := []byte{
		0, 0, 0, 1, 0x65, 0x01, 0x02, 0x03,
		0, 0, 0, 1, 0x41, 0x09, 0x09,
	}

	chunks := NewPacketizer(1200).Packetize(accessUnit)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte{0x65, 0x01, 0x02, 0x03}, chunks[0].Bytes)
	assert.False(t, chunks[0].Marker)
	assert.Equal(t, []byte{0x41, 0x09, 0x09}, chunks[1].Bytes)
	assert.True(t, chunks[1].Marker)

	// Feeding the chunks back reproduces the access unit.
	var d Depacketizer
	frame, ok := d.Push(100, 9000, chunks[0].Marker, chunks[0].Bytes)
	assert.False(t, ok)
	assert.Nil(t, frame)
	frame, ok = d.Push(101, 9000, chunks[1].Marker, chunks[1].Bytes)
	require.True(t, ok)
	assert.Equal(t, accessUnit, frame)
}

func TestPacketizeFragmented(t *testing.T) {
	// 20-byte NALU with NRI 3: too big for a 22-byte MTU with 12 bytes of
	// RTP overhead, so it fragments with an 8-byte payload budget.
	nalu := make([]byte, 20)
	nalu[0] = 0x65
	for i := 1; i < 20; i++ {
		nalu[i] = byte(i)
	}
	accessUnit := append([]byte{0, 0, 0, 1}, nalu...)

	chunks := NewPacketizer(22).Packetize(accessUnit)
	require.Len(t, chunks, 3)

	wantFUHeaders := []byte{0x85, 0x05, 0x45}
	for i, c := range chunks {
		assert.EqualValues(t, 0x7c, c.Bytes[0], "FU indicator of chunk %d", i)
		assert.Equal(t, wantFUHeaders[i], c.Bytes[1], "FU header of chunk %d", i)
		assert.Equal(t, i == 2, c.Marker, "marker of chunk %d", i)
	}
	assert.Equal(t, nalu[1:9], chunks[0].Bytes[2:])
	assert.Equal(t, nalu[9:17], chunks[1].Bytes[2:])
	assert.Equal(t, nalu[17:], chunks[2].Bytes[2:])

	var d Depacketizer
	var frame []byte
	var ok bool
	for i, c := range chunks {
		frame, ok = d.Push(uint16(7+i), 1234, c.Marker, c.Bytes)
	}
	require.True(t, ok)
	assert.Equal(t, accessUnit, frame)
}

func TestPacketizeAggregatesParameterSets(t *testing.T) {
	sps := []byte{0x67, 0xaa, 0xbb}
	pps := []byte{0x68, 0xcc}
	idr := []byte{0x65, 1, 2, 3, 4}
	accessUnit := flattenAnnexB(sps, pps, idr)

	chunks := NewPacketizer(1200).Packetize(accessUnit)
	require.Len(t, chunks, 2)

	// SPS and PPS share one STAP-A; the slice follows on its own.
	assert.EqualValues(t, naluTypeSTAP_A, chunks[0].Bytes[0]&0x1f)
	assert.False(t, chunks[0].Marker)
	assert.Equal(t, idr, chunks[1].Bytes)
	assert.True(t, chunks[1].Marker)

	// Roundtrip survives the aggregation.
	var d Depacketizer
	d.Push(0, 90, false, chunks[0].Bytes)
	frame, ok := d.Push(1, 90, true, chunks[1].Bytes)
	require.True(t, ok)
	assert.Equal(t, accessUnit, frame)
}

func TestPacketizeRoundtripAcrossMTUs(t *testing.T) {
	nalus := [][]byte{
		{0x67, 0x64, 0x00, 0x1f},
		{0x68, 0xee},
		append([]byte{0x65}, bytes.Repeat([]byte{0x5a}, 900)...),
		append([]byte{0x41}, bytes.Repeat([]byte{0x17}, 40)...),
	}
	accessUnit := flattenAnnexB(nalus...)

	for _, mtu := range []int{25, 64, 500, 1200} {
		chunks := NewPacketizer(mtu).Packetize(accessUnit)
		require.NotEmpty(t, chunks, "mtu %d", mtu)

		var d Depacketizer
		var frame []byte
		var ok bool
		seq := uint16(40000)
		for _, c := range chunks {
			frame, ok = d.Push(seq, 777, c.Marker, c.Bytes)
			seq++
		}
		require.True(t, ok, "mtu %d", mtu)
		assert.Equal(t, accessUnit, frame, "mtu %d", mtu)
	}
}

func TestDepacketizerSequenceGapDropsFrame(t *testing.T) {
	chunks := NewPacketizer(1200).Packetize(flattenAnnexB(
		[]byte{0x41, 1}, []byte{0x41, 2}, []byte{0x41, 3},
	))
	require.Len(t, chunks, 3)

	var d Depacketizer
	d.Push(10, 5, chunks[0].Marker, chunks[0].Bytes)
	// The chunk with seq 11 never arrives.
	frame, ok := d.Push(12, 5, chunks[2].Marker, chunks[2].Bytes)
	assert.False(t, ok)
	assert.Nil(t, frame)

	// The machine recovers on the next clean frame.
	next := NewPacketizer(1200).Packetize(flattenAnnexB([]byte{0x65, 9}))
	frame, ok = d.Push(13, 6, next[0].Marker, next[0].Bytes)
	assert.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65, 9}, frame)
}

func TestDepacketizerTimestampChangeResets(t *testing.T) {
	var d Depacketizer
	// Partial FU-A frame, then a new timestamp without a marker.
	d.Push(1, 100, false, []byte{0x7c, 0x85, 0xde, 0xad})
	frame, ok := d.Push(2, 200, true, []byte{0x41, 0x01})
	assert.False(t, ok)
	assert.Nil(t, frame)
}

func TestDepacketizerFragmentWithoutStart(t *testing.T) {
	var d Depacketizer
	// End fragment with no start marks the frame corrupted.
	frame, ok := d.Push(5, 300, true, []byte{0x7c, 0x45, 0x01})
	assert.False(t, ok)
	assert.Nil(t, frame)
}

func TestDepacketizerDeduplicatesRepeatedNALUs(t *testing.T) {
	var d Depacketizer
	d.Push(1, 50, false, []byte{0x41, 0xab})
	d.Push(2, 50, false, []byte{0x41, 0xab})
	frame, ok := d.Push(3, 50, true, []byte{0x65, 0x01})
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x41, 0xab, 0, 0, 0, 1, 0x65, 0x01}, frame)
}

func TestDepacketizerRejectsUnsupportedAggregation(t *testing.T) {
	var d Depacketizer
	frame, ok := d.Push(1, 60, true, []byte{byte(naluTypeSTAP_B), 0x00, 0x01, 0x41})
	assert.False(t, ok)
	assert.Nil(t, frame)
}

func TestSplitNALUsPrefersLongStartCode(t *testing.T) {
	annexb := []byte{0, 0, 1, 0x41, 0x01, 0, 0, 0, 1, 0x65, 0x02}
	nalus := SplitNALUs(annexb)
	require.Len(t, nalus, 2)
	assert.Equal(t, []byte{0x41, 0x01}, nalus[0])
	assert.Equal(t, []byte{0x65, 0x02}, nalus[1])
}

func flattenAnnexB(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, nalu...)
	}
	return out
}
