package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtcore/internal/packet"
)

func TestNACKPacksLossesIntoRanges(t *testing.T) {
	var n genericNACK
	require.NoError(t, n.setLostPackets([]uint16{5, 6, 10}))

	require.Len(t, n.entries, 1)
	assert.EqualValues(t, 5, n.entries[0].pid)
	// 6 is offset 1 (bit 0), 10 is offset 5 (bit 4).
	assert.EqualValues(t, 0x11, n.entries[0].mask)

	assert.Equal(t, []uint16{5, 6, 10}, n.lostPackets())
}

func TestNACKSpillsIntoSecondRange(t *testing.T) {
	var n genericNACK
	// 100 is 25 past 75, beyond the 16-bit mask, so it opens a new entry.
	require.NoError(t, n.setLostPackets([]uint16{75, 80, 100, 101}))

	require.Len(t, n.entries, 2)
	assert.EqualValues(t, 75, n.entries[0].pid)
	assert.EqualValues(t, 100, n.entries[1].pid)
	assert.Equal(t, []uint16{75, 80, 100, 101}, n.lostPackets())
}

func TestNACKWireRoundtrip(t *testing.T) {
	out := genericNACK{sender: 0x11223344, media: 0x55667788}
	require.NoError(t, out.setLostPackets([]uint16{1000, 1001, 1030}))

	w := packet.NewWriterSize(128)
	require.NoError(t, out.writeTo(w))

	r := packet.NewReader(w.Bytes())
	var h rtcpHeader
	require.NoError(t, h.readFrom(r))
	assert.EqualValues(t, rtcpTransportFeedbackType, h.packetType)
	assert.Equal(t, feedbackFormatNACK, h.count)

	var in genericNACK
	require.NoError(t, in.readFrom(r, &h))
	assert.Equal(t, out.sender, in.sender)
	assert.Equal(t, out.media, in.media)
	assert.Equal(t, []uint16{1000, 1001, 1030}, in.lostPackets())
}

func TestPLIWireRoundtrip(t *testing.T) {
	out := pictureLoss{sender: 0xaabbccdd, media: 0x00112233}

	w := packet.NewWriterSize(32)
	require.NoError(t, out.writeTo(w))
	assert.Len(t, w.Bytes(), 12)

	r := packet.NewReader(w.Bytes())
	var h rtcpHeader
	require.NoError(t, h.readFrom(r))
	require.IsType(t, &pictureLoss{}, feedbackPacketFor(h.packetType, h.count))

	var in pictureLoss
	require.NoError(t, in.readFrom(r, &h))
	assert.Equal(t, out, in)
}
