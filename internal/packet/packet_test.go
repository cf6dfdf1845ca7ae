package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundtrip(t *testing.T) {
	w := NewWriterSize(64)
	w.WriteByte(0x80)
	w.WriteUint16(0xbeef)
	w.WriteUint24(0x010203)
	w.WriteUint32(0xdeadbeef)
	w.WriteUint64(0x0102030405060708)
	require.NoError(t, w.WriteSlice([]byte{9, 9}))
	require.NoError(t, w.WriteString("cname"))
	w.Align(4)

	r := NewReader(w.Bytes())
	assert.EqualValues(t, 0x80, r.ReadByte())
	assert.EqualValues(t, 0xbeef, r.ReadUint16())
	assert.EqualValues(t, 0x010203, r.ReadUint24())
	assert.EqualValues(t, 0xdeadbeef, r.ReadUint32())
	assert.EqualValues(t, 0x0102030405060708, r.ReadUint64())
	assert.Equal(t, []byte{9, 9}, r.ReadSlice(2))
	assert.Equal(t, "cname", r.ReadString(5))
	r.Align(4)
	assert.Zero(t, r.Remaining())
}

func TestWriterRewindOverwrites(t *testing.T) {
	w := NewWriterSize(8)
	w.WriteUint32(0x11111111)
	w.Rewind(2)
	w.WriteUint16(0x2222)
	assert.Equal(t, []byte{0x11, 0x11, 0x22, 0x22}, w.Bytes())
}

func TestWriterCapacityIsRemainingRoom(t *testing.T) {
	w := NewWriterSize(4)
	require.NoError(t, w.WriteSlice([]byte{1, 2, 3}))
	assert.Error(t, w.CheckCapacity(2))
	assert.Error(t, w.WriteSlice([]byte{4, 5}))
	require.NoError(t, w.WriteSlice([]byte{4}))
}

func TestReaderCheckRemaining(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	require.NoError(t, r.CheckRemaining(3))
	r.Skip(2)
	assert.Error(t, r.CheckRemaining(2))
	assert.EqualValues(t, 3, r.ReadByte())
}
