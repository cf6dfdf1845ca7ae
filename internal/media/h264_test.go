package media

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingBuffer struct{ *bytes.Reader }

func (closingBuffer) Close() error { return nil }

func annexBSource(stream []byte) H264Source {
	return NewH264Reader(closingBuffer{bytes.NewReader(stream)})
}

func TestReadNALUMixedStartCodes(t *testing.T) {
	src := annexBSource([]byte{
		0, 0, 0, 1, 0x67, 0xaa, // 4-byte code
		0, 0, 1, 0x68, 0xbb, // 3-byte code
		0, 0, 0, 1, 0x65, 1, 2, 3,
	})

	for _, want := range [][]byte{{0x67, 0xaa}, {0x68, 0xbb}, {0x65, 1, 2, 3}} {
		nalu, err := src.ReadNALU()
		require.NoError(t, err)
		assert.Equal(t, want, nalu)
	}

	_, err := src.ReadNALU()
	assert.Equal(t, io.EOF, err)
}

func TestReadNALUTrailingZeroStaysInPayload(t *testing.T) {
	// The final NALU ends in a zero byte that is NOT part of a start code.
	src := annexBSource([]byte{0, 0, 1, 0x41, 0x00})
	nalu, err := src.ReadNALU()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x41, 0x00}, nalu)
}

func TestReadNALUEmptyStream(t *testing.T) {
	_, err := annexBSource(nil).ReadNALU()
	assert.Equal(t, io.EOF, err)
}

func TestOpenSourceRegistry(t *testing.T) {
	_, err := OpenSource("nosuchtag:/dev/null")
	assert.Error(t, err)
}
