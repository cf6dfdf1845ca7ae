package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFormats(t *testing.T) {
	assert.Equal(t, "SYN 00000000deadbeef", EncodeSyn(0xdeadbeef))
	assert.Equal(t, "SYN-ACK 00000000deadbeef 00000000cafef00d", EncodeSynAck(0xdeadbeef, 0xcafef00d))
	assert.Equal(t, "ACK 00000000cafef00d", EncodeAck(0xcafef00d))
	assert.Equal(t, "FIN ffffffffffffffff", EncodeFin(0xffffffffffffffff))
	assert.Equal(t, "FIN-ACK 0000000000000001 0000000000000002", EncodeFinAck(1, 2))
	assert.Equal(t, "FIN-ACK2 0000000000000002", EncodeFinAck2(2))
}

func TestParseRoundtrip(t *testing.T) {
	for _, tc := range []struct {
		line string
		want Message
	}{
		{EncodeSyn(42), Message{Kind: Syn, Token: 42}},
		{EncodeSynAck(42, 99), Message{Kind: SynAck, Your: 42, Mine: 99}},
		{EncodeAck(99), Message{Kind: Ack, Your: 99}},
		{EncodeFin(7), Message{Kind: Fin, Token: 7}},
		{EncodeFinAck(7, 8), Message{Kind: FinAck, Your: 7, Mine: 8}},
		{EncodeFinAck2(8), Message{Kind: FinAck2, Your: 8}},
	} {
		got, ok := Parse([]byte(tc.line))
		require.True(t, ok, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}
}

func TestParseTrimsWhitespace(t *testing.T) {
	got, ok := Parse([]byte("  SYN 000000000000002a \r\n"))
	require.True(t, ok)
	assert.Equal(t, Message{Kind: Syn, Token: 0x2a}, got)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"   ",
		"SYN",
		"SYN notahexnumber",
		"SYN-ACK 00000000deadbeef",
		"HELLO 00000000deadbeef",
		"FIN-ACK2",
	} {
		_, ok := Parse([]byte(line))
		assert.False(t, ok, "expected %q to be rejected", line)
	}
}
