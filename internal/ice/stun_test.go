package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeEncoding(t *testing.T) {
	for _, class := range []stunClass{stunRequest, stunIndication, stunSuccessResponse, stunErrorResponse} {
		encoded := encodeMessageType(class, methodBinding)
		gotClass, gotMethod := decodeMessageType(encoded)
		assert.Equal(t, class, gotClass)
		assert.EqualValues(t, methodBinding, gotMethod)
	}

	// A binding request is 0x0001, a binding success response 0x0101.
	assert.EqualValues(t, 0x0001, encodeMessageType(stunRequest, methodBinding))
	assert.EqualValues(t, 0x0101, encodeMessageType(stunSuccessResponse, methodBinding))
}

func TestBindingResponseRoundtrip(t *testing.T) {
	raddr := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 40000}
	out := newStunBindingResponse("0123456789AB", raddr, "swordfish")

	parsed, err := parseStunMessage(out.Bytes())
	require.NoError(t, err)
	require.NotNil(t, parsed)

	assert.Equal(t, stunSuccessResponse, parsed.class)
	assert.EqualValues(t, methodBinding, parsed.method)
	assert.Equal(t, "0123456789AB", parsed.transactionID)

	mapped := parsed.getMappedAddress()
	require.NotNil(t, mapped)
	assert.True(t, mapped.IP.Equal(raddr.IP))
	assert.Equal(t, raddr.Port, mapped.Port)
}

func TestBindingRequestAttributes(t *testing.T) {
	req := newStunBindingRequest("")
	req.addAttribute(attrUsername, []byte("remote:local"))
	req.addAttribute(attrUseCandidate, nil)
	req.addPriority(0x6e7f1eff)

	parsed, err := parseStunMessage(req.Bytes())
	require.NoError(t, err)
	require.NotNil(t, parsed)

	name, ok := parsed.findAttribute(attrUsername)
	require.True(t, ok)
	assert.Equal(t, "remote:local", string(name))
	assert.True(t, parsed.hasUseCandidate())
	assert.EqualValues(t, 0x6e7f1eff, parsed.getPriority())
}

// A browser-style binding request with an odd-length USERNAME must survive
// the attribute padding rules end to end.
func TestParseBrowserStyleRequest(t *testing.T) {
	msg := newStunBindingRequest("VAf3ZIsL1d/F")
	msg.addAttribute(attrUsername, []byte("tlGa:n3E3"))
	msg.addAttribute(attrIceControlled, roleTieBreaker)
	msg.addPriority(0x6e7f1eff)
	msg.addMessageIntegrity("the/ice/password/value")
	msg.addFingerprint()

	parsed, err := parseStunMessage(msg.Bytes())
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, stunRequest, parsed.class)
	assert.EqualValues(t, 0x6e7f1eff, parsed.getPriority())
	name, _ := parsed.findAttribute(attrUsername)
	assert.Equal(t, "tlGa:n3E3", string(name))
}

func TestParseRejectsNonSTUN(t *testing.T) {
	// RTP has its top two bits set; a handshake line is ASCII. Neither may
	// be mistaken for STUN.
	for _, data := range [][]byte{
		[]byte("SYN 0123456789abcdef ......"),
		{0x80, 96, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		{0, 1, 0, 4, 0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, // wrong magic
	} {
		msg, err := parseStunMessage(data)
		assert.NoError(t, err)
		assert.Nil(t, msg)
	}
}
