package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigin(t *testing.T) {
	o, err := parseOrigin("caller 7114629121 2 IN IP4 203.0.113.5")
	require.NoError(t, err)

	assert.Equal(t, "caller", o.Username)
	assert.Equal(t, "7114629121", o.SessionId)
	assert.EqualValues(t, 2, o.SessionVersion)
	assert.Equal(t, "IN", o.NetworkType)
	assert.Equal(t, "IP4", o.AddressType)
	assert.Equal(t, "203.0.113.5", o.Address)

	assert.Equal(t, "caller 7114629121 2 IN IP4 203.0.113.5", o.String())

	_, err = parseOrigin("too few fields")
	assert.Error(t, err)
}

// A two-section description in the shape this engine negotiates: video and
// audio behind one BUNDLE, fingerprint and ICE credentials per section.
const testDescription = "v=0\r\n" +
	"o=rtcore 4001 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE video audio\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:video\r\n" +
	"a=ice-ufrag:4f2a91cc\r\n" +
	"a=ice-pwd:9d1f8e2b55aa31c07e66d10240\r\n" +
	"a=fingerprint:sha-256 AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99\r\n" +
	"a=setup:actpass\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f\r\n" +
	"a=rtcp-fb:96 nack pli\r\n" +
	"a=sendrecv\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 0\r\n" +
	"a=mid:audio\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=sendrecv\r\n"

func TestParseSessionTwoSections(t *testing.T) {
	s, err := ParseSession(testDescription)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Version)
	assert.Equal(t, "rtcore", s.Origin.Username)
	assert.Equal(t, "-", s.Name)
	assert.Equal(t, "BUNDLE video audio", s.GetAttr("group"))

	require.Len(t, s.Media, 2)

	video := s.Media[0]
	assert.Equal(t, "video", video.Type)
	assert.Equal(t, 9, video.Port)
	assert.Equal(t, "UDP/TLS/RTP/SAVPF", video.Proto)
	assert.Equal(t, []string{"96"}, video.Format)
	require.NotNil(t, video.Connection)
	assert.Equal(t, "0.0.0.0", video.Connection.Address)
	assert.Equal(t, "96 H264/90000", video.GetAttr("rtpmap"))
	assert.Equal(t, "4f2a91cc", video.GetAttr("ice-ufrag"))

	audio := s.Media[1]
	assert.Equal(t, "audio", audio.Type)
	assert.Equal(t, "0 PCMU/8000", audio.GetAttr("rtpmap"))
}

func TestSessionStringRoundtrip(t *testing.T) {
	s, err := ParseSession(testDescription)
	require.NoError(t, err)

	// Encoding the parsed form reproduces the input, line for line.
	assert.Equal(t, testDescription, s.String())
}

func TestUnknownLinesSurviveRoundtrip(t *testing.T) {
	withExtras := strings.Replace(testDescription,
		"a=group:BUNDLE video audio\r\n",
		"a=group:BUNDLE video audio\r\nb=AS:2000\r\n", 1) +
		"b=TIAS:64000\r\n" // media-level, appended to the audio section

	s, err := ParseSession(withExtras)
	require.NoError(t, err)
	assert.Equal(t, []string{"b=AS:2000"}, s.Unknown)
	assert.Equal(t, []string{"b=TIAS:64000"}, s.Media[1].Unknown)

	out := s.String()
	assert.Contains(t, out, "b=AS:2000\r\n")
	assert.Contains(t, out, "b=TIAS:64000\r\n")
}

func TestFlagAttributes(t *testing.T) {
	a := parseAttribute("rtcp-mux")
	assert.Equal(t, "rtcp-mux", a.Key)
	assert.Empty(t, a.Value)
	assert.Equal(t, "rtcp-mux", a.String())

	a = parseAttribute("rtpmap:96 H264/90000")
	assert.Equal(t, "rtpmap", a.Key)
	assert.Equal(t, "96 H264/90000", a.Value)
}

func TestWriteMinimalSession(t *testing.T) {
	s := Session{
		Version: 0,
		Origin: Origin{
			Username:       "fred",
			SessionId:      "123",
			SessionVersion: 9,
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        "127.0.0.1",
		},
		Name: "mysession",
	}
	assert.Equal(t, "v=0\r\no=fred 123 9 IN IP4 127.0.0.1\r\ns=mysession\r\n", s.String())
}

func TestParseRejectsMalformedLines(t *testing.T) {
	_, err := ParseSession("v=0\r\nnonsense-line-without-equals\r\n")
	assert.Error(t, err)

	_, err = ParseSession("v=zero\r\n")
	assert.Error(t, err)
}
