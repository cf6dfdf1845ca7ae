package mux

// MatchFunc decides whether an inbound datagram belongs to an endpoint,
// by inspecting its first byte. On the nominated 5-tuple we carry four
// kinds of traffic, each with a disjoint leading-byte range:
//
//	[  0,   3] STUN (ICE keepalives, handled below the mux)
//	[ 20,  63] DTLS records
//	[ 64, 127] application handshake text lines (SYN/FIN family)
//	[128, 191] RTP and RTCP (split further by the payload-type byte)
type MatchFunc func([]byte) bool

// MatchRange accepts packets whose first byte lies in [lower, upper].
func MatchRange(lower, upper byte) MatchFunc {
	return func(buf []byte) bool {
		if len(buf) < 1 {
			return false
		}
		b := buf[0]
		return b >= lower && b <= upper
	}
}

// MatchSTUN accepts STUN messages (leading two bits zero).
var MatchSTUN = MatchRange(0, 3)

// MatchDTLS accepts DTLS record packets, per RFC 7983.
var MatchDTLS = MatchRange(20, 63)

// MatchControl accepts the ASCII line protocol used for the application
// handshake. Its messages all begin with an uppercase letter, safely above
// the DTLS range and below the RTP version bits.
var MatchControl = MatchRange(64, 127)

// MatchRTP accepts RTP and RTCP packets (version 2 in the top two bits).
// RTP/RTCP are distinguished downstream by the second byte.
var MatchRTP = MatchRange(128, 191)
