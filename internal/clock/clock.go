// Package clock centralizes the time and randomness sources used across a
// session: monotonic timestamps for RTCP report scheduling, NTP-epoch
// timestamps for sender reports, and CSPRNG-seeded identifiers for SSRCs,
// sequence numbers, and handshake tokens. Centralizing them here means a
// test can substitute a fake clock without threading time.Now() through
// every component by hand.
package clock

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01). See RFC 5905 Appendix A.
const ntpEpochOffset = 2208988800

// Clock abstracts wall-clock and monotonic time so tests can inject a fake.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time

	// NTPTimestamp returns the current time as a 64-bit NTP timestamp
	// (32-bit seconds since the NTP epoch, 32-bit fraction), as used in RTCP
	// sender reports.
	NTPTimestamp() uint64
}

// System is the default Clock, backed by time.Now.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) NTPTimestamp() uint64 {
	return ToNTP(time.Now())
}

// ToNTP converts a time.Time to its 64-bit NTP timestamp representation.
func ToNTP(t time.Time) uint64 {
	seconds := uint64(t.Unix()+ntpEpochOffset) << 32
	fraction := uint64(t.Nanosecond()) * (1 << 32) / 1e9
	return seconds | fraction
}

// MiddleNTP returns the middle 32 bits of a 64-bit NTP timestamp, the
// compact form carried in RTCP report blocks (LSR) per RFC 3550 §6.4.1.
func MiddleNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// FromNTP converts a 64-bit NTP timestamp back to a time.Time.
func FromNTP(ntp uint64) time.Time {
	seconds := int64(ntp>>32) - ntpEpochOffset
	fraction := ntp & 0xffffffff
	nanos := int64(fraction * 1e9 / (1 << 32))
	return time.Unix(seconds, nanos)
}

// IdGen produces cryptographically random identifiers: SSRCs, initial RTP
// sequence numbers, handshake tokens. Using a CSPRNG rather than math/rand
// avoids collisions between concurrent sessions started in the same
// process and makes handshake tokens hard to guess.
type IdGen struct{}

// Uint32 returns a random 32-bit value, suitable for an SSRC or an RTP
// timestamp offset.
func (IdGen) Uint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("clock: failed to read random bytes: " + err.Error())
	}
	return binary.BigEndian.Uint32(b[:])
}

// Uint16 returns a random 16-bit value, suitable for an initial RTP
// sequence number.
func (IdGen) Uint16() uint16 {
	return uint16(IdGen{}.Uint32())
}

// Token returns a random 64-bit handshake token, used to disambiguate
// SYN/ACK exchanges and detect glare.
func (IdGen) Token() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("clock: failed to read random bytes: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}
