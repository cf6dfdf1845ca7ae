package ice

// Package-level knobs, set once at startup via SetOptions (cmd/rtcored
// does so from its flags) rather than parsed here; ICE has no business
// owning a flag set of its own.
var (
	// Whether or not to allow IPv6 ICE candidates.
	flagEnableIPv6 = false

	// Host:port of the STUN server used to discover server-reflexive
	// candidates.
	flagStunServer = "stun2.l.google.com:19302"
)

// SetOptions configures package-wide ICE gathering behavior. Call it once,
// before the first Agent is created.
func SetOptions(enableIPv6 bool, stunServer string) {
	flagEnableIPv6 = enableIPv6
	if stunServer != "" {
		flagStunServer = stunServer
	}
}
