package rtcore

import (
	"time"

	"github.com/lanikai/rtcore/internal/logging"
)

var log = logging.New("rtcore")

// MediaConfig holds the encoder-facing options.
type MediaConfig struct {
	// Target frame rate. Also sets the RTP timestamp step to 90000/FPS.
	FPS uint32

	// Camera index for capture backends that enumerate devices.
	DefaultCamera uint32

	// Bitrate bounds for the congestion controller, in bits per second.
	MaxBitrate uint32
	MinBitrate uint32

	// Frames between forced keyframes.
	KeyframeInterval uint32
}

// TLSConfig points at the DTLS identity. When empty, an ephemeral
// self-signed certificate is generated per connection.
type TLSConfig struct {
	DTLSCert string
	DTLSKey  string
}

// SignalingConfig configures the out-of-band signaling boundary.
type SignalingConfig struct {
	CAPath       string
	ServerDomain string
}

// SessionConfig holds the application-handshake timers.
type SessionConfig struct {
	HandshakeTimeout time.Duration
	ResendEvery      time.Duration
	CloseTimeout     time.Duration
	CloseResendEvery time.Duration
}

// Config is the full option set recognized by the engine.
type Config struct {
	Media     MediaConfig
	TLS       TLSConfig
	Signaling SignalingConfig
	Session   SessionConfig
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Media: MediaConfig{
			FPS:              30,
			DefaultCamera:    0,
			MaxBitrate:       1_500_000,
			MinBitrate:       500_000,
			KeyframeInterval: 90,
		},
		Session: SessionConfig{
			HandshakeTimeout: 10 * time.Second,
			ResendEvery:      500 * time.Millisecond,
			CloseTimeout:     5 * time.Second,
			CloseResendEvery: 500 * time.Millisecond,
		},
	}
}

// Sanitize replaces invalid values with their defaults, logging each
// correction. Bad configuration degrades to documented behavior rather than
// refusing to start.
func (c *Config) Sanitize() {
	def := DefaultConfig()
	if c.Media.FPS == 0 || c.Media.FPS > 240 {
		log.Warn("invalid Media.fps %d, using %d", c.Media.FPS, def.Media.FPS)
		c.Media.FPS = def.Media.FPS
	}
	if c.Media.MinBitrate == 0 {
		log.Warn("invalid Media.min_bitrate %d, using %d", c.Media.MinBitrate, def.Media.MinBitrate)
		c.Media.MinBitrate = def.Media.MinBitrate
	}
	if c.Media.MaxBitrate < c.Media.MinBitrate {
		log.Warn("Media.max_bitrate %d below min, using %d", c.Media.MaxBitrate, def.Media.MaxBitrate)
		c.Media.MaxBitrate = def.Media.MaxBitrate
	}
	if c.Media.KeyframeInterval == 0 {
		log.Warn("invalid Media.keyframe_interval %d, using %d", c.Media.KeyframeInterval, def.Media.KeyframeInterval)
		c.Media.KeyframeInterval = def.Media.KeyframeInterval
	}
	if c.Session.HandshakeTimeout <= 0 {
		log.Warn("invalid session.handshake_timeout %s, using %s", c.Session.HandshakeTimeout, def.Session.HandshakeTimeout)
		c.Session.HandshakeTimeout = def.Session.HandshakeTimeout
	}
	if c.Session.ResendEvery <= 0 {
		log.Warn("invalid session.resend_every %s, using %s", c.Session.ResendEvery, def.Session.ResendEvery)
		c.Session.ResendEvery = def.Session.ResendEvery
	}
	if c.Session.CloseTimeout <= 0 {
		log.Warn("invalid session.close_timeout %s, using %s", c.Session.CloseTimeout, def.Session.CloseTimeout)
		c.Session.CloseTimeout = def.Session.CloseTimeout
	}
	if c.Session.CloseResendEvery <= 0 {
		log.Warn("invalid session.close_resend_every %s, using %s", c.Session.CloseResendEvery, def.Session.CloseResendEvery)
		c.Session.CloseResendEvery = def.Session.CloseResendEvery
	}
}

// TimestampStep returns the RTP timestamp increment per video frame for the
// 90 kHz media clock.
func (c *Config) TimestampStep() uint32 {
	return 90000 / c.Media.FPS
}
