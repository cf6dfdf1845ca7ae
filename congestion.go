package rtcore

import (
	"time"

	"github.com/lanikai/rtcore/internal/rtp"
)

// CongestionController adapts the encoder bitrate to observed loss and
// round-trip time from receiver reports. The policy is multiplicative
// decrease on congestion, gentle multiplicative increase otherwise, clamped
// to configured bounds.
type CongestionController struct {
	bitrate uint32
	min     uint32
	max     uint32

	lossThreshold    float64
	rttThreshold     time.Duration
	increaseInterval time.Duration
	decreaseFactor   float64
	increaseFactor   float64

	lastUpdate time.Time
	now        func() time.Time

	// Bitrate decisions go out here; the media agent applies them to the
	// encoder in arrival order.
	updates func(bps uint32)
}

// NewCongestionController emits the initial bitrate once, then adjusts on
// every metric passed to Observe.
func NewCongestionController(initial, min, max uint32, updates func(bps uint32)) *CongestionController {
	c := &CongestionController{
		bitrate:          initial,
		min:              min,
		max:              max,
		lossThreshold:    0.10,
		rttThreshold:     200 * time.Millisecond,
		increaseInterval: time.Second,
		decreaseFactor:   0.85,
		increaseFactor:   1.10,
		now:              time.Now,
		updates:          updates,
	}
	c.lastUpdate = c.now()
	updates(initial)
	return c
}

// Bitrate returns the most recently emitted target.
func (c *CongestionController) Bitrate() uint32 { return c.bitrate }

// Observe folds one receiver-report digest into the bitrate decision.
func (c *CongestionController) Observe(m rtp.NetworkMetrics) {
	now := c.now()
	frac := float64(m.FractionLost) / 255

	next := c.bitrate
	switch {
	case frac > c.lossThreshold || m.RTT > c.rttThreshold:
		next = uint32(float64(c.bitrate) * c.decreaseFactor)
	case now.Sub(c.lastUpdate) >= c.increaseInterval:
		next = uint32(float64(c.bitrate) * c.increaseFactor)
	default:
		return
	}

	if next < c.min {
		next = c.min
	}
	if next > c.max {
		next = c.max
	}
	if next == c.bitrate {
		return
	}

	log.Debug("bitrate %d -> %d (loss=%.3f rtt=%s)", c.bitrate, next, frac, m.RTT)
	c.bitrate = next
	c.lastUpdate = now
	c.updates(next)
}
