package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNTPRoundtrip(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 30, 45, 500_000_000, time.UTC)
	ntp := ToNTP(now)
	back := FromNTP(ntp)
	assert.WithinDuration(t, now, back, time.Microsecond)
}

func TestMiddleNTP(t *testing.T) {
	ntp := uint64(0x1122334455667788)
	assert.EqualValues(t, uint32(0x44556677), MiddleNTP(ntp))
}

func TestIdGenProducesDistinctTokens(t *testing.T) {
	var gen IdGen
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		tok := gen.Token()
		assert.False(t, seen[tok], "token collision")
		seen[tok] = true
	}
}
