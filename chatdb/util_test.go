package chatdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpochRoundTrip(t *testing.T) {
	cases := []float64{
		AppleEpochOffset, // 2001-01-01, native zero
		1718445600,       // fixture base
		1718445600.5,     // sub-second
		0,                // Unix epoch, negative native
		2000000000,
	}
	for _, sec := range cases {
		back := appleNSToUnix(unixToAppleNS(sec))
		assert.InDelta(t, sec, back, 1.0, "sec=%v", sec)
	}

	// Integral timestamps convert exactly.
	assert.Equal(t, float64(1718445600), appleNSToUnix(unixToAppleNS(1718445600)))
}

func TestUnixToAppleNS(t *testing.T) {
	assert.Equal(t, int64(0), unixToAppleNS(AppleEpochOffset))
	assert.Equal(t, int64(740138400)*1e9, unixToAppleNS(1718445600))
	assert.Equal(t, int64(-978307200)*1e9, unixToAppleNS(0))
}
