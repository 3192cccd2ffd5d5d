package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameLimiterEnforcesBurst(t *testing.T) {
	l := NewFrameLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "frame %d should be within burst", i)
	}
	assert.False(t, l.Allow(), "frame past the burst should be rejected")
}

func TestFrameLimiterDisabled(t *testing.T) {
	l := NewFrameLimiter(0, 0)

	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow())
	}
}
