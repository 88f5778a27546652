package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Two retry schedules circulate for this queue: a fixed per-attempt delay
// table and an exponential curve with a cap. Only the exponential curve is
// implemented; the fixed table is deliberately not reproduced, and these
// tests pin the curve so a switch to the table fails loudly.
func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	p := DefaultBackoff()
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 2 * time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{5, 32 * time.Minute},
		{6, time.Hour},
		{20, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.retry), "retry %d", tt.retry)
	}
}

func TestBackoffDelayIsMonotonicAndBounded(t *testing.T) {
	t.Parallel()

	p := DefaultBackoff()
	prev := time.Duration(0)
	for n := 1; n <= 30; n++ {
		d := p.Delay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
}

func TestBackoffExhausted(t *testing.T) {
	t.Parallel()

	p := DefaultBackoff()
	assert.Equal(t, 5, p.MaxRetries)
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
	assert.True(t, p.Exhausted(6))
}

func TestBackoffDoublesUntilCap(t *testing.T) {
	t.Parallel()

	p := DefaultBackoff()
	for n := 1; p.Delay(n+1) < p.Max; n++ {
		assert.Equal(t, 2*p.Delay(n), p.Delay(n+1), "retry %d", n+1)
	}
}
