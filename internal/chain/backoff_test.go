package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Ceiling(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Ceiling(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_FullJitterBounds(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 80*time.Millisecond)

	for attempt := 0; attempt < 8; attempt++ {
		ceil := b.Ceiling(attempt)
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, ceil)
		}
	}
}

func TestBackoff_DeterministicJitter(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute)
	b.jitter = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 4*time.Second, b.Delay(2))

	b.jitter = func(int64) int64 { return 0 }
	assert.Equal(t, time.Duration(0), b.Delay(2))
}

func TestNewBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, time.Second, b.Base)
	assert.Equal(t, time.Second, b.Max)
}
