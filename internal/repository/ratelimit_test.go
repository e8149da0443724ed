package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowBoundsAlignsToHour(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 37, 22, 0, time.UTC)

	start, end := windowBounds(now)

	assert.Equal(t, time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Hour, end.Sub(start))
}

func TestWindowBoundsOnExactHour(t *testing.T) {
	now := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC)

	start, end := windowBounds(now)

	assert.Equal(t, now, start)
	assert.Equal(t, now.Add(time.Hour), end)
}

func TestRetryAfterIsBoundedByAnHour(t *testing.T) {
	r := &RateLimitRepository{}
	now := time.Date(2026, 3, 5, 14, 37, 22, 0, time.UTC)

	d := r.RetryAfter(now)

	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, time.Hour)
	assert.Equal(t, 22*time.Minute+38*time.Second, d)
}
