package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrozenClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFrozen(base)

	assert.Equal(t, base, f.Now())
	assert.Equal(t, base, f.Now(), "repeated calls must not advance on their own")

	f.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), f.Now())
}

func TestFrozenClockNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	local := time.Date(2026, 1, 1, 7, 0, 0, 0, loc)

	f := NewFrozen(local)

	assert.True(t, f.Now().Equal(local))
	assert.Equal(t, time.UTC, f.Now().Location())
}

func TestRealClockReturnsUTC(t *testing.T) {
	now := Real().Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now().UTC(), now, time.Second)
}

func TestRealIDsProducesUniqueIdentifiers(t *testing.T) {
	ids := RealIDs()

	a := ids.NewID()
	b := ids.NewID()
	assert.NotEqual(t, a, b)

	trace := ids.NewTraceID()
	assert.NotEmpty(t, trace)
}
