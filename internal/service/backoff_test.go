package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffNextDelayWithinJitterBounds(t *testing.T) {
	p := testBackoffParams() // base=1s, maxDelay=3600s
	rng := rand.New(rand.NewSource(42))

	for k := 0; k < 5; k++ {
		raw := float64(p.base) * pow2(k)
		lower := time.Duration(raw * 0.75)
		upper := time.Duration(raw * 1.25)

		delay := p.nextDelay(k, rng)
		assert.GreaterOrEqualf(t, delay, lower, "k=%d delay=%v lower=%v", k, delay, lower)
		assert.LessOrEqualf(t, delay, upper, "k=%d delay=%v upper=%v", k, delay, upper)
	}
}

func TestBackoffNextDelayCapsAtMaxDelay(t *testing.T) {
	p := backoffParams{base: 60 * time.Second, maxDelay: 3600 * time.Second}
	rng := rand.New(rand.NewSource(1))

	// k=10 -> 60s * 2^10 = ~61440s, far past the 3600s cap even with -25%
	// jitter, so the result must be clamped to the cap.
	delay := p.nextDelay(10, rng)
	assert.LessOrEqual(t, delay, p.maxDelay)
}

func TestBackoffNextDelayNeverNegative(t *testing.T) {
	p := backoffParams{base: 1 * time.Millisecond, maxDelay: time.Hour}
	rng := rand.New(rand.NewSource(7))

	for k := 0; k < 3; k++ {
		delay := p.nextDelay(k, rng)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
	}
}

func TestDefaultAndTestBackoffParamsDiffer(t *testing.T) {
	def := defaultBackoffParams()
	test := testBackoffParams()

	require.Equal(t, 60*time.Second, def.base)
	require.Equal(t, 1*time.Second, test.base)
	require.Equal(t, def.maxDelay, test.maxDelay)
}

func pow2(k int) float64 {
	v := 1.0
	for i := 0; i < k; i++ {
		v *= 2
	}
	return v
}
