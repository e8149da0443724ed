package httpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	l := newTenantRateLimiter(5) // 5/minute, burst = 5

	for i := 0; i < 5; i++ {
		assert.True(t, l.allow("tenant-a"), "burst request %d should be admitted", i+1)
	}
	assert.False(t, l.allow("tenant-a"), "6th immediate request should be throttled")
}

func TestTenantRateLimiterTracksTenantsIndependently(t *testing.T) {
	l := newTenantRateLimiter(1)

	assert.True(t, l.allow("tenant-a"))
	assert.False(t, l.allow("tenant-a"))
	assert.True(t, l.allow("tenant-b"), "a different tenant must have its own bucket")
}
