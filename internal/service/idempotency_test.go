package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIdempotencyUUIDIsDeterministic(t *testing.T) {
	tenant := uuid.New()

	a := idempotencyUUID(tenant, "order-123")
	b := idempotencyUUID(tenant, "order-123")

	assert.Equal(t, a, b, "same tenant+key must hash to the same id so a replayed request collides on the primary key")
}

func TestIdempotencyUUIDDiffersByKey(t *testing.T) {
	tenant := uuid.New()

	a := idempotencyUUID(tenant, "order-123")
	b := idempotencyUUID(tenant, "order-124")

	assert.NotEqual(t, a, b)
}

func TestIdempotencyUUIDDiffersByTenant(t *testing.T) {
	key := "order-123"

	a := idempotencyUUID(uuid.New(), key)
	b := idempotencyUUID(uuid.New(), key)

	assert.NotEqual(t, a, b, "the same idempotency key from two tenants must not collide")
}
