package service

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// idempotencyUUID deterministically derives a notification id from a
// tenant-scoped Idempotency-Key header (spec.md §4.C5's "implementers
// may realize this by hashing the key into the notification id" note).
// Hashing rather than a random v7 id lets a replayed request collide on
// the same primary key instead of requiring a separate lookup table.
func idempotencyUUID(tenantID uuid.UUID, key string) uuid.UUID {
	sum := sha256.Sum256([]byte(tenantID.String() + ":" + key))
	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x50 // version 5-shaped, marks it as derived rather than time-ordered
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}
