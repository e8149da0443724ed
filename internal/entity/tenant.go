package entity

import (
	"time"

	"github.com/google/uuid"
)

// Tenant resolves Open Question 2 from spec.md §9: API keys map to a
// distinct tenant rather than being used as the tenant identifier
// directly.
type Tenant struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	RateLimitPerHour   int       `json:"rate_limit_per_hour"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	CreatedAt          time.Time `json:"created_at"`
}

// APIKey maps a bearer credential to a tenant. Only the hash is
// persisted.
type APIKey struct {
	KeyHash   string    `json:"key_hash"`
	TenantID  uuid.UUID `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}
