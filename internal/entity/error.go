package entity

import "errors"

var (
	ErrDataNotFound     = errors.New("data not found")
	ErrConflictingData  = errors.New("conflicting data")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidPayload   = errors.New("exactly one of template or message must be set")
	ErrInvalidPhone     = errors.New("recipient phone must be E.164")
	ErrIllegalTransition = errors.New("illegal status transition")

	ErrNotificationNotFound = errors.New("notification not found")
	ErrRateLimited           = errors.New("recipient rate limit exceeded")
	ErrTenantNotFound        = errors.New("tenant not found")
	ErrInvalidAPIKey         = errors.New("invalid or missing api key")
	ErrBatchTooLarge         = errors.New("batch exceeds maximum size")
	ErrEmptyBatch            = errors.New("batch cannot be empty")
	ErrForbidden             = errors.New("cross-tenant access forbidden")
)
