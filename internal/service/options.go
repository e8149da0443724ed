package service

import (
	"context"
	"fmt"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/pkg/clock"
)

// Option configures IngestService/Processor construction, following the
// teacher's functional-options pattern (internal/service/options.go).
type Option func(*options)

// EscalationSender is the narrow contract the Processor's terminal-
// failure path calls into, satisfied by internal/notifychan's email
// sender. Kept nil by default so the optional, off-by-default
// escalation channel never runs unless explicitly wired.
type EscalationSender interface {
	Send(ctx context.Context, n entity.Notification) error
}

type options struct {
	defaultRateLimitPerHour int
	maxBulkSize             int
	backoff                 backoffParams
	clock                   clock.Clock
	ids                     clock.IDs
	reconcileGrace          time.Duration
	escalation              EscalationSender
}

func defaultOptions() options {
	return options{
		defaultRateLimitPerHour: 1000,
		maxBulkSize:             100,
		backoff:                 defaultBackoffParams(),
		clock:                   clock.Real(),
		ids:                     clock.RealIDs(),
		reconcileGrace:          5 * time.Minute,
	}
}

func WithDefaultRateLimitPerHour(n int) Option {
	return func(o *options) { o.defaultRateLimitPerHour = n }
}

func WithMaxBulkSize(n int) Option {
	return func(o *options) { o.maxBulkSize = n }
}

func WithTestBackoff() Option {
	return func(o *options) { o.backoff = testBackoffParams() }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithIDs(ids clock.IDs) Option {
	return func(o *options) { o.ids = ids }
}

func WithReconcileGrace(d time.Duration) Option {
	return func(o *options) { o.reconcileGrace = d }
}

func WithEscalationSender(s EscalationSender) Option {
	return func(o *options) { o.escalation = s }
}

func (o options) validate() error {
	if o.defaultRateLimitPerHour <= 0 {
		return fmt.Errorf("service: defaultRateLimitPerHour must be > 0")
	}
	if o.maxBulkSize <= 0 || o.maxBulkSize > 100 {
		return fmt.Errorf("service: maxBulkSize must be in (0, 100]")
	}
	return nil
}
