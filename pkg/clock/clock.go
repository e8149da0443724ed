// Package clock abstracts wall-clock time and identifier generation so
// the dispatch pipeline (C11 in the component table) can be driven
// deterministically in tests.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the time source the services consult for "now": ingestion
// and reconciliation timestamps, rate-limit window alignment, backoff
// deadlines, terminal timestamps. The schedulers' sweeps read
// time.Now directly.
type Clock interface {
	Now() time.Time
}

type real struct{}

func (real) Now() time.Time { return time.Now().UTC() }

// Real returns the system clock.
func Real() Clock { return real{} }

// Frozen is a Clock stub for tests: it always returns the same instant
// until Advance is called.
type Frozen struct {
	t time.Time
}

func NewFrozen(t time.Time) *Frozen { return &Frozen{t: t.UTC()} }

func (f *Frozen) Now() time.Time { return f.t }

func (f *Frozen) Advance(d time.Duration) { f.t = f.t.Add(d) }

// IDs generates notification and trace identifiers (delivery-log ids
// are plain uuid.New values generated at the call site).
// Kept as an interface (rather than calling uuid.NewV7 inline) so tests
// can substitute deterministic sequences.
type IDs interface {
	NewID() uuid.UUID
	NewTraceID() string
}

type realIDs struct{}

func (realIDs) NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func (realIDs) NewTraceID() string { return uuid.NewString() }

// RealIDs returns the production identifier source: time-ordered v7
// UUIDs for notification ids, as the teacher's repository already
// generates, and random v4 UUID strings for trace ids.
func RealIDs() IDs { return realIDs{} }
