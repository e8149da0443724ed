package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority orders a notification for operator-facing views; it does not
// affect dispatch ordering on a non-FIFO queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status is the delivery state machine tag. Transitions are enforced by
// AllowedPredecessors, consulted by the repository's compare-and-set
// UPDATE ... WHERE status IN (...) clauses.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusQueued      Status = "queued"
	StatusProcessing  Status = "processing"
	StatusSent        Status = "sent"
	StatusFailed      Status = "failed"
	StatusRateLimited Status = "rate_limited"
	StatusDelivered   Status = "delivered"
	StatusRead        Status = "read"
)

func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusRead
}

func (s Status) String() string { return string(s) }

// AllowedPredecessors lists the statuses a row must currently hold for a
// transition into target to be legal. An empty/initial target (scheduled,
// queued at creation time) has no predecessor requirement and is not
// listed here; it is produced only by NotifyRepository.Create.
// Delivered/read/failed accept StatusProcessing and also StatusSent and
// StatusDelivered (read and delivered additionally accept themselves;
// none of the three accepts read or failed) because they can arrive via an inbound
// provider callback, which races independently of this process's own
// send path and may be observed out of order (spec.md §5's "callbacks
// may arrive out of order" note).
var AllowedPredecessors = map[Status][]Status{
	StatusQueued:      {StatusScheduled, StatusFailed},
	StatusProcessing:  {StatusQueued, StatusFailed, StatusScheduled, StatusProcessing, StatusRateLimited},
	StatusSent:        {StatusProcessing},
	StatusFailed:      {StatusProcessing, StatusSent, StatusDelivered},
	StatusRateLimited: {StatusProcessing},
	StatusDelivered:   {StatusProcessing, StatusSent, StatusDelivered},
	StatusRead:        {StatusProcessing, StatusSent, StatusDelivered, StatusRead},
}

// TemplateParameterType enumerates the WhatsApp template parameter kinds
// this relay understands.
type TemplateParameterType string

const (
	ParamText      TemplateParameterType = "text"
	ParamCurrency  TemplateParameterType = "currency"
	ParamDateTime  TemplateParameterType = "date_time"
)

type TemplateParameter struct {
	Type  TemplateParameterType `json:"type"`
	Value string                `json:"value"`
}

type TemplatePayload struct {
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TextPayload struct {
	Text string `json:"text"`
}

// Payload is a discriminated union over {TemplatePayload, TextPayload}.
// Exactly one of Template or Text must be set; Validate enforces this.
type Payload struct {
	Template *TemplatePayload `json:"template,omitempty"`
	Text     *TextPayload     `json:"message,omitempty"`
}

func (p Payload) Validate() error {
	hasTemplate := p.Template != nil
	hasText := p.Text != nil
	if hasTemplate == hasText {
		return ErrInvalidPayload
	}
	if hasText && (len(p.Text.Text) == 0 || len(p.Text.Text) > 4096) {
		return ErrInvalidPayload
	}
	if hasTemplate {
		if p.Template.Name == "" || len(p.Template.Language) != 2 {
			return ErrInvalidPayload
		}
	}
	return nil
}

// Notification is the durable record described by spec.md §3.
type Notification struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	EventType       string    `json:"event_type"`
	RecipientPhone  string    `json:"recipient_phone"`
	CountryCode     *string   `json:"country_code,omitempty"`
	Payload         Payload   `json:"payload"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Priority        Priority  `json:"priority"`
	Status          Status    `json:"status"`
	ProviderMessageID *string `json:"provider_message_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	AttemptNumber int        `json:"attempt_number"`
	MaxAttempts   int        `json:"max_attempts"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`

	LastErrorCode    *string `json:"last_error_code,omitempty"`
	LastErrorMessage *string `json:"last_error_message,omitempty"`

	TraceID         string  `json:"trace_id"`
	IdempotencyKey  *string `json:"idempotency_key,omitempty"`
}

const DefaultMaxAttempts = 5

// DeliveryLog is the append-only audit row per attempt (spec.md §3).
type DeliveryLog struct {
	ID                uuid.UUID       `json:"id"`
	NotificationID    uuid.UUID       `json:"notification_id"`
	AttemptOrdinal    int             `json:"attempt_ordinal"`
	State             Status          `json:"state"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	ErrorCode         *string         `json:"error_code,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	LatencyMs         *int64          `json:"latency_ms,omitempty"`
	RawResponse       json.RawMessage `json:"raw_response,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// RateLimitWindow is an hour-aligned per-recipient admission bucket
// (spec.md §3, §4.C2).
type RateLimitWindow struct {
	Recipient    string    `json:"recipient"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	MessageCount int       `json:"message_count"`
}

// WorkItem is the transient payload carried on the queue (spec.md §3).
type WorkItem struct {
	NotificationID uuid.UUID `json:"notification_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	TraceID        string    `json:"trace_id"`
	EventType      string    `json:"event_type"`
	RecipientPhone string    `json:"recipient_phone"`
	Payload        Payload   `json:"payload"`
	AttemptNumber  int       `json:"attempt_number"`
	MaxAttempts    int       `json:"max_attempts"`
}

func (w WorkItem) DedupID() string  { return w.NotificationID.String() }
func (w WorkItem) GroupID() string  { return w.RecipientPhone }
