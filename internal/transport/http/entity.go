package httpt

import (
	"time"

	"notifyrelay/internal/entity"
)

// swagger:model RecipientDTO
type RecipientDTO struct {
	PhoneNumber string  `json:"phone_number" validate:"required" example:"+15551234567"`
	CountryCode *string `json:"country_code,omitempty" example:"US"`
}

// swagger:model TemplateParameterDTO
type TemplateParameterDTO struct {
	Type  string `json:"type" example:"text"`
	Value string `json:"value" example:"Ada"`
}

// swagger:model TemplateDTO
type TemplateDTO struct {
	Name       string                 `json:"name" example:"order_confirmation"`
	Language   string                 `json:"language" example:"en"`
	Parameters []TemplateParameterDTO `json:"parameters,omitempty"`
}

// swagger:model MessageDTO
type MessageDTO struct {
	Text string `json:"text" example:"Your order has shipped."`
}

// swagger:model CreateNotificationRequest
type CreateNotificationRequest struct {
	EventType    string          `json:"event_type" validate:"required,min=1,max=100" example:"order.shipped"`
	Recipient    RecipientDTO    `json:"recipient" validate:"required"`
	Template     *TemplateDTO    `json:"template,omitempty"`
	Message      *MessageDTO     `json:"message,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Priority     string          `json:"priority,omitempty" example:"normal"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// swagger:model BulkCreateRequest
type BulkCreateRequest struct {
	Notifications []CreateNotificationRequest `json:"notifications" validate:"required,min=1,max=100"`
}

// swagger:model CreateNotificationResponse
type CreateNotificationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// swagger:model BulkEntryResponse
type BulkEntryResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// swagger:model DeliveryLogResponse
type DeliveryLogResponse struct {
	AttemptOrdinal    int        `json:"attempt_ordinal"`
	State             string     `json:"state"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	ErrorCode         *string    `json:"error_code,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	LatencyMs         *int64     `json:"latency_ms,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// swagger:model NotificationStatusResponse
type NotificationStatusResponse struct {
	ID                string                `json:"id"`
	EventType         string                `json:"event_type"`
	RecipientPhone    string                `json:"recipient_phone"`
	Status            string                `json:"status"`
	ProviderMessageID *string               `json:"provider_message_id,omitempty"`
	AttemptNumber     int                   `json:"attempt_number"`
	MaxAttempts       int                   `json:"max_attempts"`
	LastErrorCode     *string               `json:"last_error_code,omitempty"`
	LastErrorMessage  *string               `json:"last_error_message,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
	SentAt            *time.Time            `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time            `json:"delivered_at,omitempty"`
	ReadAt            *time.Time            `json:"read_at,omitempty"`
	DeliveryLogs      []DeliveryLogResponse `json:"delivery_logs"`
}

func newNotificationStatusResponse(n *entity.Notification, logs []entity.DeliveryLog) NotificationStatusResponse {
	resp := NotificationStatusResponse{
		ID:                n.ID.String(),
		EventType:         n.EventType,
		RecipientPhone:    n.RecipientPhone,
		Status:            n.Status.String(),
		ProviderMessageID: n.ProviderMessageID,
		AttemptNumber:     n.AttemptNumber,
		MaxAttempts:       n.MaxAttempts,
		LastErrorCode:     n.LastErrorCode,
		LastErrorMessage:  n.LastErrorMessage,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
		SentAt:            n.SentAt,
		DeliveredAt:       n.DeliveredAt,
		ReadAt:            n.ReadAt,
	}
	for _, l := range logs {
		resp.DeliveryLogs = append(resp.DeliveryLogs, DeliveryLogResponse{
			AttemptOrdinal:    l.AttemptOrdinal,
			State:             l.State.String(),
			ProviderMessageID: l.ProviderMessageID,
			ErrorCode:         l.ErrorCode,
			ErrorMessage:      l.ErrorMessage,
			LatencyMs:         l.LatencyMs,
			CreatedAt:         l.CreatedAt,
		})
	}
	return resp
}

// swagger:model NotificationListItem
type NotificationListItem struct {
	ID             string    `json:"id"`
	EventType      string    `json:"event_type"`
	RecipientPhone string    `json:"recipient_phone"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// swagger:model StatsResponse
type StatsResponse struct {
	Total        int64   `json:"total"`
	Sent         int64   `json:"sent"`
	Failed       int64   `json:"failed"`
	Delivered    int64   `json:"delivered"`
	Read         int64   `json:"read"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// swagger:model ErrorResponse
type ErrorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// swagger:model HealthResponse
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
