package httpt

import (
	"testing"
	"time"

	"notifyrelay/internal/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCreateRequestTemplate(t *testing.T) {
	req := CreateNotificationRequest{
		EventType: "order.placed",
		Recipient: RecipientDTO{PhoneNumber: "+14155552671"},
		Template: &TemplateDTO{
			Name:     "order_confirmation",
			Language: "en",
			Parameters: []TemplateParameterDTO{
				{Type: "text", Value: "Ada"},
			},
		},
	}

	got, err := toCreateRequest(req)
	require.NoError(t, err)

	assert.Equal(t, "order.placed", got.EventType)
	assert.Equal(t, "+14155552671", got.RecipientPhone)
	assert.Equal(t, entity.PriorityNormal, got.Priority, "priority defaults to normal when omitted")
	require.NotNil(t, got.Payload.Template)
	assert.Equal(t, "order_confirmation", got.Payload.Template.Name)
	assert.Nil(t, got.Payload.Text)
}

func TestToCreateRequestText(t *testing.T) {
	req := CreateNotificationRequest{
		EventType: "order.placed",
		Recipient: RecipientDTO{PhoneNumber: "+14155552671"},
		Message:   &MessageDTO{Text: "Your order has shipped."},
		Priority:  "high",
	}

	got, err := toCreateRequest(req)
	require.NoError(t, err)

	require.NotNil(t, got.Payload.Text)
	assert.Equal(t, "Your order has shipped.", got.Payload.Text.Text)
	assert.Equal(t, entity.PriorityHigh, got.Priority)
}

func TestToCreateRequestRejectsBothTemplateAndMessage(t *testing.T) {
	req := CreateNotificationRequest{
		EventType: "order.placed",
		Recipient: RecipientDTO{PhoneNumber: "+14155552671"},
		Template:  &TemplateDTO{Name: "x", Language: "en"},
		Message:   &MessageDTO{Text: "hi"},
	}

	_, err := toCreateRequest(req)
	require.ErrorIs(t, err, entity.ErrInvalidPayload)
}

func TestToCreateRequestRejectsNeitherTemplateNorMessage(t *testing.T) {
	req := CreateNotificationRequest{
		EventType: "order.placed",
		Recipient: RecipientDTO{PhoneNumber: "+14155552671"},
	}

	_, err := toCreateRequest(req)
	require.ErrorIs(t, err, entity.ErrInvalidPayload)
}

func TestToCreateRequestRejectsMissingEventType(t *testing.T) {
	req := CreateNotificationRequest{
		Recipient: RecipientDTO{PhoneNumber: "+14155552671"},
		Message:   &MessageDTO{Text: "hi"},
	}

	_, err := toCreateRequest(req)
	require.Error(t, err)
}

func TestToCreateRequestPropagatesScheduleAndMetadata(t *testing.T) {
	future := time.Now().Add(2 * time.Minute)
	req := CreateNotificationRequest{
		EventType:    "order.placed",
		Recipient:    RecipientDTO{PhoneNumber: "+14155552671"},
		Message:      &MessageDTO{Text: "hi"},
		ScheduledFor: &future,
		Metadata:     map[string]any{"order_id": "abc-123"},
	}

	got, err := toCreateRequest(req)
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledFor)
	assert.True(t, got.ScheduledFor.Equal(future))
	assert.Contains(t, string(got.Metadata), "abc-123")
}

func TestNewNotificationStatusResponse(t *testing.T) {
	id := uuid.New()
	providerID := "wamid.X"
	n := &entity.Notification{
		ID:                id,
		EventType:         "order.placed",
		RecipientPhone:    "+14155552671",
		Status:            entity.StatusSent,
		ProviderMessageID: &providerID,
		AttemptNumber:     1,
		MaxAttempts:       5,
		CreatedAt:         time.Unix(1700000000, 0).UTC(),
		UpdatedAt:         time.Unix(1700000010, 0).UTC(),
	}
	logs := []entity.DeliveryLog{
		{AttemptOrdinal: 1, State: entity.StatusSent, ProviderMessageID: &providerID, CreatedAt: n.UpdatedAt},
	}

	resp := newNotificationStatusResponse(n, logs)

	assert.Equal(t, id.String(), resp.ID)
	assert.Equal(t, "sent", resp.Status)
	require.NotNil(t, resp.ProviderMessageID)
	assert.Equal(t, providerID, *resp.ProviderMessageID)
	require.Len(t, resp.DeliveryLogs, 1)
	assert.Equal(t, "sent", resp.DeliveryLogs[0].State)
}

func TestNewNotificationStatusResponseWithNoLogs(t *testing.T) {
	n := &entity.Notification{ID: uuid.New(), Status: entity.StatusQueued}

	resp := newNotificationStatusResponse(n, nil)

	assert.Empty(t, resp.DeliveryLogs)
	assert.Equal(t, "queued", resp.Status)
}
