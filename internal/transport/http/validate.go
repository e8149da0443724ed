package httpt

import (
	"encoding/json"
	"fmt"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/service"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// toCreateRequest converts the wire DTO into the service-layer request,
// enforcing the "exactly one of template or message" rule from
// spec.md §6 after the struct-tag validation pass.
func toCreateRequest(req CreateNotificationRequest) (service.CreateRequest, error) {
	if err := validate.Struct(req); err != nil {
		return service.CreateRequest{}, fmt.Errorf("%w: %s", entity.ErrInvalidData, err.Error())
	}

	hasTemplate := req.Template != nil
	hasMessage := req.Message != nil
	if hasTemplate == hasMessage {
		return service.CreateRequest{}, entity.ErrInvalidPayload
	}

	payload := entity.Payload{}
	if hasTemplate {
		params := make([]entity.TemplateParameter, 0, len(req.Template.Parameters))
		for _, p := range req.Template.Parameters {
			params = append(params, entity.TemplateParameter{
				Type:  entity.TemplateParameterType(p.Type),
				Value: p.Value,
			})
		}
		payload.Template = &entity.TemplatePayload{
			Name:       req.Template.Name,
			Language:   req.Template.Language,
			Parameters: params,
		}
	} else {
		payload.Text = &entity.TextPayload{Text: req.Message.Text}
	}

	priority := entity.Priority(req.Priority)
	if priority == "" {
		priority = entity.PriorityNormal
	}

	var metadata json.RawMessage
	if req.Metadata != nil {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return service.CreateRequest{}, fmt.Errorf("%w: metadata: %s", entity.ErrInvalidData, err.Error())
		}
		metadata = b
	}

	return service.CreateRequest{
		EventType:      req.EventType,
		RecipientPhone: req.Recipient.PhoneNumber,
		CountryCode:    req.Recipient.CountryCode,
		Payload:        payload,
		Metadata:       metadata,
		Priority:       priority,
		ScheduledFor:   req.ScheduledFor,
	}, nil
}
