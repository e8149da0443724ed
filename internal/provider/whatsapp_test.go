package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"notifyrelay/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestTemplate(t *testing.T) {
	payload := entity.Payload{
		Template: &entity.TemplatePayload{
			Name:     "order_confirmation",
			Language: "en",
			Parameters: []entity.TemplateParameter{
				{Type: entity.ParamText, Value: "Ada"},
			},
		},
	}

	req := buildRequest("+14155552671", payload)

	assert.Equal(t, "whatsapp", req.MessagingProduct)
	assert.Equal(t, "+14155552671", req.To)
	assert.Equal(t, "template", req.Type)
	require.NotNil(t, req.Template)
	assert.Equal(t, "order_confirmation", req.Template.Name)
	assert.Equal(t, "en", req.Template.Language.Code)
	require.Len(t, req.Template.Components, 1)
	require.Len(t, req.Template.Components[0].Parameters, 1)
	assert.Equal(t, "Ada", req.Template.Components[0].Parameters[0].Text)
	assert.Nil(t, req.Text)
}

func TestBuildRequestText(t *testing.T) {
	payload := entity.Payload{Text: &entity.TextPayload{Text: "Your order has shipped."}}

	req := buildRequest("+14155552671", payload)

	assert.Equal(t, "text", req.Type)
	require.NotNil(t, req.Text)
	assert.Equal(t, "Your order has shipped.", req.Text.Body)
	assert.Nil(t, req.Template)
}

func TestBuildRequestTemplateWithoutParameters(t *testing.T) {
	payload := entity.Payload{Template: &entity.TemplatePayload{Name: "welcome", Language: "en"}}

	req := buildRequest("+14155552671", payload)

	require.NotNil(t, req.Template)
	assert.Empty(t, req.Template.Components)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := NewClient(Config{
		BaseURL:         srv.URL,
		PhoneNumberID:   "1234567890",
		AccessToken:     "test-token",
		RequestsPerSec:  1000,
		BurstSize:       1000,
		BreakerName:     "test",
		BreakerInterval: time.Minute,
		BreakerTimeout:  time.Minute,
	})
	return c, srv
}

func TestClientSendSuccess(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(sendResponse{Messages: []struct {
			ID string `json:"id"`
		}{{ID: "wamid.X"}}})
	})
	defer srv.Close()

	id, err := c.Send(context.Background(), "+14155552671", entity.Payload{Text: &entity.TextPayload{Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "wamid.X", id)
}

func TestClientSendServerErrorIsTransient(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	_, err := c.Send(context.Background(), "+14155552671", entity.Payload{Text: &entity.TextPayload{Text: "hi"}})
	require.Error(t, err)

	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestClientSendTooManyRequestsIsTransient(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{}`))
	})
	defer srv.Close()

	_, err := c.Send(context.Background(), "+14155552671", entity.Payload{Text: &entity.TextPayload{Text: "hi"}})

	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestClientSendInvalidRecipientIsPermanent(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(sendResponse{Error: &apiError{
			Message: "Invalid parameter",
			Code:    131026,
		}})
	})
	defer srv.Close()

	_, err := c.Send(context.Background(), "+14155552671", entity.Payload{Text: &entity.TextPayload{Text: "hi"}})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "131026", perm.Code)
}

// TestClientSendKnownTransientProviderCodeOverridesHTTPStatus covers
// spec.md §4.C4's "known transient provider codes {1, 2, 4, 80007}"
// rule: the Graph API sometimes reports these under a 4xx status, and
// the code, not the HTTP status, decides retryability.
func TestClientSendKnownTransientProviderCodeOverridesHTTPStatus(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(sendResponse{Error: &apiError{
			Message: "Rate limit hit",
			Code:    80007,
		}})
	})
	defer srv.Close()

	_, err := c.Send(context.Background(), "+14155552671", entity.Payload{Text: &entity.TextPayload{Text: "hi"}})

	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "80007", transient.Code)
}

func TestClientSendEmptyMessagesIsTransient(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sendResponse{})
	})
	defer srv.Close()

	_, err := c.Send(context.Background(), "+14155552671", entity.Payload{Text: &entity.TextPayload{Text: "hi"}})

	var transient *TransientError
	assert.ErrorAs(t, err, &transient)
}
