// Package provider implements C4, the outbound WhatsApp Cloud API
// client. No WhatsApp/Meta Graph API SDK appears anywhere in the
// retrieved examples, so the transport is hand-rolled against the
// documented REST contract, the same way the teacher hand-rolls its
// own Telegram/SMTP senders rather than importing a higher-level
// client for those.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"notifyrelay/internal/entity"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// TransientError marks provider failures a retry can plausibly fix
// (5xx, network errors, rate limiting from the provider itself).
type TransientError struct {
	Code    string
	Message string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("whatsapp: transient error %s: %s", e.Code, e.Message)
}

// PermanentError marks failures a retry cannot fix (invalid recipient,
// template rejected, auth failure). spec.md §4.C7 routes these straight
// to StatusFailed with no further retry scheduling.
type PermanentError struct {
	Code    string
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("whatsapp: permanent error %s: %s", e.Code, e.Message)
}

const graphAPIVersion = "v19.0"

// transientProviderCodes are Graph API error codes classified as
// retryable regardless of the HTTP status they arrive under (spec.md
// §4.C4): 1 = unknown API error, 2 = service temporarily unavailable,
// 4 = application request limit reached, 80007 = rate limit hit.
var transientProviderCodes = map[int]bool{
	1:     true,
	2:     true,
	4:     true,
	80007: true,
}

type Config struct {
	BaseURL         string
	PhoneNumberID   string
	AccessToken     string
	Timeout         time.Duration
	RequestsPerSec  float64
	BurstSize       int
	BreakerName     string
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
}

// Client sends individual notifications to the Cloud API, wrapped in a
// circuit breaker (spec.md §4.C4's "stop hammering a provider in
// sustained outage" requirement) and a client-side token bucket that
// throttles bursts independently of C2's per-recipient admission
// limiter.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	baseURL    string
	phoneID    string
	token      string
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/" + graphAPIVersion
	}

	breakerSettings := gobreaker.Settings{
		Name:     cfg.BreakerName,
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(breakerSettings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.BurstSize),
		baseURL: baseURL,
		phoneID: cfg.PhoneNumberID,
		token:   cfg.AccessToken,
	}
}

type sendRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         *templateBody   `json:"template,omitempty"`
	Text             *textBody       `json:"text,omitempty"`
}

type templateBody struct {
	Name       string               `json:"name"`
	Language   languageBody         `json:"language"`
	Components []templateComponent  `json:"components,omitempty"`
}

type languageBody struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

func buildRequest(recipient string, payload entity.Payload) sendRequest {
	req := sendRequest{MessagingProduct: "whatsapp", To: recipient}

	switch {
	case payload.Template != nil:
		req.Type = "template"
		components := []templateComponent{}
		if len(payload.Template.Parameters) > 0 {
			params := make([]templateParameter, 0, len(payload.Template.Parameters))
			for _, p := range payload.Template.Parameters {
				params = append(params, templateParameter{Type: string(p.Type), Text: p.Value})
			}
			components = append(components, templateComponent{Type: "body", Parameters: params})
		}
		req.Template = &templateBody{
			Name:       payload.Template.Name,
			Language:   languageBody{Code: payload.Template.Language},
			Components: components,
		}
	case payload.Text != nil:
		req.Type = "text"
		req.Text = &textBody{Body: payload.Text.Text}
	}

	return req
}

// Send dispatches a single notification and returns the provider's
// message id on success. Errors are classified into TransientError or
// PermanentError so C7 knows whether to schedule a retry.
func (c *Client) Send(ctx context.Context, recipient string, payload entity.Payload) (string, error) {
	const op = "provider.Client.Send"

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doSend(ctx, recipient, payload)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", &TransientError{Code: "circuit_open", Message: err.Error()}
		}
		return "", err
	}

	return result.(string), nil
}

func (c *Client) doSend(ctx context.Context, recipient string, payload entity.Payload) (string, error) {
	const op = "provider.Client.doSend"

	body, err := json.Marshal(buildRequest(recipient, payload))
	if err != nil {
		return "", fmt.Errorf("%s: marshal: %w", op, err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &TransientError{Code: "network", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Code: "read_body", Message: err.Error()}
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &TransientError{Code: "malformed_response", Message: err.Error()}
	}

	if resp.StatusCode >= 500 {
		return "", &TransientError{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: string(respBody)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &TransientError{Code: "provider_rate_limited", Message: string(respBody)}
	}
	if resp.StatusCode == http.StatusRequestTimeout {
		return "", &TransientError{Code: "http_408", Message: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		msg := string(respBody)
		code := fmt.Sprintf("http_%d", resp.StatusCode)
		if parsed.Error != nil {
			msg = parsed.Error.Message
			code = fmt.Sprintf("%d", parsed.Error.Code)
			if transientProviderCodes[parsed.Error.Code] {
				return "", &TransientError{Code: code, Message: msg}
			}
		}
		return "", &PermanentError{Code: code, Message: msg}
	}

	if len(parsed.Messages) == 0 {
		return "", &TransientError{Code: "empty_response", Message: "no message id returned"}
	}

	return parsed.Messages[0].ID, nil
}
