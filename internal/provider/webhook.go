package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// StatusCallback is the inbound delivery-status payload shape the
// Cloud API posts to the webhook endpoint (spec.md §4.C10).
type StatusCallback struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID          string `json:"id"`
					Status      string `json:"status"`
					Timestamp   string `json:"timestamp"`
					RecipientID string `json:"recipient_id"`
					Errors      []struct {
						Code  int    `json:"code"`
						Title string `json:"title"`
					} `json:"errors,omitempty"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// StatusEvent flattens StatusCallback into the per-message events C10
// feeds to the notification state machine.
type StatusEvent struct {
	ProviderMessageID string
	Status            string
	Timestamp         time.Time
	ErrorCode          *int
	ErrorTitle         *string
}

func ParseStatusCallback(body []byte) ([]StatusEvent, error) {
	var cb StatusCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("provider.ParseStatusCallback: %w", err)
	}

	var events []StatusEvent
	for _, entry := range cb.Entry {
		for _, change := range entry.Changes {
			for _, s := range change.Value.Statuses {
				ev := StatusEvent{ProviderMessageID: s.ID, Status: s.Status}
				if secs, err := strconv.ParseInt(s.Timestamp, 10, 64); err == nil {
					ev.Timestamp = time.Unix(secs, 0).UTC()
				}
				if len(s.Errors) > 0 {
					code := s.Errors[0].Code
					title := s.Errors[0].Title
					ev.ErrorCode = &code
					ev.ErrorTitle = &title
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

// VerifySignature checks the X-Hub-Signature-256 header the Cloud API
// attaches to webhook deliveries, HMAC-SHA256 over the raw body keyed
// by the app secret.
func VerifySignature(appSecret string, body []byte, signatureHeader string) bool {
	const prefix = "sha256="
	if len(signatureHeader) <= len(prefix) || signatureHeader[:len(prefix)] != prefix {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader[len(prefix):]))
}
