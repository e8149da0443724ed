package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureValid(t *testing.T) {
	body := []byte(`{"entry":[]}`)
	secret := "app-secret"

	assert.True(t, VerifySignature(secret, body, sign(secret, body)))
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"entry":[]}`)

	assert.False(t, VerifySignature("app-secret", body, sign("other-secret", body)))
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	secret := "app-secret"
	sig := sign(secret, []byte(`{"entry":[]}`))

	assert.False(t, VerifySignature(secret, []byte(`{"entry":[{"tampered":true}]}`), sig))
}

func TestVerifySignatureRejectsMissingPrefix(t *testing.T) {
	assert.False(t, VerifySignature("secret", []byte("body"), "deadbeef"))
}

func TestVerifySignatureRejectsEmptyHeader(t *testing.T) {
	assert.False(t, VerifySignature("secret", []byte("body"), ""))
}

func TestParseStatusCallback(t *testing.T) {
	body := []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"statuses": [
						{"id": "wamid.A", "status": "delivered", "timestamp": "1700000000", "recipient_id": "14155552671"},
						{"id": "wamid.B", "status": "failed", "timestamp": "1700000001", "errors": [{"code": 131026, "title": "Invalid parameter"}]}
					]
				}
			}]
		}]
	}`)

	events, err := ParseStatusCallback(body)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "wamid.A", events[0].ProviderMessageID)
	assert.Equal(t, "delivered", events[0].Status)
	assert.Nil(t, events[0].ErrorCode)

	assert.Equal(t, "wamid.B", events[1].ProviderMessageID)
	assert.Equal(t, "failed", events[1].Status)
	require.NotNil(t, events[1].ErrorCode)
	assert.Equal(t, 131026, *events[1].ErrorCode)
	require.NotNil(t, events[1].ErrorTitle)
	assert.Equal(t, "Invalid parameter", *events[1].ErrorTitle)
}

func TestParseStatusCallbackMalformed(t *testing.T) {
	_, err := ParseStatusCallback([]byte(`not json`))
	require.Error(t, err)
}

func TestParseStatusCallbackEmpty(t *testing.T) {
	events, err := ParseStatusCallback([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}
