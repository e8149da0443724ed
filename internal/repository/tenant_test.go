package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashAPIKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, HashAPIKey("secret-key"), HashAPIKey("secret-key"))
}

func TestHashAPIKeyDiffersByInput(t *testing.T) {
	assert.NotEqual(t, HashAPIKey("secret-key"), HashAPIKey("other-key"))
}

func TestHashAPIKeyNeverStoresCleartext(t *testing.T) {
	raw := "sk_live_abcdef123456"
	hashed := HashAPIKey(raw)

	assert.NotEqual(t, raw, hashed)
	assert.Len(t, hashed, 64, "sha256 hex digest is 64 characters")
}
