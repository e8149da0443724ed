package httpt

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/logger"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewZapAdapter("notifyrelay-test", "test")
	require.NoError(t, err)

	return &Handler{
		rateLimit: &repository.RateLimitRepository{},
		log:       log,
	}
}

func doHandleServiceError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/notifications", nil)

	h.handleServiceError(c, "test.op", err)
	return w
}

func TestHandleServiceErrorValidation(t *testing.T) {
	w := doHandleServiceError(t, entity.ErrInvalidPayload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleServiceErrorUnauthorized(t *testing.T) {
	w := doHandleServiceError(t, entity.ErrInvalidAPIKey)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleServiceErrorForbidden(t *testing.T) {
	w := doHandleServiceError(t, entity.ErrForbidden)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleServiceErrorNotFound(t *testing.T) {
	w := doHandleServiceError(t, entity.ErrNotificationNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleServiceErrorConflict(t *testing.T) {
	w := doHandleServiceError(t, entity.ErrConflictingData)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleServiceErrorRateLimitedSetsRetryAfterHeader(t *testing.T) {
	w := doHandleServiceError(t, entity.ErrRateLimited)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestHandleServiceErrorDefaultsToInternal(t *testing.T) {
	w := doHandleServiceError(t, assertUnknownErr)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
	assert.NotContains(t, w.Body.String(), assertUnknownErr.Error(), "internal error details must not leak to the caller")
}

var assertUnknownErr = &customError{"some unexpected wrapped database failure"}

type customError struct{ msg string }

func (e *customError) Error() string { return e.msg }
