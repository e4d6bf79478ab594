package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrelay/keyrelay/internal/core"
)

func TestHTTPStatusFromCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidationFailed, http.StatusBadRequest},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeExternalService, http.StatusBadGateway},
		{CodeServiceUnavailable, http.StatusServiceUnavailable},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeDatabase, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusFromCode(tt.code))
		})
	}
}

func TestFromDomainErrorMapsSentinels(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		err  error
		code string
	}{
		{core.ErrOwnerRequired, CodeValidationFailed},
		{fmt.Errorf("issue: %w", core.ErrRateLimited), CodeRateLimited},
		{core.ErrUnauthorizedCredential, CodeUnauthorized},
		{core.ErrCredentialNotFound, CodeNotFound},
		{fmt.Errorf("dial: %w", core.ErrUpstreamUnavailable), CodeExternalService},
		{core.ErrDuplicateCredentialKey, CodeDatabase},
		{fmt.Errorf("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			envelope := FromDomainError(ctx, tt.err)
			require.NotNil(t, envelope)
			assert.Equal(t, tt.code, envelope.Code)
			assert.NotEmpty(t, envelope.CorrelationID)
		})
	}
}

func TestFromDomainErrorKeepsExistingEnvelope(t *testing.T) {
	original := NewConfigInvalidError("bad config")
	assert.Same(t, original, FromDomainError(context.Background(), fmt.Errorf("load: %w", original)))
}

func TestRespondWithResultHidesContext(t *testing.T) {
	envelope := WrapExternalService(context.Background(), fmt.Errorf("dial tcp 10.0.0.1:443: refused"), "upstream query failed")

	rec := httptest.NewRecorder()
	RespondWithResult(rec, httptest.NewRequest(http.MethodGet, "/ahmet/adsoyad", nil), envelope)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")

	var body ResultResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.OK)
	assert.Equal(t, "upstream query failed", body.Message)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRespondWithErrorNormalizesPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("secret detail"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret detail")

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestWrapConfigInvalid(t *testing.T) {
	envelope := WrapConfigInvalid(context.Background(), fmt.Errorf("yaml: line 3"), "config reload failed")
	assert.Equal(t, CodeConfigInvalid, envelope.Code)
	assert.Equal(t, "yaml: line 3", envelope.Context["wrapped_error"])
}
