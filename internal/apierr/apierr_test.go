package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		public string
	}{
		{New(ErrInvalidAPIKey, "Invalid API key"), http.StatusUnauthorized, "Invalid API key"},
		{New(ErrMissingCredential, "Missing or invalid authorization header"), http.StatusUnauthorized, "Missing or invalid authorization header"},
		{New(ErrBanned, "User is banned"), http.StatusForbidden, "User is banned"},
		{New(ErrModelRestricted, "Your plan (free) doesn't have access to gpt-4"), http.StatusForbidden, "Your plan (free) doesn't have access to gpt-4"},
		{New(ErrQuotaExceeded, "Not enough credits"), http.StatusTooManyRequests, "Not enough credits"},
		{New(ErrRateLimited, "slow down"), http.StatusTooManyRequests, "slow down"},
		{New(ErrNoProvider, "No suitable provider found for the given request"), StatusGatewayFailure, InternalMessage},
		{Wrap(ErrUpstream, "provider g4f failed", errors.New("dial tcp: refused")), StatusGatewayFailure, InternalMessage},
		{errors.New("boom"), StatusGatewayFailure, InternalMessage},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, Status(tt.err))
			assert.Equal(t, tt.public, Public(tt.err))
		})
	}
}

func TestWrappedClassificationSurvives(t *testing.T) {
	err := fmt.Errorf("resolve account: %w", New(ErrInvalidAPIKey, "Invalid API key"))

	assert.Equal(t, http.StatusUnauthorized, Status(err))
	assert.Equal(t, "Invalid API key", Public(err))

	cause := errors.New("connection reset")
	wrapped := Wrap(ErrUpstream, "provider failed", cause)
	assert.ErrorIs(t, wrapped, ErrUpstream)
	assert.ErrorIs(t, wrapped, cause)
}

func TestWriteEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, New(ErrBanned, "User is banned"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["error"])
	assert.Equal(t, "User is banned", body["message"])
}
