package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
)

func TestListModelsDeduplicated(t *testing.T) {
	f := newFixture(t, WithOwnedBy("Astra"))

	rec := f.do("GET", "/v1/models", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out modelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	seen := map[string]bool{}
	for _, m := range out.Data {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
		assert.Equal(t, "model", m.Object)
		assert.Equal(t, "Astra", m.OwnedBy)
		assert.Zero(t, m.Created)
	}
	assert.Len(t, out.Data, 7)
	assert.True(t, seen["gpt-3.5-turbo"])

	byID := map[string]modelEntry{}
	for _, m := range out.Data {
		byID[m.ID] = m
	}
	assert.Equal(t, 2.0, byID["double"].Multiplier)
	assert.Equal(t, 1.0, byID["beta-only"].Multiplier)
	assert.Equal(t, map[string]bool{"free": true, "premium": true, "enterprise": true}, byID["beta-only"].Restrictions)
	assert.False(t, byID["restricted-model"].Restrictions["free"])
}

func TestListModelsIgnoresBadCredential(t *testing.T) {
	f := newFixture(t)
	rec := f.do("GET", "/v1/models/", "sk-unknown", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do("GET", "/v2/anything", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, NotFoundMessage, decodeEnvelope(t, rec).Message)
}

func TestWrongMethod(t *testing.T) {
	f := newFixture(t)
	rec := f.do("GET", "/v1/chat/completions", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Error)
	assert.Equal(t, "Method not allowed", env.Message)
}

func TestFallbackHandlersClassifyErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, httptest.NewRequest("GET", "/nowhere", nil))
	assert.Equal(t, apierr.Status(apierr.ErrRouteNotFound), rec.Code)

	rec = httptest.NewRecorder()
	MethodNotAllowed(rec, httptest.NewRequest("PATCH", "/v1/models", nil))
	assert.Equal(t, apierr.Status(apierr.ErrMethodNotAllowed), rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do("GET", "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, Version, out["version"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestParseStreamBilling(t *testing.T) {
	b, err := ParseStreamBilling("")
	require.NoError(t, err)
	assert.Equal(t, BillPerChunk, b)

	b, err = ParseStreamBilling("per_request")
	require.NoError(t, err)
	assert.Equal(t, BillPerRequest, b)

	_, err = ParseStreamBilling("per_token")
	assert.Error(t, err)
}
