package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareEmptyTokenAllowsAll(t *testing.T) {
	h := AuthMiddleware("")(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/executions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareQueryToken(t *testing.T) {
	h := AuthMiddleware("secret")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/executions?token=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/executions?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareBearerToken(t *testing.T) {
	h := AuthMiddleware("secret")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/executions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/executions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Non-bearer schemes are rejected outright.
	req = httptest.NewRequest(http.MethodGet, "/v1/executions", nil)
	req.Header.Set("Authorization", "Basic secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func testAPIServer() *Server {
	return &Server{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func previewRequest(t *testing.T, body string) cronPreviewResponse {
	t.Helper()
	s := testAPIServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/cron/preview", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleCronPreview(rec, req)

	var resp cronPreviewResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCronPreviewValidExpression(t *testing.T) {
	resp := previewRequest(t, `{"expr": "0 8 * * *", "timezone": "UTC", "now": "2025-06-01T12:00:00Z", "count": 3}`)

	require.True(t, resp.Valid)
	assert.Equal(t, []string{
		"2025-06-02T08:00:00Z",
		"2025-06-03T08:00:00Z",
		"2025-06-04T08:00:00Z",
	}, resp.NextTimes)
}

func TestCronPreviewTimezoneShift(t *testing.T) {
	resp := previewRequest(t, `{"expr": "0 8 * * *", "timezone": "Asia/Shanghai", "now": "2025-06-01T12:00:00Z", "count": 1}`)

	require.True(t, resp.Valid)
	// 08:00 in UTC+8 is 00:00 UTC.
	assert.Equal(t, []string{"2025-06-02T00:00:00Z"}, resp.NextTimes)
}

func TestCronPreviewInvalidExpression(t *testing.T) {
	resp := previewRequest(t, `{"expr": "every tuesday"}`)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Message)
}

func TestCronPreviewRejectsMacros(t *testing.T) {
	resp := previewRequest(t, `{"expr": "@hourly"}`)
	assert.False(t, resp.Valid)
}

func TestCronPreviewUnknownTimezone(t *testing.T) {
	resp := previewRequest(t, `{"expr": "0 8 * * *", "timezone": "Mars/Olympus"}`)
	assert.False(t, resp.Valid)
	assert.Contains(t, resp.Message, "Mars/Olympus")
}

func TestCronPreviewRequiresExpression(t *testing.T) {
	s := testAPIServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/cron/preview", strings.NewReader(`{"expr": "  "}`))
	rec := httptest.NewRecorder()
	s.handleCronPreview(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseIntDefault(t *testing.T) {
	assert.Equal(t, 50, parseIntDefault("", 50))
	assert.Equal(t, 7, parseIntDefault("7", 50))
	assert.Equal(t, 50, parseIntDefault("seven", 50))
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusConflict, "device_busy", "device emulator-5554 already has an active execution")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Equal(t, "device_busy", payload.Error.Code)
	assert.Contains(t, payload.Error.Message, "emulator-5554")
}
