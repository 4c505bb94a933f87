package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestWriteJSON(t *testing.T) {
	t.Run("writes status and body", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteJSON(w, http.StatusAccepted, map[string]bool{"allowed": true}))

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"allowed":true}`, w.Body.String())
	})

	t.Run("nil data writes no body", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteJSON(w, http.StatusOK, nil))
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOKAndCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteOK(w, map[string]string{"route": "home"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"route":"home"}}`, w.Body.String())

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"route": "home"}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestErrorWritersUseDefaults(t *testing.T) {
	tests := []struct {
		name    string
		write   func(w http.ResponseWriter) error
		status  int
		errType string
		message string
	}{
		{"unauthorized", func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") }, http.StatusUnauthorized, "unauthorized", "Authentication required"},
		{"forbidden", func(w http.ResponseWriter) error { return WriteForbidden(w, "") }, http.StatusForbidden, "forbidden", "Access forbidden"},
		{"not found", func(w http.ResponseWriter) error { return WriteNotFound(w, "") }, http.StatusNotFound, "not_found", "Resource not found"},
		{"rate limit", func(w http.ResponseWriter) error { return WriteTooManyRequests(w, "", nil) }, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit exceeded"},
		{"internal", func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") }, http.StatusInternalServerError, "internal_error", "Internal server error"},
		{"misconfigured", func(w http.ResponseWriter) error { return WriteMisconfigured(w, "", nil) }, http.StatusInternalServerError, "misconfigured", "Route access is misconfigured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)
			response := decodeError(t, w)
			assert.Equal(t, tt.errType, response.Error)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestWriteErrorsWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteConflict(w, "Route is in use", map[string]interface{}{"dependents": []string{"child"}}))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []interface{}{"child"}, decodeError(t, w).Details["dependents"])

	w = httptest.NewRecorder()
	require.NoError(t, WriteMisconfigured(w, "", map[string]interface{}{"route": "orphan"}))
	assert.Equal(t, "orphan", decodeError(t, w).Details["route"])

	w = httptest.NewRecorder()
	require.NoError(t, WriteBadRequest(w, "Validation failed", map[string]interface{}{"route": "route is required"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "route is required", decodeError(t, w).Details["route"])
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Route string `json:"route"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{name: "valid object", payload: `{"route":"home"}`},
		{name: "empty body", payload: ``, wantErr: "request body is empty"},
		{name: "unknown field", payload: `{"route":"home","extra":1}`, wantErr: "unknown field"},
		{name: "malformed", payload: `{"route":`, wantErr: "invalid request body"},
		{name: "trailing object", payload: `{"route":"a"}{"route":"b"}`, wantErr: "single JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var got body
			err := DecodeJSON(httptest.NewRecorder(), r, &got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "home", got.Route)
		})
	}
}
