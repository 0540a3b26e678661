package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         pinger
		wantCode   int
		wantStatus string
	}{
		{"healthy", pinger{}, http.StatusOK, "ok"},
		{"database down", pinger{err: errDown}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Health(tt.db, sessionCount{"ch-1", "ch-2"}, clientCount(3))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, float64(2), body["sessions"])
			assert.Equal(t, float64(3), body["sseClients"])
		})
	}
}
