package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = log.Output(&buf)
	t.Cleanup(func() { log.Logger = original })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{
		Type:      EventIngestFailed,
		TenantID:  "t-1",
		ChannelID: "ch-1",
		Details: map[string]any{
			"jobId":    "job-1",
			"attempts": 3,
			"error":    errors.New("db down"),
		},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ingest_failed", line["event_type"])
	assert.Equal(t, "t-1", line["tenant_id"])
	assert.Equal(t, "ch-1", line["channel_id"])
	assert.Equal(t, "job-1", line["jobId"])
	assert.Equal(t, float64(3), line["attempts"])
	assert.Equal(t, "db down", line["error"])
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLog(t)

	req := httptest.NewRequest("DELETE", "/v1/channels/ch-1/session", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	req.Header.Set("User-Agent", "ops-console")

	LogFromRequest(req, Event{Type: EventSessionLogout, ChannelID: "ch-1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "10.0.0.1", line["ip"])
	assert.Equal(t, "ops-console", line["user_agent"])
}

func TestLogLevelAndRequestID(t *testing.T) {
	buf := captureLog(t)

	ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "req-42")
	Log(ctx, Event{Type: EventAuthFailure})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "req-42", line["request_id"])
	assert.NotContains(t, line, "tenant_id")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.2")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
