package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventSessionLogout   EventType = "session_logout"
	EventRemoteLogout    EventType = "session_remote_logout"
	EventMessageSent     EventType = "message_sent"
	EventMessageReceived EventType = "message_received"
	EventReactionSent    EventType = "reaction_sent"
	EventIngestFailed    EventType = "ingest_failed"
	EventAuthFailure     EventType = "auth_failure"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
)

type Event struct {
	Type      EventType
	TenantID  string
	ChannelID string
	IP        string
	UserAgent string
	Details   map[string]any
}

// Log writes one structured audit line. Failures and denials go out at warn
// level, everything else at info.
func Log(ctx context.Context, event Event) {
	var entry *zerolog.Event
	switch event.Type {
	case EventIngestFailed, EventAuthFailure, EventRateLimitExceed, EventRemoteLogout:
		entry = log.Warn()
	default:
		entry = log.Info()
	}

	entry = entry.
		Str("audit", "channel").
		Str("event_type", string(event.Type))

	if reqID := chimw.GetReqID(ctx); reqID != "" {
		entry = entry.Str("request_id", reqID)
	}
	for key, value := range map[string]string{
		"tenant_id":  event.TenantID,
		"channel_id": event.ChannelID,
		"ip":         event.IP,
		"user_agent": event.UserAgent,
	} {
		if value != "" {
			entry = entry.Str(key, value)
		}
	}

	entry.Fields(event.Details).Msg("audit event")
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = clientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func clientIP(r *http.Request) string {
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
