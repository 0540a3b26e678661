package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/config"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type SessionCounter interface {
	TrackedChannels() []string
}

type StreamCounter interface {
	TotalClients() int
}

// Health reports liveness plus database reachability.
func Health(db Pinger, sessions SessionCounter, streams StreamCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: database unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}

		writeJSON(w, code, map[string]any{
			"status":     status,
			"sessions":   len(sessions.TrackedChannels()),
			"sseClients": streams.TotalClients(),
			"timestamp":  time.Now().UnixMilli(),
		})
	}
}
