package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/middleware"
	"github.com/relaydesk/channel-server/internal/sse"
	"github.com/relaydesk/channel-server/internal/util"
)

type Subscriber interface {
	Subscribe(tenantID string) *sse.Client
	Unsubscribe(client *sse.Client)
}

type EventsHandler struct {
	broker    Subscriber
	heartbeat time.Duration
}

func NewEventsHandler(broker Subscriber) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/events[?channelId=]
//
// With channelId set, only that channel's events are streamed.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	channelID := r.URL.Query().Get("channelId")
	if channelID != "" && !util.IsValidUUID(channelID) {
		writeError(w, apperrors.InvalidInput("channelId", "must be a UUID"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(tenant.ID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("tenantId", tenant.ID).
		Str("channelId", channelID).
		Msg("sse connection established")

	ready := map[string]any{
		"tenantId":  tenant.ID,
		"timestamp": time.Now().UnixMilli(),
	}
	if channelID != "" {
		ready["channelId"] = channelID
	}
	if err := h.sendEvent(w, flusher, "ready", ready); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("tenantId", tenant.ID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("tenantId", tenant.ID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if channelID != "" && eventChannel(event) != channelID {
				continue
			}
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("tenantId", tenant.ID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func eventChannel(event sse.Event) string {
	var payload struct {
		ChannelID string `json:"channelId"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return ""
	}
	return payload.ChannelID
}
