package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/middleware"
	"github.com/relaydesk/channel-server/internal/model"
	"github.com/relaydesk/channel-server/internal/session"
	"github.com/relaydesk/channel-server/internal/util"
)

type ChannelFinder interface {
	FindForTenant(ctx context.Context, tenantID, channelID string) (*model.Channel, error)
}

type SessionController interface {
	StartSession(ctx context.Context, channelID string) (*session.StartResult, error)
	GetSessionStatus(channelID string) session.Snapshot
	Logout(ctx context.Context, channelID string) (*session.LogoutResult, error)
}

type SessionHandler struct {
	channels ChannelFinder
	sessions SessionController
}

func NewSessionHandler(channels ChannelFinder, sessions SessionController) *SessionHandler {
	return &SessionHandler{
		channels: channels,
		sessions: sessions,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{channelId}/session", h.StartSession)
	r.Get("/{channelId}/session", h.GetSessionStatus)
	r.Delete("/{channelId}/session", h.Logout)

	return r
}

// POST /v1/channels/{channelId}/session
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.channel(w, r)
	if !ok {
		return
	}

	result, err := h.sessions.StartSession(r.Context(), channel.ID)
	if err != nil {
		log.Error().Err(err).Str("channelId", channel.ID).Msg("failed to start session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// GET /v1/channels/{channelId}/session
func (h *SessionHandler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.channel(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.sessions.GetSessionStatus(channel.ID))
}

// DELETE /v1/channels/{channelId}/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	channel, ok := h.channel(w, r)
	if !ok {
		return
	}

	result, err := h.sessions.Logout(r.Context(), channel.ID)
	if err != nil {
		log.Error().Err(err).Str("channelId", channel.ID).Msg("failed to logout session")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// channel resolves the path channel for the authenticated tenant and writes
// the error response when it cannot.
func (h *SessionHandler) channel(w http.ResponseWriter, r *http.Request) (*model.Channel, bool) {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return nil, false
	}

	channelID := chi.URLParam(r, "channelId")
	if !util.IsValidUUID(channelID) {
		writeError(w, apperrors.NotFound("Channel"))
		return nil, false
	}

	channel, err := h.channels.FindForTenant(r.Context(), tenant.ID, channelID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return channel, true
}
