package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/middleware"
	"github.com/relaydesk/channel-server/internal/service"
	"github.com/relaydesk/channel-server/internal/util"
)

type MessageSender interface {
	Send(ctx context.Context, tenantID, conversationID string, params service.SendParams) (*service.SendResponse, error)
}

type MessagesHandler struct {
	sender MessageSender
}

func NewMessagesHandler(sender MessageSender) *MessagesHandler {
	return &MessagesHandler{sender: sender}
}

func (h *MessagesHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{conversationId}/messages", h.Send)

	return r
}

// POST /v1/conversations/{conversationId}/messages
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	conversationID := chi.URLParam(r, "conversationId")
	if !util.IsValidUUID(conversationID) {
		writeError(w, apperrors.NotFound("Conversation"))
		return
	}

	var params service.SendParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if err := validateRequest(params); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.sender.Send(r.Context(), tenant.ID, conversationID, params)
	if err != nil {
		if !apperrors.IsValidation(err) {
			log.Error().Err(err).
				Str("tenantId", tenant.ID).
				Str("conversationId", conversationID).
				Msg("failed to send message")
		}
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.Message == nil {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}
