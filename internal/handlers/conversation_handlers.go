package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"driftchat-backend/internal/models"
	"driftchat-backend/internal/services"
	"driftchat-backend/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ConversationHandlers handles HTTP requests related to conversations.
type ConversationHandlers struct {
	conversationService *services.ConversationService
}

// NewConversationHandlers creates a new ConversationHandlers instance.
func NewConversationHandlers(svc *services.ConversationService) *ConversationHandlers {
	return &ConversationHandlers{conversationService: svc}
}

// respondConversationError maps conversation service errors to HTTP statuses.
func respondConversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, services.ErrMessageNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, services.ErrInvalidModel):
		httputil.RespondError(w, http.StatusBadRequest, "Invalid model ID")
	default:
		log.Error().Err(err).Msg("conversation request failed")
		httputil.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// HandleCreateConversation handles POST /v1/conversations.
func (h *ConversationHandlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	conv, err := h.conversationService.CreateConversation(r.Context(), userID, req)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, conv)
}

// HandleListConversations handles GET /v1/conversations?search=.
func (h *ConversationHandlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	search := r.URL.Query().Get("search")
	conversations, err := h.conversationService.ListConversations(r.Context(), userID, search)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conversations)
}

// HandleGetConversation handles GET /v1/conversations/{conversationID}.
func (h *ConversationHandlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(w, chi.URLParam(r, "conversationID"), "conversation ID")
	if !ok {
		return
	}

	conv, err := h.conversationService.GetConversation(r.Context(), userID, conversationID)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conv)
}

// HandleUpdateConversation handles PATCH /v1/conversations/{conversationID}.
func (h *ConversationHandlers) HandleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(w, chi.URLParam(r, "conversationID"), "conversation ID")
	if !ok {
		return
	}

	var req models.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	conv, err := h.conversationService.UpdateConversation(r.Context(), userID, conversationID, req)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conv)
}

// HandleDeleteConversation handles DELETE /v1/conversations/{conversationID}.
func (h *ConversationHandlers) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(w, chi.URLParam(r, "conversationID"), "conversation ID")
	if !ok {
		return
	}

	if err := h.conversationService.DeleteConversation(r.Context(), userID, conversationID); err != nil {
		respondConversationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleBranchConversation handles POST /v1/conversations/{conversationID}/branch.
func (h *ConversationHandlers) HandleBranchConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(w, chi.URLParam(r, "conversationID"), "conversation ID")
	if !ok {
		return
	}

	var req models.BranchConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	branch, err := h.conversationService.BranchConversation(r.Context(), userID, conversationID, req.MessageID)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, branch)
}

// HandleGetMessages handles GET /v1/conversations/{conversationID}/messages.
func (h *ConversationHandlers) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}
	conversationID, ok := parseUUIDParam(w, chi.URLParam(r, "conversationID"), "conversation ID")
	if !ok {
		return
	}

	messages, err := h.conversationService.GetMessages(r.Context(), userID, conversationID)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, messages)
}
