package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"driftchat-backend/internal/llm"
	"driftchat-backend/internal/models"
	"driftchat-backend/internal/services"
	"driftchat-backend/pkg/httputil"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CompletionHandlers handles the streaming completion endpoint.
type CompletionHandlers struct {
	completionService *services.CompletionService
}

// NewCompletionHandlers creates a new CompletionHandlers instance.
func NewCompletionHandlers(svc *services.CompletionService) *CompletionHandlers {
	return &CompletionHandlers{completionService: svc}
}

// HandleCreateCompletion handles POST /v1/completions.
//
// The pre-stream phases run first; their failures map onto plain JSON error
// responses. Once streaming starts the response is an SSE stream and any
// subsequent failure arrives as an `error` event carrying only a generic
// user-safe message.
func (h *CompletionHandlers) HandleCreateCompletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(w, r)
	if !ok {
		return
	}

	var req models.CreateCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	if req.ID == uuid.Nil {
		httputil.RespondError(w, http.StatusBadRequest, "Conversation ID is required")
		return
	}
	if len(req.Messages) == 0 {
		// An empty message list would reconcile to a full wipe; reject it.
		httputil.RespondError(w, http.StatusBadRequest, "At least one message is required")
		return
	}

	prepared, err := h.completionService.Prepare(r.Context(), userID, req)
	if err != nil {
		log.Warn().Err(err).
			Str("conversation_id", req.ID.String()).
			Str("model_id", req.ModelID).
			Msg("completion preparation failed")
		switch {
		case errors.Is(err, services.ErrInvalidModel):
			httputil.RespondError(w, http.StatusBadRequest, "Invalid model ID")
		case errors.Is(err, services.ErrInvalidProvider):
			httputil.RespondError(w, http.StatusBadRequest, "Invalid model provider")
		case errors.Is(err, services.ErrConversationNotFound):
			httputil.RespondError(w, http.StatusNotFound, "Conversation not found")
		case errors.Is(err, services.ErrSyncFailure):
			httputil.RespondError(w, http.StatusInternalServerError, "Failed to synchronize messages")
		default:
			httputil.RespondError(w, http.StatusInternalServerError, "Failed to start completion")
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	conv := prepared.Conversation()
	if err := writeEvent(map[string]any{
		"type":           "metadata",
		"conversationId": conv.ID,
		"modelId":        conv.ModelID,
	}); err != nil {
		log.Debug().Err(err).Msg("client gone before stream start")
		return
	}

	prepared.Stream(r.Context(), services.CompletionEvents{
		OnText: func(delta string) error {
			return writeEvent(map[string]any{"type": "token", "delta": delta})
		},
		OnReasoning: func(delta string) error {
			return writeEvent(map[string]any{"type": "reasoning", "delta": delta})
		},
		OnUsage: func(usage llm.Usage) error {
			return writeEvent(map[string]any{
				"type":             "usage",
				"promptTokens":     usage.PromptTokens,
				"completionTokens": usage.CompletionTokens,
				"totalTokens":      usage.TotalTokens,
			})
		},
		OnError: func(message string) {
			_ = writeEvent(map[string]any{"type": "error", "message": message})
		},
		OnDone: func() {
			_ = writeEvent(map[string]any{"type": "done"})
		},
	})
}
