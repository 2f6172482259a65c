package handlers

import (
	"net/http"

	"driftchat-backend/internal/llm"
	"driftchat-backend/internal/models"
	"driftchat-backend/pkg/httputil"
)

// ModelHandlers serves the static model registry.
type ModelHandlers struct{}

// NewModelHandlers creates a new ModelHandlers instance.
func NewModelHandlers() *ModelHandlers {
	return &ModelHandlers{}
}

// HandleListModels handles GET /v1/models.
func (h *ModelHandlers) HandleListModels(w http.ResponseWriter, r *http.Request) {
	out := make([]models.ModelResponse, 0, len(llm.Models))
	for _, m := range llm.Models {
		out = append(out, models.ModelResponse{
			ID:        m.ID,
			Name:      m.Name,
			IsPremium: m.IsPremium,
			Provider:  string(m.Provider),
		})
	}
	httputil.RespondJSON(w, http.StatusOK, out)
}
