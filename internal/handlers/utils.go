package handlers

import (
	"net/http"

	"driftchat-backend/internal/auth"
	"driftchat-backend/pkg/httputil"

	"github.com/google/uuid"
)

// userIDFromRequest extracts the authenticated user id injected by the JWT
// middleware, writing a 401 when it is missing.
func userIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok || userID == uuid.Nil {
		httputil.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// parseUUIDParam parses a URL parameter as a UUID, writing a 400 on failure.
func parseUUIDParam(w http.ResponseWriter, value, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
