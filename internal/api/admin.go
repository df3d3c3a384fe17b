package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"parley/internal/models"
)

type presenceAdmin interface {
	Presence() []models.PresenceEntry
	DisconnectUser(ctx context.Context, userID string) (bool, error)
}

type AdminHandler struct {
	hub    presenceAdmin
	logger *slog.Logger
}

func NewAdminHandler(hub presenceAdmin, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{hub: hub, logger: logger}
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode admin response", "error", err)
	}
}

func (h *AdminHandler) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, PresenceResponse{Success: true, Presence: h.hub.Presence()})
}

// DisconnectHandler closes the live connection of ?userId= from the server
// side. The usual offline broadcast follows.
func (h *AdminHandler) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		h.writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "userId is required"})
		return
	}

	found, err := h.hub.DisconnectUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to disconnect user", "user_id", userID, "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, models.APIResponse{
			Message: fmt.Sprintf("Failed to disconnect user: %v", err),
		})
		return
	}
	if !found {
		h.writeJSON(w, http.StatusNotFound, models.APIResponse{Message: "User is not connected"})
		return
	}

	h.logger.Info("user disconnected by admin", "user_id", userID)
	h.writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("User %s disconnected", userID),
	})
}
