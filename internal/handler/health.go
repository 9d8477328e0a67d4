package handler

import (
	"net/http"

	"botrelay/internal/service"
)

type HealthHandler struct {
	registry *service.ConnectionRegistry
}

func NewHealthHandler(registry *service.ConnectionRegistry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: h.registry.Count(),
		Sessions:    h.registry.SessionCount(),
	})
}
