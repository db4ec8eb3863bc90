package handlers

import (
	"net/http"

	"github.com/bastionsec/bastion/internal/services"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// StatsHandler exposes the guard's monitoring snapshot.
type StatsHandler struct {
	guard *services.GuardService
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(guard *services.GuardService) *StatsHandler {
	return &StatsHandler{guard: guard}
}

// GetStats returns current registry counts. Counts only, never keys.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.guard.Stats())
}
