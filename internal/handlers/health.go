package handlers

import (
	"net/http"

	"github.com/bastionsec/bastion/internal/database"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// HealthHandler reports process liveness and, when a database is configured,
// its reachability.
type HealthHandler struct {
	db *database.DB // nil when running memory-only
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *database.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
