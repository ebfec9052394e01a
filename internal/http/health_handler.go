package http

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/leadforge/leadforge/pkg/logger"
)

const healthPingTimeout = 2 * time.Second

// DBStatsPinger is satisfied by *sql.DB
type DBStatsPinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// HealthHandler reports whether the API can reach its database
type HealthHandler struct {
	db     DBStatsPinger
	logger logger.Logger
}

func NewHealthHandler(db DBStatsPinger, logger logger.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// RegisterRoutes registers the unauthenticated health route
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WithField("error", err.Error()).Error("Health check failed to ping database")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unavailable",
			"database": "unreachable",
		})
		return
	}

	stats := h.db.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"database": "ok",
		"connections": map[string]int{
			"open":   stats.OpenConnections,
			"in_use": stats.InUse,
			"idle":   stats.Idle,
		},
	})
}
