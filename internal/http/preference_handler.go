package http

import (
	"encoding/json"
	"net/http"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/internal/http/middleware"
	"github.com/leadforge/leadforge/pkg/logger"
)

// PreferenceHandler serves per-user settings such as import column mappings
type PreferenceHandler struct {
	service      domain.PreferenceService
	logger       logger.Logger
	getJWTSecret func() ([]byte, error)
}

func NewPreferenceHandler(svc domain.PreferenceService, getJWTSecret func() ([]byte, error), logger logger.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		service:      svc,
		logger:       logger,
		getJWTSecret: getJWTSecret,
	}
}

func (h *PreferenceHandler) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := middleware.NewAuthMiddleware(h.getJWTSecret).RequireAuth()

	mux.Handle("GET /api/preferences/{key}", requireAuth(http.HandlerFunc(h.handleGet)))
	mux.Handle("PUT /api/preferences/{key}", requireAuth(http.HandlerFunc(h.handlePut)))
	mux.Handle("DELETE /api/preferences/{key}", requireAuth(http.HandlerFunc(h.handleDelete)))
}

func (h *PreferenceHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	pref, err := h.service.Load(r.Context(), owner, r.PathValue("key"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to load preference")
		return
	}

	writeJSON(w, http.StatusOK, pref)
}

// handlePut stores the raw request body, which must be a JSON value
func (h *PreferenceHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var value json.RawMessage
	if err := decodeJSON(w, r, &value); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	pref, err := h.service.Save(r.Context(), owner, r.PathValue("key"), value)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to save preference")
		return
	}

	writeJSON(w, http.StatusOK, pref)
}

func (h *PreferenceHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), owner, r.PathValue("key")); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete preference")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
