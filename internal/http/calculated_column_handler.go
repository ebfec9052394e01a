package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/internal/http/middleware"
	"github.com/leadforge/leadforge/pkg/formula"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/ratelimiter"
)

// CalculatedColumnHandler handles HTTP requests for calculated columns
type CalculatedColumnHandler struct {
	service      domain.CalculatedColumnService
	limiter      *ratelimiter.RateLimiter
	logger       logger.Logger
	getJWTSecret func() ([]byte, error)
}

// NewCalculatedColumnHandler creates a new calculated column handler
func NewCalculatedColumnHandler(
	svc domain.CalculatedColumnService,
	limiter *ratelimiter.RateLimiter,
	getJWTSecret func() ([]byte, error),
	logger logger.Logger,
) *CalculatedColumnHandler {
	return &CalculatedColumnHandler{
		service:      svc,
		limiter:      limiter,
		logger:       logger,
		getJWTSecret: getJWTSecret,
	}
}

// RegisterRoutes registers the calculated column routes
func (h *CalculatedColumnHandler) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := middleware.NewAuthMiddleware(h.getJWTSecret).RequireAuth()
	limit := middleware.RateLimit(h.limiter, RateLimitEvaluate)

	mux.Handle("GET /api/calculated-columns", requireAuth(http.HandlerFunc(h.handleList)))
	mux.Handle("POST /api/calculated-columns", requireAuth(http.HandlerFunc(h.handleCreate)))
	mux.Handle("GET /api/calculated-columns/{id}", requireAuth(http.HandlerFunc(h.handleGet)))
	mux.Handle("PUT /api/calculated-columns/{id}", requireAuth(http.HandlerFunc(h.handleUpdate)))
	mux.Handle("DELETE /api/calculated-columns/{id}", requireAuth(http.HandlerFunc(h.handleDelete)))
	mux.Handle("POST /api/calculated-columns/{id}/evaluate", requireAuth(limit(http.HandlerFunc(h.handleEvaluate))))
	mux.Handle("DELETE /api/calculated-columns/{id}/cache", requireAuth(http.HandlerFunc(h.handleClearCache)))
}

// handleList handles GET /api/calculated-columns
func (h *CalculatedColumnHandler) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	filter := domain.CalculatedColumnFilter{
		ActiveOnly: r.URL.Query().Get("active") == "true",
		ColumnName: r.URL.Query().Get("column_name"),
	}

	columns, err := h.service.ListColumns(r.Context(), owner, filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list calculated columns")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"columns": columns,
	})
}

// handleCreate handles POST /api/calculated-columns
func (h *CalculatedColumnHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req domain.CreateCalculatedColumnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	column, err := h.service.CreateColumn(r.Context(), owner, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to create calculated column")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"column": column,
	})
}

// handleGet handles GET /api/calculated-columns/{id}
func (h *CalculatedColumnHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	column, err := h.service.GetColumn(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get calculated column")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"column": column,
	})
}

// handleUpdate handles PUT /api/calculated-columns/{id}
func (h *CalculatedColumnHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req domain.UpdateCalculatedColumnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	column, err := h.service.UpdateColumn(r.Context(), owner, r.PathValue("id"), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update calculated column")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"column": column,
	})
}

// handleDelete handles DELETE /api/calculated-columns/{id}
func (h *CalculatedColumnHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteColumn(r.Context(), owner, r.PathValue("id")); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete calculated column")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

type evaluateLeadRequest struct {
	LeadID       string                 `json:"leadId"`
	LeadData     map[string]interface{} `json:"leadData"`
	ForceRefresh bool                   `json:"forceRefresh"`
}

type evaluateBatchRequest struct {
	Leads []domain.LeadInput `json:"leads"`
}

// handleEvaluate handles POST /api/calculated-columns/{id}/evaluate. A body
// with a "leads" array is a batch; anything else evaluates a single lead.
func (h *CalculatedColumnHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	columnID := r.PathValue("id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if gjson.GetBytes(body, "leads").IsArray() {
		var req evaluateBatchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		results, err := h.service.EvaluateForLeads(r.Context(), owner, columnID, req.Leads)
		if err != nil {
			writeServiceError(w, h.logger, err, "Failed to evaluate calculated column")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": results,
		})
		return
	}

	var req evaluateLeadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.EvaluateForLead(r.Context(), owner, columnID, req.LeadID, req.LeadData, req.ForceRefresh)
	if err != nil {
		if formula.IsFormulaError(err) {
			WriteJSONError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeServiceError(w, h.logger, err, "Failed to evaluate calculated column")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleClearCache handles DELETE /api/calculated-columns/{id}/cache
func (h *CalculatedColumnHandler) handleClearCache(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.ClearCache(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to clear calculated column cache")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
	})
}
