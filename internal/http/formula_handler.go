package http

import (
	"net/http"
	"strings"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/internal/http/middleware"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/ratelimiter"
)

// Rate limit namespaces
const (
	RateLimitTrigger  = "webhook_trigger"
	RateLimitEvaluate = "formula_evaluate"
)

// FormulaHandler serves ad hoc formula validation and evaluation
type FormulaHandler struct {
	service      domain.FormulaService
	limiter      *ratelimiter.RateLimiter
	logger       logger.Logger
	getJWTSecret func() ([]byte, error)
}

func NewFormulaHandler(
	svc domain.FormulaService,
	limiter *ratelimiter.RateLimiter,
	getJWTSecret func() ([]byte, error),
	logger logger.Logger,
) *FormulaHandler {
	return &FormulaHandler{
		service:      svc,
		limiter:      limiter,
		logger:       logger,
		getJWTSecret: getJWTSecret,
	}
}

// RegisterRoutes registers the formula routes
func (h *FormulaHandler) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := middleware.NewAuthMiddleware(h.getJWTSecret).RequireAuth()
	limit := middleware.RateLimit(h.limiter, RateLimitEvaluate)

	mux.Handle("POST /api/formulas/validate", requireAuth(http.HandlerFunc(h.handleValidate)))
	mux.Handle("POST /api/formulas/evaluate", requireAuth(limit(http.HandlerFunc(h.handleEvaluate))))
	mux.Handle("GET /api/formulas/functions", requireAuth(http.HandlerFunc(h.handleFunctions)))
}

// handleValidate handles POST /api/formulas/validate
func (h *FormulaHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req domain.FormulaValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Formula) == "" {
		WriteJSONError(w, "formula is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, h.service.Validate(r.Context(), req.Formula))
}

// handleEvaluate handles POST /api/formulas/evaluate. Formula failures are
// reported in the body with a 200 so editors can show them inline.
func (h *FormulaHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.FormulaEvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Formula) == "" {
		WriteJSONError(w, "formula is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.Evaluate(r.Context(), req.Formula, req.Context)
	if err != nil {
		writeJSON(w, http.StatusOK, domain.FormulaEvaluateResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, domain.FormulaEvaluateResponse{Success: true, Result: result})
}

// handleFunctions handles GET /api/formulas/functions
func (h *FormulaHandler) handleFunctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"functions": h.service.Functions(),
	})
}
