package http

import (
	"net/http"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/internal/http/middleware"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/ratelimiter"
)

// WebhookHandler handles HTTP requests for webhooks and their deliveries
type WebhookHandler struct {
	service      domain.WebhookService
	dispatcher   domain.WebhookDispatcher
	limiter      *ratelimiter.RateLimiter
	logger       logger.Logger
	getJWTSecret func() ([]byte, error)
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	svc domain.WebhookService,
	dispatcher domain.WebhookDispatcher,
	limiter *ratelimiter.RateLimiter,
	getJWTSecret func() ([]byte, error),
	logger logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		service:      svc,
		dispatcher:   dispatcher,
		limiter:      limiter,
		logger:       logger,
		getJWTSecret: getJWTSecret,
	}
}

// RegisterRoutes registers the webhook routes
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	requireAuth := middleware.NewAuthMiddleware(h.getJWTSecret).RequireAuth()
	limit := middleware.RateLimit(h.limiter, RateLimitTrigger)

	mux.Handle("GET /api/webhooks", requireAuth(http.HandlerFunc(h.handleList)))
	mux.Handle("POST /api/webhooks", requireAuth(http.HandlerFunc(h.handleCreate)))
	mux.Handle("GET /api/webhooks/event-types", requireAuth(http.HandlerFunc(h.handleEventTypes)))
	mux.Handle("POST /api/webhooks/trigger", requireAuth(limit(http.HandlerFunc(h.handleTrigger))))
	mux.Handle("GET /api/webhooks/{id}", requireAuth(http.HandlerFunc(h.handleGet)))
	mux.Handle("PUT /api/webhooks/{id}", requireAuth(http.HandlerFunc(h.handleUpdate)))
	mux.Handle("DELETE /api/webhooks/{id}", requireAuth(http.HandlerFunc(h.handleDelete)))
	mux.Handle("POST /api/webhooks/{id}/regenerate-secret", requireAuth(http.HandlerFunc(h.handleRegenerateSecret)))
	mux.Handle("POST /api/webhooks/{id}/test", requireAuth(http.HandlerFunc(h.handleTest)))
	mux.Handle("GET /api/webhooks/{id}/deliveries", requireAuth(http.HandlerFunc(h.handleDeliveries)))
}

// handleList handles GET /api/webhooks
func (h *WebhookHandler) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	webhooks, err := h.service.ListWebhooks(r.Context(), owner)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list webhooks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhooks": webhooks,
	})
}

// handleCreate handles POST /api/webhooks
func (h *WebhookHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req domain.CreateWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	webhook, err := h.service.CreateWebhook(r.Context(), owner, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to create webhook")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"webhook": webhook,
	})
}

// handleGet handles GET /api/webhooks/{id}
func (h *WebhookHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	webhook, err := h.service.GetWebhook(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhook": webhook,
	})
}

// handleUpdate handles PUT /api/webhooks/{id}. A secret in the body is ignored.
func (h *WebhookHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req domain.UpdateWebhookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	webhook, err := h.service.UpdateWebhook(r.Context(), owner, r.PathValue("id"), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhook": webhook,
	})
}

// handleDelete handles DELETE /api/webhooks/{id}
func (h *WebhookHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteWebhook(r.Context(), owner, r.PathValue("id")); err != nil {
		writeServiceError(w, h.logger, err, "Failed to delete webhook")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// handleRegenerateSecret handles POST /api/webhooks/{id}/regenerate-secret
func (h *WebhookHandler) handleRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	webhook, err := h.service.RegenerateSecret(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to regenerate webhook secret")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhook": webhook,
	})
}

// handleTest handles POST /api/webhooks/{id}/test. The outcome of the
// attempt is in the body; only a missing webhook or a storage failure is an error.
func (h *WebhookHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	outcome, err := h.dispatcher.SendTest(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to send test webhook")
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// handleTrigger handles POST /api/webhooks/trigger
func (h *WebhookHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req domain.TriggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.dispatcher.Trigger(r.Context(), owner, req.EventType, req.Payload)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to trigger webhooks")
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

// handleDeliveries handles GET /api/webhooks/{id}/deliveries
func (h *WebhookHandler) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	deliveries, err := h.service.ListDeliveries(r.Context(), owner, r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to get webhook deliveries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
	})
}

// handleEventTypes handles GET /api/webhooks/event-types
func (h *WebhookHandler) handleEventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_types": h.service.EventTypes(),
	})
}
