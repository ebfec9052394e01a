package domain

//go:generate mockgen -destination mocks/mock_webhook_repository.go -package mocks github.com/leadforge/leadforge/internal/domain WebhookRepository
//go:generate mockgen -destination mocks/mock_webhook_delivery_repository.go -package mocks github.com/leadforge/leadforge/internal/domain WebhookDeliveryRepository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/leadforge/leadforge/pkg/formula"
)

type WebhookStatus string

const (
	WebhookStatusActive   WebhookStatus = "active"
	WebhookStatusInactive WebhookStatus = "inactive"
	WebhookStatusFailed   WebhookStatus = "failed"
)

// WebhookDeliveryStatus constants
const (
	WebhookDeliveryStatusPending  = "pending"
	WebhookDeliveryStatusSuccess  = "success"
	WebhookDeliveryStatusFailed   = "failed"
	WebhookDeliveryStatusRetrying = "retrying"
)

const (
	DefaultWebhookTimeoutMs = 30000
	MinWebhookTimeoutMs     = 1000
	MaxWebhookTimeoutMs     = 60000
	DefaultMaxRetries       = 3
	MaxMaxRetries           = 10
	DefaultRetryDelay       = 60
	MaxRetryDelay           = 3600

	// MaxResponseBodyChars bounds the stored response body
	MaxResponseBodyChars = 10000

	TestEventType = "lead.created"
)

// Available webhook event types
var WebhookEventTypes = []string{
	// Lead lifecycle
	"lead.created",
	"lead.updated",
	"lead.deleted",
	"lead.status_changed",
	"lead.assigned",
	// Communication
	"call.completed",
	"sms.received",
	"sms.sent",
	"email.sent",
	"email.opened",
	"meeting.scheduled",
	// Calculated columns
	"calculated_column.updated",
}

func IsValidEventType(eventType string) bool {
	for _, e := range WebhookEventTypes {
		if e == eventType {
			return true
		}
	}
	return false
}

// Webhook is an outbound subscription owned by the user that created it
type Webhook struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	URL              string            `json:"url"`
	Status           WebhookStatus     `json:"status"`
	SecretKey        string            `json:"secret_key"`
	Events           []string          `json:"events"`
	Headers          map[string]string `json:"headers"`
	TransformEnabled bool              `json:"transform_enabled"`
	TransformScript  *string           `json:"transform_script,omitempty"`
	RetryEnabled     bool              `json:"retry_enabled"`
	MaxRetries       int               `json:"max_retries"`
	RetryDelay       int               `json:"retry_delay"` // base seconds
	Timeout          int               `json:"timeout"`     // milliseconds
	CreatedBy        string            `json:"created_by"`
	LastTriggeredAt  *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Validate checks the webhook configuration. The secret is not checked since
// it never comes from callers.
func (w *Webhook) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return NewValidationError("name is required")
	}
	if len(w.Name) > 255 {
		return NewValidationError("name must be at most 255 characters")
	}
	if err := validateWebhookURL(w.URL); err != nil {
		return err
	}
	if !govalidator.IsIn(string(w.Status), string(WebhookStatusActive), string(WebhookStatusInactive), string(WebhookStatusFailed)) {
		return NewValidationError(fmt.Sprintf("invalid status: %s", w.Status))
	}
	if len(w.Events) == 0 {
		return NewValidationError("at least one event is required")
	}
	for _, e := range w.Events {
		if !IsValidEventType(e) {
			return NewValidationError(fmt.Sprintf("unknown event type: %s", e))
		}
	}
	for name := range w.Headers {
		if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t\r\n:") {
			return NewValidationError(fmt.Sprintf("invalid header name: %q", name))
		}
	}
	if w.Timeout < MinWebhookTimeoutMs || w.Timeout > MaxWebhookTimeoutMs {
		return NewValidationError(fmt.Sprintf("timeout must be between %d and %d ms", MinWebhookTimeoutMs, MaxWebhookTimeoutMs))
	}
	if w.MaxRetries < 0 || w.MaxRetries > MaxMaxRetries {
		return NewValidationError(fmt.Sprintf("max_retries must be between 0 and %d", MaxMaxRetries))
	}
	if w.RetryDelay < 1 || w.RetryDelay > MaxRetryDelay {
		return NewValidationError(fmt.Sprintf("retry_delay must be between 1 and %d seconds", MaxRetryDelay))
	}
	if w.TransformEnabled {
		if w.TransformScript == nil || strings.TrimSpace(*w.TransformScript) == "" {
			return NewValidationError("transform_script is required when transform_enabled is true")
		}
		if res := formula.ValidateTransform(*w.TransformScript); !res.Valid {
			return NewValidationError(fmt.Sprintf("invalid transform_script: %s", res.Error))
		}
	}
	return nil
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return NewValidationError("url is required")
	}
	if !govalidator.IsURL(raw) {
		return NewValidationError("url must be a valid URL")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError("url must be an absolute http or https URL")
	}
	return nil
}

// Subscribes reports whether the webhook should receive eventType.
func (w *Webhook) Subscribes(eventType string) bool {
	if w.Status != WebhookStatusActive {
		return false
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// CanRetry reports whether a delivery that has already been retried retryCount times may be retried again.
func (w *Webhook) CanRetry(retryCount int) bool {
	return w.RetryEnabled && retryCount < w.MaxRetries
}

// TimeoutDuration returns the per-request timeout, falling back to the default.
func (w *Webhook) TimeoutDuration() time.Duration {
	if w.Timeout <= 0 {
		return DefaultWebhookTimeoutMs * time.Millisecond
	}
	return time.Duration(w.Timeout) * time.Millisecond
}

// NextRetryDelay returns base * 2^retryCount seconds, saturating instead of overflowing.
func NextRetryDelay(baseDelaySeconds, retryCount int) int64 {
	if baseDelaySeconds <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	d := math.Ldexp(float64(baseDelaySeconds), retryCount)
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(d)
}

// WebhookDelivery records one event sent to one webhook and its outcome
type WebhookDelivery struct {
	ID                 string          `json:"id"`
	WebhookID          string          `json:"webhook_id"`
	EventType          string          `json:"event_type"`
	Payload            json.RawMessage `json:"payload"`
	TransformedPayload json.RawMessage `json:"transformed_payload,omitempty"`
	Status             string          `json:"status"`
	ResponseStatus     *int            `json:"response_status,omitempty"`
	ResponseBody       *string         `json:"response_body,omitempty"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	RetryCount         int             `json:"retry_count"`
	NextRetryAt        *time.Time      `json:"next_retry_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Body returns the bytes sent to the subscriber: the transformed payload when present.
func (d *WebhookDelivery) Body() []byte {
	if len(d.TransformedPayload) > 0 {
		return d.TransformedPayload
	}
	return d.Payload
}

// TruncateResponseBody keeps at most MaxResponseBodyChars characters.
func TruncateResponseBody(body string) string {
	if len(body) <= MaxResponseBodyChars {
		return body
	}
	runes := []rune(body)
	if len(runes) <= MaxResponseBodyChars {
		return body
	}
	return string(runes[:MaxResponseBodyChars])
}

// CreateWebhookRequest is the body of POST /api/webhooks. There is no secret field.
type CreateWebhookRequest struct {
	Name             string            `json:"name"`
	URL              string            `json:"url"`
	Status           WebhookStatus     `json:"status,omitempty"`
	Events           []string          `json:"events"`
	Headers          map[string]string `json:"headers,omitempty"`
	TransformEnabled bool              `json:"transform_enabled"`
	TransformScript  *string           `json:"transform_script,omitempty"`
	RetryEnabled     *bool             `json:"retry_enabled,omitempty"`
	MaxRetries       *int              `json:"max_retries,omitempty"`
	RetryDelay       *int              `json:"retry_delay,omitempty"`
	Timeout          *int              `json:"timeout,omitempty"`
}

// Validate builds the webhook the request describes, applying defaults.
func (r *CreateWebhookRequest) Validate(createdBy string) (*Webhook, error) {
	w := &Webhook{
		Name:             strings.TrimSpace(r.Name),
		URL:              strings.TrimSpace(r.URL),
		Status:           r.Status,
		Events:           dedupe(r.Events),
		Headers:          r.Headers,
		TransformEnabled: r.TransformEnabled,
		TransformScript:  r.TransformScript,
		RetryEnabled:     true,
		MaxRetries:       DefaultMaxRetries,
		RetryDelay:       DefaultRetryDelay,
		Timeout:          DefaultWebhookTimeoutMs,
		CreatedBy:        createdBy,
	}
	if w.Status == "" {
		w.Status = WebhookStatusActive
	}
	if w.Headers == nil {
		w.Headers = map[string]string{}
	}
	if r.RetryEnabled != nil {
		w.RetryEnabled = *r.RetryEnabled
	}
	if r.MaxRetries != nil {
		w.MaxRetries = *r.MaxRetries
	}
	if r.RetryDelay != nil {
		w.RetryDelay = *r.RetryDelay
	}
	if r.Timeout != nil {
		w.Timeout = *r.Timeout
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateWebhookRequest replaces the editable fields of a webhook
type UpdateWebhookRequest = CreateWebhookRequest

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// TriggerRequest is the body of POST /api/webhooks/trigger
type TriggerRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func (r *TriggerRequest) Validate() error {
	if r.EventType == "" {
		return NewValidationError("event_type is required")
	}
	if !IsValidEventType(r.EventType) {
		return NewValidationError(fmt.Sprintf("unknown event type: %s", r.EventType))
	}
	if len(r.Payload) == 0 {
		r.Payload = json.RawMessage(`{}`)
	}
	if !json.Valid(r.Payload) {
		return NewValidationError("payload must be valid JSON")
	}
	return nil
}

// TriggerResult lists the deliveries created by a trigger
type TriggerResult struct {
	Triggered   int      `json:"triggered"`
	DeliveryIDs []string `json:"deliveryIds"`
}

// DeliveryOutcome is the synchronous result of a test delivery
type DeliveryOutcome struct {
	DeliveryID   string `json:"delivery_id"`
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WebhookRepository persists webhook definitions. Secrets are stored encrypted
// and returned in clear text.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *Webhook) error
	GetByID(ctx context.Context, ownerID, id string) (*Webhook, error)
	// GetForDelivery loads a webhook without owner scoping, for background redelivery
	GetForDelivery(ctx context.Context, id string) (*Webhook, error)
	List(ctx context.Context, ownerID string) ([]*Webhook, error)
	ListActiveByEvent(ctx context.Context, ownerID, eventType string) ([]*Webhook, error)
	Update(ctx context.Context, webhook *Webhook) error
	UpdateSecret(ctx context.Context, ownerID, id, secret string) error
	UpdateLastTriggeredAt(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, ownerID, id string) error
}

// WebhookDeliveryRepository persists delivery records
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*WebhookDelivery, error)
	ListByWebhook(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error)
	MarkSuccess(ctx context.Context, id string, responseStatus int, responseBody string, deliveredAt time.Time) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, responseStatus *int, responseBody, errorMessage *string, attemptedAt time.Time) error
	MarkFailed(ctx context.Context, id string, responseStatus *int, responseBody, errorMessage *string, attemptedAt time.Time) error
	// MakeDue moves the next attempt of a pending delivery to at
	MakeDue(ctx context.Context, id string, at time.Time) error
	// ClaimDue atomically moves due records to retrying, pushes their next_retry_at
	// out by lease so a crashed worker's claims become due again, and returns them
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*WebhookDelivery, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookService is consumed by the HTTP layer
type WebhookService interface {
	CreateWebhook(ctx context.Context, ownerID string, req *CreateWebhookRequest) (*Webhook, error)
	GetWebhook(ctx context.Context, ownerID, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, ownerID string) ([]*Webhook, error)
	UpdateWebhook(ctx context.Context, ownerID, id string, req *UpdateWebhookRequest) (*Webhook, error)
	DeleteWebhook(ctx context.Context, ownerID, id string) error
	RegenerateSecret(ctx context.Context, ownerID, id string) (*Webhook, error)
	ListDeliveries(ctx context.Context, ownerID, webhookID string, limit int) ([]*WebhookDelivery, error)
	EventTypes() []string
}

// WebhookDispatcher fans events out to subscribers
type WebhookDispatcher interface {
	Trigger(ctx context.Context, ownerID, eventType string, payload json.RawMessage) (*TriggerResult, error)
	SendTest(ctx context.Context, ownerID, webhookID string) (*DeliveryOutcome, error)
}
