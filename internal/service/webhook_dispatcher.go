package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	svix "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/crypto"
	"github.com/leadforge/leadforge/pkg/formula"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/tracing"
)

// Outbound headers
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery-Id"
)

const (
	// maxResponseReadBytes caps how much of a subscriber response is read
	maxResponseReadBytes = 40000
	// DefaultRecoveryLease is how long a queued delivery may wait for a worker
	// before the retry poller treats it as lost
	DefaultRecoveryLease = 10 * time.Minute
)

// WebhookDispatcher fans events out to subscribed webhooks and performs the
// HTTP delivery attempts.
type WebhookDispatcher struct {
	webhookRepo   domain.WebhookRepository
	deliveryRepo  domain.WebhookDeliveryRepository
	pool          *DeliveryPool
	httpClient    *http.Client
	logger        logger.Logger
	recoveryLease time.Duration
	now           func() time.Time
}

// NewWebhookDispatcher creates a dispatcher. The client's own timeout is
// irrelevant: every attempt is bounded by its webhook's timeout.
func NewWebhookDispatcher(
	webhookRepo domain.WebhookRepository,
	deliveryRepo domain.WebhookDeliveryRepository,
	pool *DeliveryPool,
	httpClient *http.Client,
	logger logger.Logger,
) *WebhookDispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WebhookDispatcher{
		webhookRepo:   webhookRepo,
		deliveryRepo:  deliveryRepo,
		pool:          pool,
		httpClient:    httpClient,
		logger:        logger,
		recoveryLease: DefaultRecoveryLease,
		now:           time.Now,
	}
}

// Start launches the delivery workers
func (d *WebhookDispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx, d.handleJob)
}

// Stop waits for attempts in flight
func (d *WebhookDispatcher) Stop() {
	d.pool.Stop()
}

func (d *WebhookDispatcher) handleJob(ctx context.Context, job DeliveryJob) {
	if job.Webhook == nil {
		d.Redeliver(ctx, job.Delivery)
		return
	}
	d.deliver(ctx, job.Webhook, job.Delivery, true)
}

// QueueRedelivery hands a delivery claimed by the retry poller to the workers.
// It returns false when the queue is full or the pool is stopped.
func (d *WebhookDispatcher) QueueRedelivery(delivery *domain.WebhookDelivery) bool {
	return d.pool.Submit(DeliveryJob{Delivery: delivery})
}

// RedeliveryCapacity is how many claimed deliveries the workers can take right now
func (d *WebhookDispatcher) RedeliveryCapacity() int {
	return d.pool.Available()
}

// Trigger records one delivery per subscribed webhook and queues the attempts.
// It returns as soon as the records exist; outcomes land on the records.
func (d *WebhookDispatcher) Trigger(ctx context.Context, ownerID, eventType string, payload json.RawMessage) (*domain.TriggerResult, error) {
	ctx, span := tracing.StartServiceSpan(ctx, "WebhookDispatcher", "Trigger")
	defer span.End()
	tracing.AddAttribute(ctx, "event_type", eventType)

	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, domain.NewValidationError("payload must be valid JSON")
	}

	webhooks, err := d.webhookRepo.ListActiveByEvent(ctx, ownerID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}

	result := &domain.TriggerResult{DeliveryIDs: []string{}}
	for _, webhook := range webhooks {
		delivery := d.newDelivery(webhook, eventType, payload, decoded)
		delivery.NextRetryAt = timePtr(delivery.CreatedAt.Add(d.recoveryLease))

		if err := d.deliveryRepo.Create(ctx, delivery); err != nil {
			d.logger.WithFields(map[string]interface{}{
				"webhook_id": webhook.ID,
				"event_type": eventType,
				"error":      err.Error(),
			}).Error("Failed to create webhook delivery")
			continue
		}
		result.DeliveryIDs = append(result.DeliveryIDs, delivery.ID)
		d.enqueue(ctx, webhook, delivery)
	}
	result.Triggered = len(result.DeliveryIDs)

	d.logger.WithFields(map[string]interface{}{
		"owner_id":   ownerID,
		"event_type": eventType,
		"triggered":  result.Triggered,
	}).Debug("Webhook event triggered")

	return result, nil
}

// enqueue hands the attempt to the pool. A full queue leaves the record due
// now so the retry poller sends it instead.
func (d *WebhookDispatcher) enqueue(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery) {
	if d.pool.Submit(DeliveryJob{Webhook: webhook, Delivery: delivery}) {
		return
	}

	d.logger.WithFields(map[string]interface{}{
		"webhook_id":  webhook.ID,
		"delivery_id": delivery.ID,
	}).Warn("Webhook delivery queue full, deferring to retry poller")

	if err := d.deliveryRepo.MakeDue(ctx, delivery.ID, d.now().UTC()); err != nil {
		d.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID,
			"error":       err.Error(),
		}).Error("Failed to make deferred delivery due")
	}
}

// newDelivery builds a pending record, applying the webhook's transform.
func (d *WebhookDispatcher) newDelivery(webhook *domain.Webhook, eventType string, payload json.RawMessage, decoded interface{}) *domain.WebhookDelivery {
	return &domain.WebhookDelivery{
		ID:                 uuid.New().String(),
		WebhookID:          webhook.ID,
		EventType:          eventType,
		Payload:            payload,
		TransformedPayload: d.transform(webhook, decoded),
		Status:             domain.WebhookDeliveryStatusPending,
		RetryCount:         0,
		CreatedAt:          d.now().UTC(),
	}
}

// transform returns the transformed payload, or nil when the webhook has no
// transform or it fails. A failing transform never blocks delivery.
func (d *WebhookDispatcher) transform(webhook *domain.Webhook, decoded interface{}) json.RawMessage {
	if !webhook.TransformEnabled || webhook.TransformScript == nil || *webhook.TransformScript == "" {
		return nil
	}

	out, err := applyTransform(*webhook.TransformScript, decoded)
	if err != nil {
		d.logger.WithFields(map[string]interface{}{
			"webhook_id": webhook.ID,
			"error":      err.Error(),
		}).Warn("Webhook transform failed, sending original payload")
		return nil
	}
	return out
}

func applyTransform(script string, payload interface{}) (json.RawMessage, error) {
	t, err := formula.CompileTransform(script)
	if err != nil {
		return nil, err
	}
	value, err := t.Apply(payload)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transformed payload: %w", err)
	}
	return encoded, nil
}

// Redeliver runs another attempt for a record claimed by the retry poller.
func (d *WebhookDispatcher) Redeliver(ctx context.Context, delivery *domain.WebhookDelivery) {
	webhook, err := d.webhookRepo.GetForDelivery(ctx, delivery.WebhookID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			// leave it claimed; the lease makes it due again
			d.logger.WithFields(map[string]interface{}{
				"delivery_id": delivery.ID,
				"webhook_id":  delivery.WebhookID,
				"error":       err.Error(),
			}).Error("Failed to get webhook for delivery")
			return
		}
		d.abandon(ctx, delivery, "webhook no longer exists")
		return
	}

	if webhook.Status != domain.WebhookStatusActive {
		d.abandon(ctx, delivery, fmt.Sprintf("webhook is %s", webhook.Status))
		return
	}

	d.deliver(ctx, webhook, delivery, true)
}

func (d *WebhookDispatcher) abandon(ctx context.Context, delivery *domain.WebhookDelivery, reason string) {
	if err := d.deliveryRepo.MarkFailed(ctx, delivery.ID, nil, nil, &reason, d.now().UTC()); err != nil {
		d.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID,
			"error":       err.Error(),
		}).Error("Failed to mark delivery as failed")
		return
	}
	d.logger.WithFields(map[string]interface{}{
		"delivery_id": delivery.ID,
		"webhook_id":  delivery.WebhookID,
		"reason":      reason,
	}).Warn("Webhook delivery abandoned")
}

// SendTest sends a synthetic lead.created event to the webhook and waits for
// the outcome. The attempt is recorded but never retried.
func (d *WebhookDispatcher) SendTest(ctx context.Context, ownerID, webhookID string) (*domain.DeliveryOutcome, error) {
	ctx, span := tracing.StartServiceSpan(ctx, "WebhookDispatcher", "SendTest")
	defer span.End()

	webhook, err := d.webhookRepo.GetByID(ctx, ownerID, webhookID)
	if err != nil {
		return nil, err
	}

	testPayload := buildTestPayload(d.now().UTC())
	payload, err := json.Marshal(testPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal test payload: %w", err)
	}

	delivery := d.newDelivery(webhook, domain.TestEventType, payload, testPayload)
	if err := d.deliveryRepo.Create(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to create test delivery: %w", err)
	}

	return d.deliver(ctx, webhook, delivery, false), nil
}

// buildTestPayload returns a realistic lead for test deliveries
func buildTestPayload(now time.Time) map[string]interface{} {
	ts := now.Format(time.RFC3339)
	return map[string]interface{}{
		"test":  true,
		"event": domain.TestEventType,
		"lead": map[string]interface{}{
			"id":         "test_lead_123",
			"firstName":  "Test",
			"lastName":   "Lead",
			"email":      "test@example.com",
			"phone":      "+15555550123",
			"company":    "Example Inc",
			"status":     "new",
			"source":     "webhook_test",
			"created_at": ts,
		},
		"timestamp": ts,
	}
}

// deliver performs one HTTP attempt and records its outcome. With allowRetry
// false a failure is terminal regardless of the webhook's retry settings.
func (d *WebhookDispatcher) deliver(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery, allowRetry bool) *domain.DeliveryOutcome {
	ctx, span := tracing.StartServiceSpan(ctx, "WebhookDispatcher", "deliver")
	defer span.End()
	tracing.AddAttribute(ctx, "webhook_id", webhook.ID)
	tracing.AddAttribute(ctx, "delivery_id", delivery.ID)

	outcome := &domain.DeliveryOutcome{DeliveryID: delivery.ID}
	start := d.now()

	statusCode, responseBody, err := d.send(ctx, webhook, delivery, start)
	attemptedAt := d.now().UTC()
	latency := attemptedAt.Sub(start.UTC())

	if err != nil {
		outcome.Error = err.Error()
		d.handleDeliveryFailure(ctx, webhook, delivery, nil, nil, err.Error(), attemptedAt, allowRetry)
		tracing.RecordDelivery(ctx, "error", latency)
		return outcome
	}

	outcome.StatusCode = statusCode
	outcome.ResponseBody = domain.TruncateResponseBody(responseBody)

	if statusCode >= 200 && statusCode < 300 {
		outcome.Success = true
		d.handleDeliverySuccess(ctx, webhook, delivery, statusCode, responseBody, attemptedAt)
		tracing.RecordDelivery(ctx, domain.WebhookDeliveryStatusSuccess, latency)
	} else {
		msg := fmt.Sprintf("HTTP %d", statusCode)
		outcome.Error = msg
		d.handleDeliveryFailure(ctx, webhook, delivery, &statusCode, &responseBody, msg, attemptedAt, allowRetry)
		tracing.RecordDelivery(ctx, domain.WebhookDeliveryStatusFailed, latency)
	}

	if err := d.webhookRepo.UpdateLastTriggeredAt(ctx, webhook.ID, attemptedAt); err != nil {
		d.logger.WithFields(map[string]interface{}{
			"webhook_id": webhook.ID,
			"error":      err.Error(),
		}).Error("Failed to update webhook last triggered timestamp")
	}

	return outcome
}

// send posts the body and returns the status and the start of the response body.
// Timeouts and network failures are returned as errors.
func (d *WebhookDispatcher) send(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery, at time.Time) (int, string, error) {
	body := delivery.Body()

	ctx, cancel := context.WithTimeout(ctx, webhook.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	if err := signRequest(req, webhook, delivery, body, at); err != nil {
		return 0, "", err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseReadBytes))
	return resp.StatusCode, string(bodyBytes), nil
}

// signRequest applies the webhook's static headers, then the computed ones so
// static headers can never replace them.
func signRequest(req *http.Request, webhook *domain.Webhook, delivery *domain.WebhookDelivery, body []byte, at time.Time) error {
	for name, value := range webhook.Headers {
		req.Header.Set(name, value)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, crypto.SignPayload(body, webhook.SecretKey))
	req.Header.Set(HeaderEvent, delivery.EventType)
	req.Header.Set(HeaderDeliveryID, delivery.ID)

	wh, err := svix.NewWebhookRaw([]byte(webhook.SecretKey))
	if err != nil {
		return fmt.Errorf("failed to create webhook signer: %w", err)
	}
	signature, err := wh.Sign(delivery.ID, at, body)
	if err != nil {
		return fmt.Errorf("failed to sign payload: %w", err)
	}
	req.Header.Set("webhook-id", delivery.ID)
	req.Header.Set("webhook-timestamp", strconv.FormatInt(at.Unix(), 10))
	req.Header.Set("webhook-signature", signature)
	return nil
}

// handleDeliverySuccess marks a delivery as successful
func (d *WebhookDispatcher) handleDeliverySuccess(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery, statusCode int, responseBody string, at time.Time) {
	if err := d.deliveryRepo.MarkSuccess(ctx, delivery.ID, statusCode, responseBody, at); err != nil {
		d.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID,
			"error":       err.Error(),
		}).Error("Failed to mark delivery as successful")
		return
	}

	d.logger.WithFields(map[string]interface{}{
		"delivery_id": delivery.ID,
		"webhook_id":  webhook.ID,
		"status_code": statusCode,
	}).Debug("Webhook delivered successfully")
}

// handleDeliveryFailure schedules the next attempt or gives up.
func (d *WebhookDispatcher) handleDeliveryFailure(ctx context.Context, webhook *domain.Webhook, delivery *domain.WebhookDelivery, statusCode *int, responseBody *string, errorMsg string, at time.Time, allowRetry bool) {
	if !allowRetry || !webhook.CanRetry(delivery.RetryCount) {
		if err := d.deliveryRepo.MarkFailed(ctx, delivery.ID, statusCode, responseBody, &errorMsg, at); err != nil {
			d.logger.WithFields(map[string]interface{}{
				"delivery_id": delivery.ID,
				"error":       err.Error(),
			}).Error("Failed to mark delivery as failed")
			return
		}

		d.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID,
			"webhook_id":  webhook.ID,
			"retry_count": delivery.RetryCount,
			"error":       errorMsg,
		}).Warn("Webhook delivery failed")
		return
	}

	attempts := delivery.RetryCount + 1
	delay := time.Duration(domain.NextRetryDelay(webhook.RetryDelay, attempts)) * time.Second
	nextAttempt := at.Add(delay)

	if err := d.deliveryRepo.ScheduleRetry(ctx, delivery.ID, attempts, nextAttempt, statusCode, responseBody, &errorMsg, at); err != nil {
		d.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID,
			"error":       err.Error(),
		}).Error("Failed to schedule delivery retry")
		return
	}

	d.logger.WithFields(map[string]interface{}{
		"delivery_id":  delivery.ID,
		"webhook_id":   webhook.ID,
		"retry_count":  attempts,
		"next_attempt": nextAttempt.Format(time.RFC3339),
		"error":        errorMsg,
	}).Debug("Webhook delivery failed, scheduled retry")
}

func timePtr(t time.Time) *time.Time {
	return &t
}
