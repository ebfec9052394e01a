package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/leadforge/leadforge/internal/domain"
)

var webhookDeliveryFields = []string{
	"id", "webhook_id", "event_type", "payload", "transformed_payload", "status",
	"response_status", "response_body", "error_message", "retry_count",
	"next_retry_at", "delivered_at", "created_at",
}

// WebhookDeliveryRepository implements domain.WebhookDeliveryRepository for PostgreSQL
type WebhookDeliveryRepository struct {
	db *sql.DB
}

func NewWebhookDeliveryRepository(db *sql.DB) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

// Create inserts a new delivery record
func (r *WebhookDeliveryRepository) Create(ctx context.Context, delivery *domain.WebhookDelivery) error {
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO webhook_deliveries (
			id, webhook_id, event_type, payload, transformed_payload, status,
			retry_count, next_retry_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.WebhookID,
		delivery.EventType,
		[]byte(delivery.Payload),
		nullableJSON(delivery.TransformedPayload),
		delivery.Status,
		delivery.RetryCount,
		nullableTime(delivery.NextRetryAt),
		delivery.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

func (r *WebhookDeliveryRepository) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	query, args, err := psql.
		Select(webhookDeliveryFields...).
		From("webhook_deliveries").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	delivery, err := scanWebhookDelivery(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Entity: "webhook delivery", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook delivery: %w", err)
	}
	return delivery, nil
}

// ListByWebhook returns the most recent deliveries of a webhook, newest first
func (r *WebhookDeliveryRepository) ListByWebhook(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookDelivery, error) {
	query, args, err := psql.
		Select(webhookDeliveryFields...).
		From("webhook_deliveries").
		Where(sq.Eq{"webhook_id": webhookID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// MarkSuccess records a 2xx response
func (r *WebhookDeliveryRepository) MarkSuccess(ctx context.Context, id string, responseStatus int, responseBody string, deliveredAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'success', response_status = $2, response_body = $3,
			error_message = NULL, next_retry_at = NULL, delivered_at = $4
		WHERE id = $1
	`, id, responseStatus, domain.TruncateResponseBody(responseBody), deliveredAt)
	if err != nil {
		return fmt.Errorf("failed to mark delivery as successful: %w", err)
	}
	return nil
}

// ScheduleRetry puts a failed delivery back to pending with its next attempt
// time. retry_count never decreases.
func (r *WebhookDeliveryRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, responseStatus *int, responseBody, errorMessage *string, attemptedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', retry_count = GREATEST(retry_count, $2), next_retry_at = $3,
			response_status = $4, response_body = $5, error_message = $6, delivered_at = $7
		WHERE id = $1
	`, id, retryCount, nextRetryAt, responseStatus, truncatePtr(responseBody), errorMessage, attemptedAt)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

// MakeDue moves the next attempt of a pending delivery to at
func (r *WebhookDeliveryRepository) MakeDue(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET next_retry_at = $2 WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule delivery: %w", err)
	}
	return nil
}

// MarkFailed leaves the delivery in terminal failed state
func (r *WebhookDeliveryRepository) MarkFailed(ctx context.Context, id string, responseStatus *int, responseBody, errorMessage *string, attemptedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', next_retry_at = NULL,
			response_status = $2, response_body = $3, error_message = $4, delivered_at = $5
		WHERE id = $1
	`, id, responseStatus, truncatePtr(responseBody), errorMessage, attemptedAt)
	if err != nil {
		return fmt.Errorf("failed to mark delivery as failed: %w", err)
	}
	return nil
}

// ClaimDue moves up to limit due records to retrying in one statement. Rows
// locked by a concurrent claimer are skipped.
func (r *WebhookDeliveryRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.WebhookDelivery, error) {
	query := fmt.Sprintf(`
		UPDATE webhook_deliveries
		SET status = 'retrying', next_retry_at = $2
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status IN ('pending', 'retrying')
				AND next_retry_at IS NOT NULL
				AND next_retry_at <= $1
			ORDER BY next_retry_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, strings.Join(webhookDeliveryFields, ", "))

	rows, err := r.db.QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// DeleteOlderThan removes finished deliveries created before cutoff
func (r *WebhookDeliveryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_deliveries WHERE created_at < $1 AND status IN ('success', 'failed')`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old deliveries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return deleted, nil
}

func collectDeliveries(rows *sql.Rows) ([]*domain.WebhookDelivery, error) {
	deliveries := make([]*domain.WebhookDelivery, 0)
	for rows.Next() {
		delivery, err := scanWebhookDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}
	return deliveries, nil
}

func scanWebhookDelivery(scanner rowScanner) (*domain.WebhookDelivery, error) {
	var (
		delivery           domain.WebhookDelivery
		payload            []byte
		transformedPayload []byte
		responseStatus     sql.NullInt32
		responseBody       sql.NullString
		errorMessage       sql.NullString
		nextRetryAt        sql.NullTime
		deliveredAt        sql.NullTime
	)

	if err := scanner.Scan(
		&delivery.ID,
		&delivery.WebhookID,
		&delivery.EventType,
		&payload,
		&transformedPayload,
		&delivery.Status,
		&responseStatus,
		&responseBody,
		&errorMessage,
		&delivery.RetryCount,
		&nextRetryAt,
		&deliveredAt,
		&delivery.CreatedAt,
	); err != nil {
		return nil, err
	}

	delivery.Payload = payload
	if len(transformedPayload) > 0 {
		delivery.TransformedPayload = transformedPayload
	}
	if responseStatus.Valid {
		status := int(responseStatus.Int32)
		delivery.ResponseStatus = &status
	}
	if responseBody.Valid {
		delivery.ResponseBody = &responseBody.String
	}
	if errorMessage.Valid {
		delivery.ErrorMessage = &errorMessage.String
	}
	if nextRetryAt.Valid {
		delivery.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		delivery.DeliveredAt = &deliveredAt.Time
	}
	return &delivery, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func truncatePtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := domain.TruncateResponseBody(*s)
	return &t
}
