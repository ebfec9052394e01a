package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/crypto"
)

var webhookFields = []string{
	"id", "name", "url", "status", "secret_key", "events", "headers",
	"transform_enabled", "transform_script", "retry_enabled", "max_retries",
	"retry_delay", "timeout_ms", "created_by", "last_triggered_at", "created_at", "updated_at",
}

// WebhookRepository implements domain.WebhookRepository for PostgreSQL.
// Secrets are encrypted with secretKey before they are written.
type WebhookRepository struct {
	db        *sql.DB
	secretKey string
}

func NewWebhookRepository(db *sql.DB, secretKey string) *WebhookRepository {
	return &WebhookRepository{
		db:        db,
		secretKey: secretKey,
	}
}

// Create inserts a webhook with its generated secret
func (r *WebhookRepository) Create(ctx context.Context, webhook *domain.Webhook) error {
	now := time.Now().UTC()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	encryptedSecret, err := crypto.EncryptString(webhook.SecretKey, r.secretKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}

	headersJSON, err := json.Marshal(webhook.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO webhooks (
			id, name, url, status, secret_key, events, headers,
			transform_enabled, transform_script, retry_enabled, max_retries,
			retry_delay, timeout_ms, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = r.db.ExecContext(ctx, query,
		webhook.ID,
		webhook.Name,
		webhook.URL,
		string(webhook.Status),
		encryptedSecret,
		pq.Array(webhook.Events),
		headersJSON,
		webhook.TransformEnabled,
		webhook.TransformScript,
		webhook.RetryEnabled,
		webhook.MaxRetries,
		webhook.RetryDelay,
		webhook.Timeout,
		webhook.CreatedBy,
		webhook.CreatedAt,
		webhook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

// GetByID returns the owner's webhook or ErrNotFound
func (r *WebhookRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Webhook, error) {
	return r.getOne(ctx, sq.Eq{"id": id, "created_by": ownerID}, id)
}

// GetForDelivery loads a webhook by id alone
func (r *WebhookRepository) GetForDelivery(ctx context.Context, id string) (*domain.Webhook, error) {
	return r.getOne(ctx, sq.Eq{"id": id}, id)
}

func (r *WebhookRepository) getOne(ctx context.Context, where sq.Eq, id string) (*domain.Webhook, error) {
	query, args, err := psql.
		Select(webhookFields...).
		From("webhooks").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	webhook, err := r.scanWebhook(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Entity: "webhook", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return webhook, nil
}

// List returns the owner's webhooks, newest first
func (r *WebhookRepository) List(ctx context.Context, ownerID string) ([]*domain.Webhook, error) {
	return r.list(ctx, psql.
		Select(webhookFields...).
		From("webhooks").
		Where(sq.Eq{"created_by": ownerID}).
		OrderBy("created_at DESC"))
}

// ListActiveByEvent returns the owner's active webhooks subscribed to eventType
func (r *WebhookRepository) ListActiveByEvent(ctx context.Context, ownerID, eventType string) ([]*domain.Webhook, error) {
	return r.list(ctx, psql.
		Select(webhookFields...).
		From("webhooks").
		Where(sq.Eq{"created_by": ownerID, "status": string(domain.WebhookStatusActive)}).
		Where("? = ANY(events)", eventType).
		OrderBy("created_at ASC"))
}

func (r *WebhookRepository) list(ctx context.Context, builder sq.SelectBuilder) ([]*domain.Webhook, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := make([]*domain.Webhook, 0)
	for rows.Next() {
		webhook, err := r.scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, webhook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhooks: %w", err)
	}
	return webhooks, nil
}

// Update replaces the editable fields. The secret is never touched here.
func (r *WebhookRepository) Update(ctx context.Context, webhook *domain.Webhook) error {
	webhook.UpdatedAt = time.Now().UTC()

	headersJSON, err := json.Marshal(webhook.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE webhooks
		SET name = $3, url = $4, status = $5, events = $6, headers = $7,
			transform_enabled = $8, transform_script = $9, retry_enabled = $10,
			max_retries = $11, retry_delay = $12, timeout_ms = $13, updated_at = $14
		WHERE id = $1 AND created_by = $2
	`,
		webhook.ID,
		webhook.CreatedBy,
		webhook.Name,
		webhook.URL,
		string(webhook.Status),
		pq.Array(webhook.Events),
		headersJSON,
		webhook.TransformEnabled,
		webhook.TransformScript,
		webhook.RetryEnabled,
		webhook.MaxRetries,
		webhook.RetryDelay,
		webhook.Timeout,
		webhook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return requireAffected(result, "webhook", webhook.ID)
}

// UpdateSecret stores a rotated secret
func (r *WebhookRepository) UpdateSecret(ctx context.Context, ownerID, id, secret string) error {
	encryptedSecret, err := crypto.EncryptString(secret, r.secretKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET secret_key = $3, updated_at = $4 WHERE id = $1 AND created_by = $2`,
		id, ownerID, encryptedSecret, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook secret: %w", err)
	}
	return requireAffected(result, "webhook", id)
}

func (r *WebhookRepository) UpdateLastTriggeredAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhooks SET last_triggered_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last triggered time: %w", err)
	}
	return nil
}

// Delete removes the webhook. Its deliveries go with it (ON DELETE CASCADE).
func (r *WebhookRepository) Delete(ctx context.Context, ownerID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhooks WHERE id = $1 AND created_by = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return requireAffected(result, "webhook", id)
}

func (r *WebhookRepository) scanWebhook(scanner rowScanner) (*domain.Webhook, error) {
	var (
		webhook         domain.Webhook
		status          string
		encryptedSecret string
		headersJSON     []byte
		transformScript sql.NullString
		lastTriggeredAt sql.NullTime
	)

	if err := scanner.Scan(
		&webhook.ID,
		&webhook.Name,
		&webhook.URL,
		&status,
		&encryptedSecret,
		pq.Array(&webhook.Events),
		&headersJSON,
		&webhook.TransformEnabled,
		&transformScript,
		&webhook.RetryEnabled,
		&webhook.MaxRetries,
		&webhook.RetryDelay,
		&webhook.Timeout,
		&webhook.CreatedBy,
		&lastTriggeredAt,
		&webhook.CreatedAt,
		&webhook.UpdatedAt,
	); err != nil {
		return nil, err
	}

	secret, err := crypto.DecryptFromHexString(encryptedSecret, r.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt webhook secret: %w", err)
	}

	webhook.Status = domain.WebhookStatus(status)
	webhook.SecretKey = secret
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &webhook.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if webhook.Headers == nil {
		webhook.Headers = map[string]string{}
	}
	if transformScript.Valid {
		webhook.TransformScript = &transformScript.String
	}
	if lastTriggeredAt.Valid {
		webhook.LastTriggeredAt = &lastTriggeredAt.Time
	}
	return &webhook, nil
}

func requireAffected(result sql.Result, entity, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return &domain.ErrNotFound{Entity: entity, ID: id}
	}
	return nil
}
