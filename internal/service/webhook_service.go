package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/crypto"
	"github.com/leadforge/leadforge/pkg/logger"
)

const (
	defaultDeliveryListLimit = 50
	maxDeliveryListLimit     = 500
)

// WebhookService handles webhook registry business logic
type WebhookService struct {
	repo         domain.WebhookRepository
	deliveryRepo domain.WebhookDeliveryRepository
	logger       logger.Logger
	now          func() time.Time
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	repo domain.WebhookRepository,
	deliveryRepo domain.WebhookDeliveryRepository,
	logger logger.Logger,
) *WebhookService {
	return &WebhookService{
		repo:         repo,
		deliveryRepo: deliveryRepo,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateWebhook creates a webhook with a freshly generated secret
func (s *WebhookService) CreateWebhook(ctx context.Context, ownerID string, req *domain.CreateWebhookRequest) (*domain.Webhook, error) {
	webhook, err := req.Validate(ownerID)
	if err != nil {
		return nil, err
	}

	secret, err := crypto.GenerateSecret(crypto.SecretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	now := s.now().UTC()
	webhook.ID = uuid.New().String()
	webhook.SecretKey = secret
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	if err := s.repo.Create(ctx, webhook); err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"owner_id":   ownerID,
		"webhook_id": webhook.ID,
		"events":     webhook.Events,
	}).Info("Created webhook")

	return webhook, nil
}

// GetWebhook retrieves a webhook by ID
func (s *WebhookService) GetWebhook(ctx context.Context, ownerID, id string) (*domain.Webhook, error) {
	webhook, err := s.repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return webhook, nil
}

// ListWebhooks retrieves all webhooks of the owner
func (s *WebhookService) ListWebhooks(ctx context.Context, ownerID string) ([]*domain.Webhook, error) {
	webhooks, err := s.repo.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return webhooks, nil
}

// UpdateWebhook replaces the editable fields. The secret and delivery
// bookkeeping are carried over from the stored webhook.
func (s *WebhookService) UpdateWebhook(ctx context.Context, ownerID, id string, req *domain.UpdateWebhookRequest) (*domain.Webhook, error) {
	existing, err := s.repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	updated, err := req.Validate(ownerID)
	if err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.SecretKey = existing.SecretKey
	updated.LastTriggeredAt = existing.LastTriggeredAt
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to update webhook: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"owner_id":   ownerID,
		"webhook_id": id,
		"status":     updated.Status,
	}).Info("Updated webhook")

	return updated, nil
}

// DeleteWebhook deletes a webhook and, through the schema, its deliveries
func (s *WebhookService) DeleteWebhook(ctx context.Context, ownerID, id string) error {
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"owner_id":   ownerID,
		"webhook_id": id,
	}).Info("Deleted webhook")

	return nil
}

// RegenerateSecret rotates the signing secret. It is the only way to change it.
func (s *WebhookService) RegenerateSecret(ctx context.Context, ownerID, id string) (*domain.Webhook, error) {
	existing, err := s.repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	secret, err := crypto.GenerateSecret(crypto.SecretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	if err := s.repo.UpdateSecret(ctx, ownerID, id, secret); err != nil {
		return nil, fmt.Errorf("failed to regenerate webhook secret: %w", err)
	}
	existing.SecretKey = secret

	s.logger.WithFields(map[string]interface{}{
		"owner_id":   ownerID,
		"webhook_id": id,
	}).Info("Regenerated webhook secret")

	return existing, nil
}

// ListDeliveries returns the webhook's delivery history, newest first
func (s *WebhookService) ListDeliveries(ctx context.Context, ownerID, webhookID string, limit int) ([]*domain.WebhookDelivery, error) {
	if _, err := s.repo.GetByID(ctx, ownerID, webhookID); err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	if limit <= 0 {
		limit = defaultDeliveryListLimit
	}
	if limit > maxDeliveryListLimit {
		limit = maxDeliveryListLimit
	}

	deliveries, err := s.deliveryRepo.ListByWebhook(ctx, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook deliveries: %w", err)
	}
	return deliveries, nil
}

// EventTypes returns the list of available event types
func (s *WebhookService) EventTypes() []string {
	return domain.WebhookEventTypes
}
