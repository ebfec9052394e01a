package service

import (
	"context"
	"time"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/logger"
)

// Redeliverer queues another attempt for a claimed delivery
type Redeliverer interface {
	RedeliveryCapacity() int
	QueueRedelivery(delivery *domain.WebhookDelivery) bool
}

// RetryPollerConfig configures the retry poller
type RetryPollerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	ClaimLease      time.Duration
	CleanupInterval time.Duration
	RetentionDays   int
}

// DefaultRetryPollerConfig returns the default poller settings
func DefaultRetryPollerConfig() RetryPollerConfig {
	return RetryPollerConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       100,
		ClaimLease:      DefaultRecoveryLease,
		CleanupInterval: 1 * time.Hour,
		RetentionDays:   30,
	}
}

// WebhookRetryPoller re-sends deliveries whose next_retry_at has passed and
// periodically removes old finished deliveries.
type WebhookRetryPoller struct {
	deliveryRepo    domain.WebhookDeliveryRepository
	redeliverer     Redeliverer
	logger          logger.Logger
	config          RetryPollerConfig
	lastCleanupTime time.Time
	now             func() time.Time
}

// NewWebhookRetryPoller creates a poller. Zero config fields take the defaults.
func NewWebhookRetryPoller(
	deliveryRepo domain.WebhookDeliveryRepository,
	redeliverer Redeliverer,
	config RetryPollerConfig,
	logger logger.Logger,
) *WebhookRetryPoller {
	defaults := DefaultRetryPollerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaults.RetentionDays
	}

	return &WebhookRetryPoller{
		deliveryRepo: deliveryRepo,
		redeliverer:  redeliverer,
		logger:       logger,
		config:       config,
		now:          time.Now,
	}
}

// Start runs the poll loop until ctx is cancelled
func (p *WebhookRetryPoller) Start(ctx context.Context) {
	p.logger.WithFields(map[string]interface{}{
		"poll_interval": p.config.PollInterval.String(),
		"batch_size":    p.config.BatchSize,
	}).Info("Webhook retry poller started")

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Webhook retry poller stopping...")
			return
		case <-ticker.C:
			p.processDeliveries(ctx)
		}
	}
}

// processDeliveries claims no more due deliveries than the delivery queue can
// take and hands them to the workers, so the poll loop never waits on HTTP.
func (p *WebhookRetryPoller) processDeliveries(ctx context.Context) {
	p.cleanupOldDeliveries(ctx)

	limit := p.config.BatchSize
	if free := p.redeliverer.RedeliveryCapacity(); free < limit {
		limit = free
	}
	if limit <= 0 {
		p.logger.Debug("Webhook delivery queue full, skipping retry poll")
		return
	}

	deliveries, err := p.deliveryRepo.ClaimDue(ctx, p.now().UTC(), p.config.ClaimLease, limit)
	if err != nil {
		p.logger.WithField("error", err.Error()).Error("Failed to claim due webhook deliveries")
		return
	}
	if len(deliveries) == 0 {
		return
	}

	p.logger.WithField("count", len(deliveries)).Debug("Retrying webhook deliveries")

	for i, delivery := range deliveries {
		if ctx.Err() != nil {
			// unqueued claims become due again when their lease runs out
			return
		}
		if !p.redeliverer.QueueRedelivery(delivery) {
			p.logger.WithFields(map[string]interface{}{
				"delivery_id":  delivery.ID,
				"left_claimed": len(deliveries) - i,
			}).Warn("Webhook delivery queue full, claims wait for their lease")
			return
		}
	}
}

// cleanupOldDeliveries removes finished deliveries older than the retention period
func (p *WebhookRetryPoller) cleanupOldDeliveries(ctx context.Context) {
	now := p.now()
	if now.Sub(p.lastCleanupTime) < p.config.CleanupInterval {
		return
	}
	p.lastCleanupTime = now

	cutoff := now.UTC().AddDate(0, 0, -p.config.RetentionDays)
	deleted, err := p.deliveryRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.WithField("error", err.Error()).Error("Failed to cleanup old webhook deliveries")
		return
	}
	if deleted > 0 {
		p.logger.WithField("deleted", deleted).Info("Cleaned up old webhook deliveries")
	}
}
