package service

import (
	"context"
	"time"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/logger"
)

// CalculatedResultSweeper deletes expired cached results. Expired rows are
// never served, so the sweep only bounds table growth.
type CalculatedResultSweeper struct {
	resultRepo domain.CalculatedResultRepository
	interval   time.Duration
	logger     logger.Logger
	now        func() time.Time
}

func NewCalculatedResultSweeper(resultRepo domain.CalculatedResultRepository, interval time.Duration, logger logger.Logger) *CalculatedResultSweeper {
	return &CalculatedResultSweeper{
		resultRepo: resultRepo,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// Start sweeps every interval until ctx is cancelled. A non-positive interval disables it.
func (s *CalculatedResultSweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Calculated result sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of deleted results
func (s *CalculatedResultSweeper) Sweep(ctx context.Context) int64 {
	deleted, err := s.resultRepo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to sweep expired calculated results")
		return 0
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("Swept expired calculated results")
	}
	return deleted
}
