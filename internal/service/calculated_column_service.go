package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/tracing"
)

const defaultBatchConcurrency = 16

// CalculatedColumnService manages column definitions and evaluates them per
// lead, reusing unexpired results from the result cache.
type CalculatedColumnService struct {
	columnRepo       domain.CalculatedColumnRepository
	resultRepo       domain.CalculatedResultRepository
	formulas         *FormulaService
	enricher         Enricher
	batchConcurrency int64
	logger           logger.Logger
	now              func() time.Time
}

// NewCalculatedColumnService creates the service. enricher may be nil, in
// which case ai_enrichment columns can be saved but not evaluated.
func NewCalculatedColumnService(
	columnRepo domain.CalculatedColumnRepository,
	resultRepo domain.CalculatedResultRepository,
	formulas *FormulaService,
	enricher Enricher,
	batchConcurrency int,
	logger logger.Logger,
) *CalculatedColumnService {
	if batchConcurrency <= 0 {
		batchConcurrency = defaultBatchConcurrency
	}
	return &CalculatedColumnService{
		columnRepo:       columnRepo,
		resultRepo:       resultRepo,
		formulas:         formulas,
		enricher:         enricher,
		batchConcurrency: int64(batchConcurrency),
		logger:           logger,
		now:              time.Now,
	}
}

// validateFormula checks the formula against its type before anything is persisted.
func (s *CalculatedColumnService) validateFormula(col *domain.CalculatedColumn) error {
	switch col.FormulaType {
	case domain.FormulaTypeAIEnrichment:
		if err := ValidatePromptTemplate(col.Formula); err != nil {
			return domain.NewValidationError(err.Error())
		}
	default:
		if _, err := s.formulas.Compile(col.Formula); err != nil {
			return domain.NewValidationError(fmt.Sprintf("invalid formula: %s", err.Error()))
		}
	}
	return nil
}

func (s *CalculatedColumnService) CreateColumn(ctx context.Context, ownerID string, req *domain.CreateCalculatedColumnRequest) (*domain.CalculatedColumn, error) {
	ctx, span := tracing.StartServiceSpan(ctx, "CalculatedColumnService", "CreateColumn")
	defer span.End()

	col, err := req.Validate(ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.validateFormula(col); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	col.ID = uuid.New().String()
	col.CreatedAt = now
	col.UpdatedAt = now

	if err := s.columnRepo.Create(ctx, col); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"owner_id":    ownerID,
			"column_name": col.ColumnName,
			"error":       err.Error(),
		}).Error("Failed to create calculated column")
		return nil, err
	}

	return col, nil
}

func (s *CalculatedColumnService) GetColumn(ctx context.Context, ownerID, id string) (*domain.CalculatedColumn, error) {
	return s.columnRepo.GetByID(ctx, ownerID, id)
}

func (s *CalculatedColumnService) ListColumns(ctx context.Context, ownerID string, filter domain.CalculatedColumnFilter) ([]*domain.CalculatedColumn, error) {
	return s.columnRepo.List(ctx, ownerID, filter)
}

// UpdateColumn replaces the editable fields. When the formula, its type or the
// result type change, the column's cached results are dropped with the update.
func (s *CalculatedColumnService) UpdateColumn(ctx context.Context, ownerID, id string, req *domain.UpdateCalculatedColumnRequest) (*domain.CalculatedColumn, error) {
	ctx, span := tracing.StartServiceSpan(ctx, "CalculatedColumnService", "UpdateColumn")
	defer span.End()

	existing, err := s.columnRepo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	updated, err := req.Validate(ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.validateFormula(updated); err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now().UTC()

	invalidate := updated.InvalidatesResults(existing)
	if err := s.columnRepo.Update(ctx, updated, invalidate); err != nil {
		return nil, err
	}

	if invalidate {
		s.logger.WithFields(map[string]interface{}{
			"owner_id":  ownerID,
			"column_id": id,
		}).Info("Calculated column formula changed, cached results invalidated")
	}

	return updated, nil
}

func (s *CalculatedColumnService) DeleteColumn(ctx context.Context, ownerID, id string) error {
	if err := s.columnRepo.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"owner_id":  ownerID,
		"column_id": id,
	}).Info("Calculated column deleted")
	return nil
}

// cachedValue returns the cached value for the pair, if any is still valid.
func (s *CalculatedColumnService) cachedValue(ctx context.Context, ownerID, columnID, leadID string) (interface{}, bool, error) {
	cached, err := s.resultRepo.GetValid(ctx, ownerID, columnID, leadID, s.now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached result: %w", err)
	}
	if cached == nil {
		return nil, false, nil
	}
	value, err := cached.DecodedValue()
	if err != nil {
		// unreadable entries are recomputed and overwritten
		s.logger.WithFields(map[string]interface{}{
			"column_id": columnID,
			"lead_id":   leadID,
			"error":     err.Error(),
		}).Warn("Discarding unreadable cached result")
		return nil, false, nil
	}
	return value, true, nil
}

// compute evaluates col for one lead and stores the coerced result.
// Failed evaluations are returned without touching the cache.
func (s *CalculatedColumnService) compute(ctx context.Context, col *domain.CalculatedColumn, leadID string, leadData map[string]interface{}) (interface{}, error) {
	if !col.IsActive {
		return nil, &domain.ErrColumnInactive{ID: col.ID}
	}

	var (
		raw interface{}
		err error
	)
	switch col.FormulaType {
	case domain.FormulaTypeAIEnrichment:
		if s.enricher == nil {
			return nil, fmt.Errorf("no enrichment provider configured for column %s", col.ID)
		}
		raw, err = s.enricher.Enrich(ctx, col, leadData)
	default:
		raw, err = s.formulas.Evaluate(ctx, col.Formula, leadData)
	}
	if err != nil {
		return nil, err
	}

	value, err := domain.CoerceResult(raw, col.ResultType)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	now := s.now().UTC()
	result := &domain.CalculatedResult{
		ColumnID:      col.ID,
		LeadID:        leadID,
		Value:         encoded,
		ComputedAt:    now,
		ExpiresAt:     col.ExpiresAt(now),
		ColumnVersion: col.UpdatedAt,
	}
	stored, err := s.resultRepo.Upsert(ctx, result)
	switch {
	case err != nil:
		// the value is still correct, only the next call pays for recomputation
		s.logger.WithFields(map[string]interface{}{
			"column_id": col.ID,
			"lead_id":   leadID,
			"error":     err.Error(),
		}).Error("Failed to cache calculated result")
	case !stored:
		s.logger.WithFields(map[string]interface{}{
			"column_id": col.ID,
			"lead_id":   leadID,
		}).Debug("Column changed during evaluation, result not cached")
	}

	return value, nil
}

// EvaluateForLead returns the column value for one lead, from cache unless forceRefresh is set.
func (s *CalculatedColumnService) EvaluateForLead(ctx context.Context, ownerID, columnID, leadID string, leadData map[string]interface{}, forceRefresh bool) (*domain.EvaluationResult, error) {
	ctx, span := tracing.StartServiceSpan(ctx, "CalculatedColumnService", "EvaluateForLead")
	tracing.AddAttribute(ctx, "column_id", columnID)
	tracing.AddAttribute(ctx, "force_refresh", forceRefresh)

	result, err := s.evaluateForLead(ctx, ownerID, columnID, leadID, leadData, forceRefresh)
	tracing.EndSpan(span, err)
	return result, err
}

func (s *CalculatedColumnService) evaluateForLead(ctx context.Context, ownerID, columnID, leadID string, leadData map[string]interface{}, forceRefresh bool) (*domain.EvaluationResult, error) {
	if leadID == "" {
		return nil, domain.NewValidationError("leadId is required")
	}

	if !forceRefresh {
		value, hit, err := s.cachedValue(ctx, ownerID, columnID, leadID)
		if err != nil {
			return nil, err
		}
		if hit {
			tracing.RecordEvaluation(ctx, true)
			return &domain.EvaluationResult{Value: value, FromCache: true}, nil
		}
	}

	col, err := s.columnRepo.GetByID(ctx, ownerID, columnID)
	if err != nil {
		return nil, err
	}

	value, err := s.compute(ctx, col, leadID, leadData)
	if err != nil {
		return nil, err
	}

	tracing.RecordEvaluation(ctx, false)
	return &domain.EvaluationResult{Value: value, FromCache: false}, nil
}

// EvaluateForLeads evaluates every lead concurrently. Leads whose evaluation
// fails are left out of the returned map.
func (s *CalculatedColumnService) EvaluateForLeads(ctx context.Context, ownerID, columnID string, leads []domain.LeadInput) (map[string]interface{}, error) {
	ctx, span := tracing.StartServiceSpan(ctx, "CalculatedColumnService", "EvaluateForLeads")
	defer span.End()
	tracing.AddAttribute(ctx, "column_id", columnID)
	tracing.AddAttribute(ctx, "lead_count", len(leads))

	col, err := s.columnRepo.GetByID(ctx, ownerID, columnID)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]interface{}, len(leads))
		failed  int
	)
	sem := semaphore.NewWeighted(s.batchConcurrency)

	for _, lead := range leads {
		if lead.LeadID == "" {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// context cancelled, return what finished
			break
		}
		wg.Add(1)
		go func(lead domain.LeadInput) {
			defer wg.Done()
			defer sem.Release(1)

			value, err := s.evaluateBatchLead(ctx, ownerID, col, lead)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.WithFields(map[string]interface{}{
					"column_id": col.ID,
					"lead_id":   lead.LeadID,
					"error":     err.Error(),
				}).Debug("Lead evaluation failed in batch")
				return
			}
			results[lead.LeadID] = value
		}(lead)
	}
	wg.Wait()

	if failed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"column_id": col.ID,
			"failed":    failed,
			"succeeded": len(results),
		}).Info("Batch evaluation finished with failures")
	}

	return results, nil
}

func (s *CalculatedColumnService) evaluateBatchLead(ctx context.Context, ownerID string, col *domain.CalculatedColumn, lead domain.LeadInput) (interface{}, error) {
	value, hit, err := s.cachedValue(ctx, ownerID, col.ID, lead.LeadID)
	if err != nil {
		return nil, err
	}
	if hit {
		tracing.RecordEvaluation(ctx, true)
		return value, nil
	}
	value, err = s.compute(ctx, col, lead.LeadID, lead.LeadData)
	if err != nil {
		return nil, err
	}
	tracing.RecordEvaluation(ctx, false)
	return value, nil
}

// ClearCache deletes every cached result of the column and returns how many were removed.
func (s *CalculatedColumnService) ClearCache(ctx context.Context, ownerID, columnID string) (int64, error) {
	if _, err := s.columnRepo.GetByID(ctx, ownerID, columnID); err != nil {
		return 0, err
	}
	deleted, err := s.resultRepo.DeleteByColumn(ctx, ownerID, columnID)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(map[string]interface{}{
		"column_id": columnID,
		"deleted":   deleted,
	}).Info("Calculated column cache cleared")
	return deleted, nil
}
