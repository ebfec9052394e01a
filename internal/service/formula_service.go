package service

import (
	"context"
	"time"

	"github.com/leadforge/leadforge/pkg/cache"
	"github.com/leadforge/leadforge/pkg/formula"
	"github.com/leadforge/leadforge/pkg/logger"
	"github.com/leadforge/leadforge/pkg/tracing"
)

// FormulaService compiles and evaluates ad-hoc formulas. Compiled trees are
// cached by source text because the same column formula is evaluated for
// every lead in a batch.
type FormulaService struct {
	astCache  cache.Cache[formula.Node]
	cacheTTL  time.Duration
	evaluator *formula.Evaluator
	logger    logger.Logger
}

// NewFormulaService creates a formula service. A nil evaluator uses the wall clock.
func NewFormulaService(astCache cache.Cache[formula.Node], cacheTTL time.Duration, evaluator *formula.Evaluator, logger logger.Logger) *FormulaService {
	if evaluator == nil {
		evaluator = formula.NewEvaluator()
	}
	return &FormulaService{
		astCache:  astCache,
		cacheTTL:  cacheTTL,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Compile returns the parsed and checked tree for source, from cache when possible.
func (s *FormulaService) Compile(source string) (formula.Node, error) {
	if s.astCache == nil {
		return formula.Compile(source)
	}
	return s.astCache.GetOrSet(source, s.cacheTTL, func() (formula.Node, error) {
		return formula.Compile(source)
	})
}

func (s *FormulaService) Validate(ctx context.Context, source string) formula.ValidationResult {
	if _, err := s.Compile(source); err != nil {
		return formula.ValidationResult{Valid: false, Error: err.Error()}
	}
	return formula.ValidationResult{Valid: true}
}

// Evaluate compiles source and evaluates it against data.
func (s *FormulaService) Evaluate(ctx context.Context, source string, data map[string]interface{}) (interface{}, error) {
	_, span := tracing.StartServiceSpan(ctx, "FormulaService", "Evaluate")
	node, err := s.Compile(source)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	result, err := s.evaluator.Evaluate(node, data)
	if err != nil {
		s.logger.WithField("error", err.Error()).Debug("Formula evaluation failed")
	}
	tracing.EndSpan(span, err)
	return result, err
}

func (s *FormulaService) Functions() []formula.FunctionSpec {
	return formula.Functions()
}
