package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/leadforge/pkg/cache"
	"github.com/leadforge/leadforge/pkg/formula"
)

func newTestFormulaService(t *testing.T) (*FormulaService, *cache.InMemoryCache[formula.Node]) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	astCache := cache.NewInMemoryCache[formula.Node](100, 0)
	t.Cleanup(astCache.Stop)

	fixed := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	evaluator := formula.NewEvaluator(formula.WithClock(func() time.Time { return fixed }))
	return NewFormulaService(astCache, time.Minute, evaluator, newMockLogger(ctrl)), astCache
}

func TestFormulaService_Validate(t *testing.T) {
	svc, _ := newTestFormulaService(t)
	ctx := context.Background()

	t.Run("valid formula", func(t *testing.T) {
		res := svc.Validate(ctx, `concat("Hello ", lead.firstName)`)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Error)
	})

	t.Run("syntax error", func(t *testing.T) {
		res := svc.Validate(ctx, `concat("Hello ", `)
		assert.False(t, res.Valid)
		assert.NotEmpty(t, res.Error)
	})

	t.Run("unknown function", func(t *testing.T) {
		res := svc.Validate(ctx, `shout(lead.name)`)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Error, "shout")
	})

	t.Run("wrong arity", func(t *testing.T) {
		res := svc.Validate(ctx, `upper("a", "b")`)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Error, "upper")
	})
}

func TestFormulaService_Evaluate(t *testing.T) {
	svc, astCache := newTestFormulaService(t)
	ctx := context.Background()

	t.Run("evaluates against the lead", func(t *testing.T) {
		result, err := svc.Evaluate(ctx, `concat("Hello ", lead.firstName)`, map[string]interface{}{"firstName": "Ana"})
		require.NoError(t, err)
		assert.Equal(t, "Hello Ana", result)
	})

	t.Run("reuses the compiled tree", func(t *testing.T) {
		before := astCache.Size()
		for i := 0; i < 3; i++ {
			_, err := svc.Evaluate(ctx, `lead.score * 2`, map[string]interface{}{"score": float64(i)})
			require.NoError(t, err)
		}
		assert.Equal(t, before+1, astCache.Size())
	})

	t.Run("nil context resolves missing fields to nil", func(t *testing.T) {
		result, err := svc.Evaluate(ctx, `lead.missingField`, nil)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("division by zero", func(t *testing.T) {
		_, err := svc.Evaluate(ctx, `1 / 0`, nil)
		var evalErr *formula.EvaluationError
		assert.True(t, errors.As(err, &evalErr))
	})

	t.Run("parse failures are not cached", func(t *testing.T) {
		before := astCache.Size()
		_, err := svc.Evaluate(ctx, `(1 + `, nil)
		var syntaxErr *formula.SyntaxError
		assert.True(t, errors.As(err, &syntaxErr))
		assert.Equal(t, before, astCache.Size())
	})

	t.Run("uses the injected clock", func(t *testing.T) {
		result, err := svc.Evaluate(ctx, `formatDate(now())`, nil)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-15", result)
	})
}

func TestFormulaService_WithoutCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := NewFormulaService(nil, 0, nil, newMockLogger(ctrl))
	result, err := svc.Evaluate(context.Background(), `1 + 2`, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(3), result)
}

func TestFormulaService_Functions(t *testing.T) {
	svc, _ := newTestFormulaService(t)
	names := map[string]bool{}
	for _, fn := range svc.Functions() {
		names[fn.Name] = true
	}
	for _, name := range []string{"concat", "upper", "round", "sum", "if", "now", "daysBetween", "formatDate"} {
		assert.True(t, names[name], "missing %s", name)
	}
}
