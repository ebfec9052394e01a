package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/internal/domain/mocks"
	"github.com/leadforge/leadforge/pkg/cache"
	"github.com/leadforge/leadforge/pkg/formula"
)

const testOwnerID = "user-1"

type columnServiceFixture struct {
	columnRepo *mocks.MockCalculatedColumnRepository
	resultRepo *mocks.MockCalculatedResultRepository
	svc        *CalculatedColumnService
	now        time.Time
}

func newColumnServiceFixture(t *testing.T, enricher Enricher) *columnServiceFixture {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockLogger := newMockLogger(ctrl)
	astCache := cache.NewInMemoryCache[formula.Node](100, 0)
	t.Cleanup(astCache.Stop)

	f := &columnServiceFixture{
		columnRepo: mocks.NewMockCalculatedColumnRepository(ctrl),
		resultRepo: mocks.NewMockCalculatedResultRepository(ctrl),
		now:        time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	formulas := NewFormulaService(astCache, time.Minute, nil, mockLogger)
	f.svc = NewCalculatedColumnService(f.columnRepo, f.resultRepo, formulas, enricher, 4, mockLogger)
	f.svc.now = func() time.Time { return f.now }
	return f
}

// resultStore backs the result repository mock with a map so cache behavior can be observed
type resultStore struct {
	mu       sync.Mutex
	rows     map[string]*domain.CalculatedResult
	versions map[string]time.Time
}

func newResultStore() *resultStore {
	return &resultStore{rows: map[string]*domain.CalculatedResult{}, versions: map[string]time.Time{}}
}

func (s *resultStore) expect(repo *mocks.MockCalculatedResultRepository) {
	repo.EXPECT().GetValid(gomock.Any(), testOwnerID, gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, columnID, leadID string, now time.Time) (*domain.CalculatedResult, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			r, ok := s.rows[columnID+"/"+leadID]
			if !ok || !r.IsValid(now) {
				return nil, nil
			}
			return r, nil
		}).AnyTimes()
	repo.EXPECT().Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r *domain.CalculatedResult) (bool, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if v, ok := s.versions[r.ColumnID]; ok && !v.Equal(r.ColumnVersion) {
				return false, nil
			}
			s.rows[r.ColumnID+"/"+r.LeadID] = r
			return true, nil
		}).AnyTimes()
}

// columnUpdated mirrors a column update: the stored version moves and cached rows go away
func (s *resultStore) columnUpdated(columnID string, version time.Time) {
	s.mu.Lock()
	s.versions[columnID] = version
	s.mu.Unlock()
	s.dropColumn(columnID)
}

func (s *resultStore) dropColumn(columnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, r := range s.rows {
		if r.ColumnID == columnID {
			delete(s.rows, k)
		}
	}
}

func (s *resultStore) get(columnID, leadID string) *domain.CalculatedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[columnID+"/"+leadID]
}

func textColumn(formulaSrc string) *domain.CalculatedColumn {
	return &domain.CalculatedColumn{
		ID:          "col-1",
		OwnerID:     testOwnerID,
		ColumnName:  "full_greeting",
		Formula:     formulaSrc,
		FormulaType: domain.FormulaTypeCalculation,
		ResultType:  domain.ResultTypeText,
		IsActive:    true,
	}
}

func TestCalculatedColumnService_CreateColumn(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes and persists", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, col *domain.CalculatedColumn) error {
				assert.NotEmpty(t, col.ID)
				assert.Equal(t, "full_greeting", col.ColumnName)
				assert.Equal(t, testOwnerID, col.OwnerID)
				assert.Equal(t, domain.FormulaTypeCalculation, col.FormulaType)
				assert.Equal(t, domain.ResultTypeText, col.ResultType)
				assert.True(t, col.IsActive)
				assert.Equal(t, f.now, col.CreatedAt)
				return nil
			})

		col, err := f.svc.CreateColumn(ctx, testOwnerID, &domain.CreateCalculatedColumnRequest{
			ColumnName: "Full Greeting",
			Formula:    `concat("Hello ", lead.firstName)`,
		})
		require.NoError(t, err)
		assert.Equal(t, "full_greeting", col.ColumnName)
	})

	t.Run("rejects an invalid formula before persisting", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)

		_, err := f.svc.CreateColumn(ctx, testOwnerID, &domain.CreateCalculatedColumnRequest{
			ColumnName: "broken",
			Formula:    `concat("Hello ", `,
		})
		var validationErr domain.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Contains(t, err.Error(), "invalid formula")
	})

	t.Run("rejects unknown functions", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)

		_, err := f.svc.CreateColumn(ctx, testOwnerID, &domain.CreateCalculatedColumnRequest{
			ColumnName: "broken",
			Formula:    `crash()`,
		})
		var validationErr domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
	})

	t.Run("validates enrichment prompts as templates", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)

		_, err := f.svc.CreateColumn(ctx, testOwnerID, &domain.CreateCalculatedColumnRequest{
			ColumnName:  "industry",
			Formula:     `{% if lead.company %}Classify {{ lead.company }}`,
			FormulaType: domain.FormulaTypeAIEnrichment,
		})
		var validationErr domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
	})

	t.Run("accepts a valid enrichment prompt", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

		col, err := f.svc.CreateColumn(ctx, testOwnerID, &domain.CreateCalculatedColumnRequest{
			ColumnName:  "industry",
			Formula:     `Which industry is {{ lead.company }} in?`,
			FormulaType: domain.FormulaTypeAIEnrichment,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.FormulaTypeAIEnrichment, col.FormulaType)
	})

	t.Run("duplicate name", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return(&domain.ErrColumnNameTaken{ColumnName: "full_greeting"})

		_, err := f.svc.CreateColumn(ctx, testOwnerID, &domain.CreateCalculatedColumnRequest{
			ColumnName: "full_greeting",
			Formula:    `lead.firstName`,
		})
		var taken *domain.ErrColumnNameTaken
		assert.True(t, errors.As(err, &taken))
	})
}

func TestCalculatedColumnService_UpdateColumn(t *testing.T) {
	ctx := context.Background()

	t.Run("formula change invalidates results", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		existing := textColumn(`lead.firstName`)
		existing.CreatedAt = f.now.Add(-time.Hour)

		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(existing, nil)
		f.columnRepo.EXPECT().Update(gomock.Any(), gomock.Any(), true).
			DoAndReturn(func(_ context.Context, col *domain.CalculatedColumn, _ bool) error {
				assert.Equal(t, "col-1", col.ID)
				assert.Equal(t, existing.CreatedAt, col.CreatedAt)
				assert.Equal(t, f.now, col.UpdatedAt)
				return nil
			})

		updated, err := f.svc.UpdateColumn(ctx, testOwnerID, "col-1", &domain.UpdateCalculatedColumnRequest{
			ColumnName: "full_greeting",
			Formula:    `upper(lead.firstName)`,
		})
		require.NoError(t, err)
		assert.Equal(t, `upper(lead.firstName)`, updated.Formula)
	})

	t.Run("cache duration change keeps results", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		existing := textColumn(`lead.firstName`)
		ttl := 300

		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(existing, nil)
		f.columnRepo.EXPECT().Update(gomock.Any(), gomock.Any(), false).Return(nil)

		_, err := f.svc.UpdateColumn(ctx, testOwnerID, "col-1", &domain.UpdateCalculatedColumnRequest{
			ColumnName:    "full_greeting",
			Formula:       `lead.firstName`,
			CacheDuration: &ttl,
		})
		require.NoError(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "missing").
			Return(nil, &domain.ErrNotFound{Entity: "calculated column", ID: "missing"})

		_, err := f.svc.UpdateColumn(ctx, testOwnerID, "missing", &domain.UpdateCalculatedColumnRequest{
			ColumnName: "x",
			Formula:    `1`,
		})
		var notFound *domain.ErrNotFound
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestCalculatedColumnService_EvaluateForLead(t *testing.T) {
	ctx := context.Background()

	t.Run("second evaluation is served from cache", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		store := newResultStore()
		store.expect(f.resultRepo)

		var saved *domain.CalculatedColumn
		f.columnRepo.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, col *domain.CalculatedColumn) error {
				saved = col
				return nil
			})
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, gomock.Any()).
			DoAndReturn(func(_ context.Context, _, _ string) (*domain.CalculatedColumn, error) {
				return saved, nil
			}).Times(1)

		col, err := f.svc.CreateColumn(ctx, testOwnerID, &domain.CreateCalculatedColumnRequest{
			ColumnName: "full_greeting",
			Formula:    `concat("Hello ", lead.firstName)`,
			ResultType: domain.ResultTypeText,
		})
		require.NoError(t, err)

		lead := map[string]interface{}{"firstName": "Ana"}
		first, err := f.svc.EvaluateForLead(ctx, testOwnerID, col.ID, "lead-1", lead, false)
		require.NoError(t, err)
		assert.Equal(t, "Hello Ana", first.Value)
		assert.False(t, first.FromCache)

		second, err := f.svc.EvaluateForLead(ctx, testOwnerID, col.ID, "lead-1", lead, false)
		require.NoError(t, err)
		assert.Equal(t, "Hello Ana", second.Value)
		assert.True(t, second.FromCache)
	})

	t.Run("formula edit forces recomputation", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		store := newResultStore()
		store.expect(f.resultRepo)

		current := textColumn(`concat("Hello ", lead.firstName)`)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").
			DoAndReturn(func(_ context.Context, _, _ string) (*domain.CalculatedColumn, error) {
				c := *current
				return &c, nil
			}).AnyTimes()
		f.columnRepo.EXPECT().Update(gomock.Any(), gomock.Any(), true).
			DoAndReturn(func(_ context.Context, col *domain.CalculatedColumn, invalidate bool) error {
				current = col
				if invalidate {
					store.dropColumn(col.ID)
				}
				return nil
			})

		lead := map[string]interface{}{"firstName": "Ana"}
		_, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", lead, false)
		require.NoError(t, err)
		require.NotNil(t, store.get("col-1", "lead-1"))

		_, err = f.svc.UpdateColumn(ctx, testOwnerID, "col-1", &domain.UpdateCalculatedColumnRequest{
			ColumnName: "full_greeting",
			Formula:    `concat("Hi ", lead.firstName)`,
		})
		require.NoError(t, err)

		res, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", lead, false)
		require.NoError(t, err)
		assert.False(t, res.FromCache)
		assert.Equal(t, "Hi Ana", res.Value)
	})

	t.Run("result computed from a superseded column is not cached", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		store := newResultStore()
		store.expect(f.resultRepo)

		v1 := f.now.Add(-time.Hour)
		v2 := f.now
		stale := textColumn(`concat("Hello ", lead.firstName)`)
		stale.UpdatedAt = v1
		fresh := textColumn(`concat("Hi ", lead.firstName)`)
		fresh.UpdatedAt = v2
		store.columnUpdated("col-1", v1)

		gomock.InOrder(
			f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").
				DoAndReturn(func(_ context.Context, _, _ string) (*domain.CalculatedColumn, error) {
					// the edit commits after this read but before the result is written
					store.columnUpdated("col-1", v2)
					return stale, nil
				}),
			f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(fresh, nil),
		)

		lead := map[string]interface{}{"firstName": "Ana"}
		res, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", lead, false)
		require.NoError(t, err)
		assert.Equal(t, "Hello Ana", res.Value)
		assert.Nil(t, store.get("col-1", "lead-1"))

		res, err = f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", lead, false)
		require.NoError(t, err)
		assert.False(t, res.FromCache)
		assert.Equal(t, "Hi Ana", res.Value)
		require.NotNil(t, store.get("col-1", "lead-1"))
		assert.Equal(t, v2, store.get("col-1", "lead-1").ColumnVersion)
	})

	t.Run("stores the expiry from cache_duration", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		col := textColumn(`lead.score * 2`)
		col.ResultType = domain.ResultTypeNumber
		ttl := 60
		col.CacheDuration = &ttl

		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-1", "lead-1", f.now).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(col, nil)
		f.resultRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, r *domain.CalculatedResult) (bool, error) {
				assert.Equal(t, "col-1", r.ColumnID)
				assert.Equal(t, "lead-1", r.LeadID)
				assert.JSONEq(t, `42`, string(r.Value))
				assert.Equal(t, f.now, r.ComputedAt)
				require.NotNil(t, r.ExpiresAt)
				assert.Equal(t, f.now.Add(time.Minute), *r.ExpiresAt)
				assert.Equal(t, col.UpdatedAt, r.ColumnVersion)
				return true, nil
			})

		res, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", map[string]interface{}{"score": 21}, false)
		require.NoError(t, err)
		assert.Equal(t, float64(42), res.Value)
	})

	t.Run("force refresh skips the cache", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(textColumn(`lead.firstName`), nil)
		f.resultRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(true, nil)

		res, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", map[string]interface{}{"firstName": "Ana"}, true)
		require.NoError(t, err)
		assert.False(t, res.FromCache)
		assert.Equal(t, "Ana", res.Value)
	})

	t.Run("evaluation errors are returned and not cached", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-1", "lead-1", gomock.Any()).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(textColumn(`lead.total / lead.count`), nil)

		_, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", map[string]interface{}{"total": 10, "count": 0}, false)
		var evalErr *formula.EvaluationError
		assert.True(t, errors.As(err, &evalErr))
	})

	t.Run("number result type rejects text", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		col := textColumn(`lead.firstName`)
		col.ResultType = domain.ResultTypeNumber
		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-1", "lead-1", gomock.Any()).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(col, nil)

		_, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", map[string]interface{}{"firstName": "Ana"}, false)
		var typeErr *formula.TypeError
		assert.True(t, errors.As(err, &typeErr))
	})

	t.Run("unknown column", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "missing", "lead-1", gomock.Any()).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "missing").
			Return(nil, &domain.ErrNotFound{Entity: "calculated column", ID: "missing"})

		_, err := f.svc.EvaluateForLead(ctx, testOwnerID, "missing", "lead-1", nil, false)
		var notFound *domain.ErrNotFound
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("inactive column serves cache but refuses to compute", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		col := textColumn(`lead.firstName`)
		col.IsActive = false

		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-1", "lead-1", gomock.Any()).
			Return(&domain.CalculatedResult{ColumnID: "col-1", LeadID: "lead-1", Value: []byte(`"Ana"`)}, nil)
		res, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", nil, false)
		require.NoError(t, err)
		assert.True(t, res.FromCache)
		assert.Equal(t, "Ana", res.Value)

		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-1", "lead-2", gomock.Any()).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(col, nil)
		_, err = f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-2", nil, false)
		var inactive *domain.ErrColumnInactive
		assert.True(t, errors.As(err, &inactive))
	})

	t.Run("cache read failure", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-1", "lead-1", gomock.Any()).
			Return(nil, errors.New("connection reset"))

		_, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", nil, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read cached result")
	})

	t.Run("cache write failure still returns the value", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-1", "lead-1", gomock.Any()).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(textColumn(`upper(lead.firstName)`), nil)
		f.resultRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(false, errors.New("disk full"))

		res, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "lead-1", map[string]interface{}{"firstName": "ana"}, false)
		require.NoError(t, err)
		assert.Equal(t, "ANA", res.Value)
	})

	t.Run("lead id is required", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		_, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-1", "", nil, false)
		var validationErr domain.ValidationError
		assert.True(t, errors.As(err, &validationErr))
	})
}

type stubEnricher struct {
	value interface{}
	err   error
	calls int
	mu    sync.Mutex
}

func (e *stubEnricher) Enrich(_ context.Context, _ *domain.CalculatedColumn, _ map[string]interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.value, e.err
}

func TestCalculatedColumnService_EvaluateEnrichment(t *testing.T) {
	ctx := context.Background()
	col := &domain.CalculatedColumn{
		ID:          "col-ai",
		OwnerID:     testOwnerID,
		ColumnName:  "employee_estimate",
		Formula:     `How many employees does {{ lead.company }} have?`,
		FormulaType: domain.FormulaTypeAIEnrichment,
		ResultType:  domain.ResultTypeNumber,
		IsActive:    true,
	}

	t.Run("provider result is coerced and cached", func(t *testing.T) {
		enricher := &stubEnricher{value: "250"}
		f := newColumnServiceFixture(t, enricher)
		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-ai", "lead-1", gomock.Any()).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-ai").Return(col, nil)
		f.resultRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(true, nil)

		res, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-ai", "lead-1", map[string]interface{}{"company": "Acme"}, false)
		require.NoError(t, err)
		assert.Equal(t, float64(250), res.Value)
		assert.Equal(t, 1, enricher.calls)
	})

	t.Run("no provider", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.resultRepo.EXPECT().GetValid(gomock.Any(), testOwnerID, "col-ai", "lead-1", gomock.Any()).Return(nil, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-ai").Return(col, nil)

		_, err := f.svc.EvaluateForLead(ctx, testOwnerID, "col-ai", "lead-1", nil, false)
		assert.Error(t, err)
	})
}

func TestCalculatedColumnService_EvaluateForLeads(t *testing.T) {
	ctx := context.Background()

	t.Run("failed leads are omitted", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		store := newResultStore()
		store.expect(f.resultRepo)

		col := textColumn(`lead.score * 2`)
		col.ResultType = domain.ResultTypeNumber
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(col, nil).Times(1)

		results, err := f.svc.EvaluateForLeads(ctx, testOwnerID, "col-1", []domain.LeadInput{
			{LeadID: "lead-1", LeadData: map[string]interface{}{"score": 10}},
			{LeadID: "lead-2", LeadData: map[string]interface{}{"score": "abc"}},
			{LeadID: "lead-3", LeadData: map[string]interface{}{"score": 5}},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"lead-1": float64(20),
			"lead-3": float64(10),
		}, results)
		assert.Nil(t, store.get("col-1", "lead-2"))
	})

	t.Run("uses cached values", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		store := newResultStore()
		store.rows["col-1/lead-1"] = &domain.CalculatedResult{ColumnID: "col-1", LeadID: "lead-1", Value: []byte(`"cached"`)}
		store.expect(f.resultRepo)

		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(textColumn(`lead.firstName`), nil)

		results, err := f.svc.EvaluateForLeads(ctx, testOwnerID, "col-1", []domain.LeadInput{
			{LeadID: "lead-1", LeadData: map[string]interface{}{"firstName": "fresh"}},
			{LeadID: "lead-2", LeadData: map[string]interface{}{"firstName": "Bo"}},
			{LeadID: "", LeadData: map[string]interface{}{"firstName": "nobody"}},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"lead-1": "cached", "lead-2": "Bo"}, results)
	})

	t.Run("many leads with bounded concurrency", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		store := newResultStore()
		store.expect(f.resultRepo)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(textColumn(`concat("L", lead.n)`), nil)

		leads := make([]domain.LeadInput, 50)
		for i := range leads {
			leads[i] = domain.LeadInput{LeadID: "lead-" + formula.ToText(float64(i)), LeadData: map[string]interface{}{"n": i}}
		}
		results, err := f.svc.EvaluateForLeads(ctx, testOwnerID, "col-1", leads)
		require.NoError(t, err)
		assert.Len(t, results, 50)
		assert.Equal(t, "L7", results["lead-7"])
	})

	t.Run("unknown column", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "missing").
			Return(nil, &domain.ErrNotFound{Entity: "calculated column", ID: "missing"})

		_, err := f.svc.EvaluateForLeads(ctx, testOwnerID, "missing", nil)
		var notFound *domain.ErrNotFound
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestCalculatedColumnService_ClearCache(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the column results", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), testOwnerID, "col-1").Return(textColumn(`1`), nil)
		f.resultRepo.EXPECT().DeleteByColumn(gomock.Any(), testOwnerID, "col-1").Return(int64(3), nil)

		deleted, err := f.svc.ClearCache(ctx, testOwnerID, "col-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
	})

	t.Run("other owners cannot clear it", func(t *testing.T) {
		f := newColumnServiceFixture(t, nil)
		f.columnRepo.EXPECT().GetByID(gomock.Any(), "user-2", "col-1").
			Return(nil, &domain.ErrNotFound{Entity: "calculated column", ID: "col-1"})

		_, err := f.svc.ClearCache(ctx, "user-2", "col-1")
		var notFound *domain.ErrNotFound
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestCalculatedColumnService_DeleteColumn(t *testing.T) {
	f := newColumnServiceFixture(t, nil)
	f.columnRepo.EXPECT().Delete(gomock.Any(), testOwnerID, "col-1").Return(nil)
	require.NoError(t, f.svc.DeleteColumn(context.Background(), testOwnerID, "col-1"))

	f.columnRepo.EXPECT().Delete(gomock.Any(), testOwnerID, "col-2").
		Return(&domain.ErrNotFound{Entity: "calculated column", ID: "col-2"})
	assert.Error(t, f.svc.DeleteColumn(context.Background(), testOwnerID, "col-2"))
}
