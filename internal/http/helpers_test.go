package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/formula"
	pkgmocks "github.com/leadforge/leadforge/pkg/mocks"
	"github.com/leadforge/leadforge/pkg/ratelimiter"
)

var testJWTSecret = []byte("test-jwt-secret-key-for-testing-32bytes")

func getTestJWTSecret() ([]byte, error) { return testJWTSecret, nil }

func newMockLogger(ctrl *gomock.Controller) *pkgmocks.MockLogger {
	mockLogger := pkgmocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().WithField(gomock.Any(), gomock.Any()).Return(mockLogger).AnyTimes()
	mockLogger.EXPECT().WithFields(gomock.Any()).Return(mockLogger).AnyTimes()
	mockLogger.EXPECT().Debug(gomock.Any()).AnyTimes()
	mockLogger.EXPECT().Info(gomock.Any()).AnyTimes()
	mockLogger.EXPECT().Warn(gomock.Any()).AnyTimes()
	mockLogger.EXPECT().Error(gomock.Any()).AnyTimes()
	return mockLogger
}

// newTestLimiter allows every request unless a policy is set
func newTestLimiter(t *testing.T) *ratelimiter.RateLimiter {
	limiter := ratelimiter.NewRateLimiter()
	limiter.SetPolicy(RateLimitTrigger, 0, time.Minute)
	limiter.SetPolicy(RateLimitEvaluate, 0, time.Minute)
	t.Cleanup(limiter.Stop)
	return limiter
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testJWTSecret)
	require.NoError(t, err)
	return token
}

// serve sends an authenticated request for user-1 through mux
func serve(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, "user-1"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var errNotImplemented = errors.New("not implemented")

// testFormulaService is a test double for domain.FormulaService
type testFormulaService struct {
	validateFunc func(ctx context.Context, source string) formula.ValidationResult
	evaluateFunc func(ctx context.Context, source string, data map[string]interface{}) (interface{}, error)
}

func (s *testFormulaService) Validate(ctx context.Context, source string) formula.ValidationResult {
	if s.validateFunc != nil {
		return s.validateFunc(ctx, source)
	}
	return formula.ValidationResult{}
}

func (s *testFormulaService) Evaluate(ctx context.Context, source string, data map[string]interface{}) (interface{}, error) {
	if s.evaluateFunc != nil {
		return s.evaluateFunc(ctx, source, data)
	}
	return nil, errNotImplemented
}

func (s *testFormulaService) Functions() []formula.FunctionSpec {
	return formula.Functions()
}

// testColumnService is a test double for domain.CalculatedColumnService
type testColumnService struct {
	createFunc    func(ctx context.Context, ownerID string, req *domain.CreateCalculatedColumnRequest) (*domain.CalculatedColumn, error)
	getFunc       func(ctx context.Context, ownerID, id string) (*domain.CalculatedColumn, error)
	listFunc      func(ctx context.Context, ownerID string, filter domain.CalculatedColumnFilter) ([]*domain.CalculatedColumn, error)
	updateFunc    func(ctx context.Context, ownerID, id string, req *domain.UpdateCalculatedColumnRequest) (*domain.CalculatedColumn, error)
	deleteFunc    func(ctx context.Context, ownerID, id string) error
	evaluateFunc  func(ctx context.Context, ownerID, columnID, leadID string, leadData map[string]interface{}, forceRefresh bool) (*domain.EvaluationResult, error)
	batchFunc     func(ctx context.Context, ownerID, columnID string, leads []domain.LeadInput) (map[string]interface{}, error)
	clearFunc     func(ctx context.Context, ownerID, columnID string) (int64, error)
}

func (s *testColumnService) CreateColumn(ctx context.Context, ownerID string, req *domain.CreateCalculatedColumnRequest) (*domain.CalculatedColumn, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, ownerID, req)
	}
	return nil, errNotImplemented
}

func (s *testColumnService) GetColumn(ctx context.Context, ownerID, id string) (*domain.CalculatedColumn, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, ownerID, id)
	}
	return nil, errNotImplemented
}

func (s *testColumnService) ListColumns(ctx context.Context, ownerID string, filter domain.CalculatedColumnFilter) ([]*domain.CalculatedColumn, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, ownerID, filter)
	}
	return nil, errNotImplemented
}

func (s *testColumnService) UpdateColumn(ctx context.Context, ownerID, id string, req *domain.UpdateCalculatedColumnRequest) (*domain.CalculatedColumn, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, ownerID, id, req)
	}
	return nil, errNotImplemented
}

func (s *testColumnService) DeleteColumn(ctx context.Context, ownerID, id string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, ownerID, id)
	}
	return errNotImplemented
}

func (s *testColumnService) EvaluateForLead(ctx context.Context, ownerID, columnID, leadID string, leadData map[string]interface{}, forceRefresh bool) (*domain.EvaluationResult, error) {
	if s.evaluateFunc != nil {
		return s.evaluateFunc(ctx, ownerID, columnID, leadID, leadData, forceRefresh)
	}
	return nil, errNotImplemented
}

func (s *testColumnService) EvaluateForLeads(ctx context.Context, ownerID, columnID string, leads []domain.LeadInput) (map[string]interface{}, error) {
	if s.batchFunc != nil {
		return s.batchFunc(ctx, ownerID, columnID, leads)
	}
	return nil, errNotImplemented
}

func (s *testColumnService) ClearCache(ctx context.Context, ownerID, columnID string) (int64, error) {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, ownerID, columnID)
	}
	return 0, errNotImplemented
}

// testWebhookService is a test double for domain.WebhookService
type testWebhookService struct {
	createFunc     func(ctx context.Context, ownerID string, req *domain.CreateWebhookRequest) (*domain.Webhook, error)
	getFunc        func(ctx context.Context, ownerID, id string) (*domain.Webhook, error)
	listFunc       func(ctx context.Context, ownerID string) ([]*domain.Webhook, error)
	updateFunc     func(ctx context.Context, ownerID, id string, req *domain.UpdateWebhookRequest) (*domain.Webhook, error)
	deleteFunc     func(ctx context.Context, ownerID, id string) error
	regenerateFunc func(ctx context.Context, ownerID, id string) (*domain.Webhook, error)
	deliveriesFunc func(ctx context.Context, ownerID, webhookID string, limit int) ([]*domain.WebhookDelivery, error)
}

func (s *testWebhookService) CreateWebhook(ctx context.Context, ownerID string, req *domain.CreateWebhookRequest) (*domain.Webhook, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, ownerID, req)
	}
	return nil, errNotImplemented
}

func (s *testWebhookService) GetWebhook(ctx context.Context, ownerID, id string) (*domain.Webhook, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, ownerID, id)
	}
	return nil, errNotImplemented
}

func (s *testWebhookService) ListWebhooks(ctx context.Context, ownerID string) ([]*domain.Webhook, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, ownerID)
	}
	return nil, errNotImplemented
}

func (s *testWebhookService) UpdateWebhook(ctx context.Context, ownerID, id string, req *domain.UpdateWebhookRequest) (*domain.Webhook, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, ownerID, id, req)
	}
	return nil, errNotImplemented
}

func (s *testWebhookService) DeleteWebhook(ctx context.Context, ownerID, id string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, ownerID, id)
	}
	return errNotImplemented
}

func (s *testWebhookService) RegenerateSecret(ctx context.Context, ownerID, id string) (*domain.Webhook, error) {
	if s.regenerateFunc != nil {
		return s.regenerateFunc(ctx, ownerID, id)
	}
	return nil, errNotImplemented
}

func (s *testWebhookService) ListDeliveries(ctx context.Context, ownerID, webhookID string, limit int) ([]*domain.WebhookDelivery, error) {
	if s.deliveriesFunc != nil {
		return s.deliveriesFunc(ctx, ownerID, webhookID, limit)
	}
	return nil, errNotImplemented
}

func (s *testWebhookService) EventTypes() []string {
	return domain.WebhookEventTypes
}

// testDispatcher is a test double for domain.WebhookDispatcher
type testDispatcher struct {
	triggerFunc  func(ctx context.Context, ownerID, eventType string, payload json.RawMessage) (*domain.TriggerResult, error)
	sendTestFunc func(ctx context.Context, ownerID, webhookID string) (*domain.DeliveryOutcome, error)
}

func (d *testDispatcher) Trigger(ctx context.Context, ownerID, eventType string, payload json.RawMessage) (*domain.TriggerResult, error) {
	if d.triggerFunc != nil {
		return d.triggerFunc(ctx, ownerID, eventType, payload)
	}
	return nil, errNotImplemented
}

func (d *testDispatcher) SendTest(ctx context.Context, ownerID, webhookID string) (*domain.DeliveryOutcome, error) {
	if d.sendTestFunc != nil {
		return d.sendTestFunc(ctx, ownerID, webhookID)
	}
	return nil, errNotImplemented
}

// testPreferenceService is a test double for domain.PreferenceService
type testPreferenceService struct {
	loadFunc   func(ctx context.Context, ownerID, key string) (*domain.Preference, error)
	saveFunc   func(ctx context.Context, ownerID, key string, value json.RawMessage) (*domain.Preference, error)
	deleteFunc func(ctx context.Context, ownerID, key string) error
}

func (s *testPreferenceService) Load(ctx context.Context, ownerID, key string) (*domain.Preference, error) {
	if s.loadFunc != nil {
		return s.loadFunc(ctx, ownerID, key)
	}
	return nil, errNotImplemented
}

func (s *testPreferenceService) Save(ctx context.Context, ownerID, key string, value json.RawMessage) (*domain.Preference, error) {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, ownerID, key, value)
	}
	return nil, errNotImplemented
}

func (s *testPreferenceService) Delete(ctx context.Context, ownerID, key string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, ownerID, key)
	}
	return errNotImplemented
}
