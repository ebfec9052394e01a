package domain

//go:generate mockgen -destination mocks/mock_calculated_column_repository.go -package mocks github.com/leadforge/leadforge/internal/domain CalculatedColumnRepository
//go:generate mockgen -destination mocks/mock_calculated_result_repository.go -package mocks github.com/leadforge/leadforge/internal/domain CalculatedResultRepository

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/asaskevich/govalidator"

	"github.com/leadforge/leadforge/pkg/formula"
)

type FormulaType string

const (
	FormulaTypeCalculation  FormulaType = "calculation"
	FormulaTypeAIEnrichment FormulaType = "ai_enrichment"
)

type ResultType string

const (
	ResultTypeText    ResultType = "text"
	ResultTypeNumber  ResultType = "number"
	ResultTypeBoolean ResultType = "boolean"
)

var columnNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// CalculatedColumn is a user-defined virtual column computed per lead from a formula
type CalculatedColumn struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"owner_id"`
	ColumnName    string      `json:"column_name"`
	Formula       string      `json:"formula"`
	FormulaType   FormulaType `json:"formula_type"`
	ResultType    ResultType  `json:"result_type"`
	IsActive      bool        `json:"is_active"`
	CacheDuration *int        `json:"cache_duration,omitempty"` // seconds, nil never expires
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Validate checks the structural fields. The formula itself is checked by the
// service, which knows how to compile both calculations and prompt templates.
func (c *CalculatedColumn) Validate() error {
	if c.OwnerID == "" {
		return NewValidationError("owner_id is required")
	}
	if !columnNamePattern.MatchString(c.ColumnName) {
		return NewValidationError("column_name must start with a letter and contain only lowercase letters, digits and underscores (max 63)")
	}
	if strings.TrimSpace(c.Formula) == "" {
		return NewValidationError("formula is required")
	}
	if !govalidator.IsIn(string(c.FormulaType), string(FormulaTypeCalculation), string(FormulaTypeAIEnrichment)) {
		return NewValidationError(fmt.Sprintf("invalid formula_type: %s", c.FormulaType))
	}
	if !govalidator.IsIn(string(c.ResultType), string(ResultTypeText), string(ResultTypeNumber), string(ResultTypeBoolean)) {
		return NewValidationError(fmt.Sprintf("invalid result_type: %s", c.ResultType))
	}
	if c.CacheDuration != nil && *c.CacheDuration < 0 {
		return NewValidationError("cache_duration cannot be negative")
	}
	return nil
}

// InvalidatesResults reports whether replacing prev with c makes prev's cached results stale.
func (c *CalculatedColumn) InvalidatesResults(prev *CalculatedColumn) bool {
	return c.Formula != prev.Formula ||
		c.FormulaType != prev.FormulaType ||
		c.ResultType != prev.ResultType
}

// ExpiresAt returns the expiry of a result computed at now, or nil when results never expire.
func (c *CalculatedColumn) ExpiresAt(now time.Time) *time.Time {
	if c.CacheDuration == nil {
		return nil
	}
	t := now.Add(time.Duration(*c.CacheDuration) * time.Second)
	return &t
}

// NormalizeColumnName converts display names and camelCase into snake_case.
// "Full Greeting" and "fullGreeting" both become "full_greeting".
func NormalizeColumnName(name string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(name))
	pendingSep := false
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && i > 0 && b.Len() > 0 {
				prev := runes[i-1]
				if unicode.IsLower(prev) || unicode.IsDigit(prev) {
					pendingSep = true
				}
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// CoerceResult converts an evaluated value to the column's declared result type.
func CoerceResult(value interface{}, resultType ResultType) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch resultType {
	case ResultTypeText:
		return formula.ToText(value), nil
	case ResultTypeNumber:
		n, ok := formula.ToNumber(value)
		if !ok {
			return nil, &formula.TypeError{Operator: "number result", Operand: value}
		}
		return n, nil
	case ResultTypeBoolean:
		return formula.Truthy(value), nil
	default:
		return nil, fmt.Errorf("unknown result type: %s", resultType)
	}
}

// CalculatedResult is a cached evaluation of one column for one lead
type CalculatedResult struct {
	ColumnID   string          `json:"column_id"`
	LeadID     string          `json:"lead_id"`
	Value      json.RawMessage `json:"result_value"`
	ComputedAt time.Time       `json:"computed_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	// ColumnVersion is the updated_at of the column definition the value was computed from.
	ColumnVersion time.Time `json:"-"`
}

// IsValid reports whether the result may be reused at now.
func (r *CalculatedResult) IsValid(now time.Time) bool {
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// DecodedValue unmarshals the stored JSON value.
func (r *CalculatedResult) DecodedValue() (interface{}, error) {
	if len(r.Value) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return v, nil
}

// EvaluationResult is returned for a single-lead evaluation
type EvaluationResult struct {
	Value     interface{} `json:"value"`
	FromCache bool        `json:"fromCache"`
}

// LeadInput is one entry of a batch evaluation request
type LeadInput struct {
	LeadID   string                 `json:"leadId"`
	LeadData map[string]interface{} `json:"leadData"`
}

type CalculatedColumnFilter struct {
	ActiveOnly bool
	ColumnName string
}

// CreateCalculatedColumnRequest is the body of POST /api/calculated-columns
type CreateCalculatedColumnRequest struct {
	ColumnName    string      `json:"column_name"`
	Formula       string      `json:"formula"`
	FormulaType   FormulaType `json:"formula_type"`
	ResultType    ResultType  `json:"result_type"`
	IsActive      *bool       `json:"is_active,omitempty"`
	CacheDuration *int        `json:"cache_duration,omitempty"`
}

// Validate builds the column the request describes, applying defaults.
func (r *CreateCalculatedColumnRequest) Validate(ownerID string) (*CalculatedColumn, error) {
	col := &CalculatedColumn{
		OwnerID:       ownerID,
		ColumnName:    NormalizeColumnName(r.ColumnName),
		Formula:       r.Formula,
		FormulaType:   r.FormulaType,
		ResultType:    r.ResultType,
		IsActive:      true,
		CacheDuration: r.CacheDuration,
	}
	if col.FormulaType == "" {
		col.FormulaType = FormulaTypeCalculation
	}
	if col.ResultType == "" {
		col.ResultType = ResultTypeText
	}
	if r.IsActive != nil {
		col.IsActive = *r.IsActive
	}
	if err := col.Validate(); err != nil {
		return nil, err
	}
	return col, nil
}

// UpdateCalculatedColumnRequest replaces the editable fields of a column
type UpdateCalculatedColumnRequest = CreateCalculatedColumnRequest

// CalculatedColumnRepository persists column definitions. Update and Delete
// remove the column's cached results in the same transaction.
type CalculatedColumnRepository interface {
	Create(ctx context.Context, column *CalculatedColumn) error
	GetByID(ctx context.Context, ownerID, id string) (*CalculatedColumn, error)
	List(ctx context.Context, ownerID string, filter CalculatedColumnFilter) ([]*CalculatedColumn, error)
	Update(ctx context.Context, column *CalculatedColumn, invalidateResults bool) error
	Delete(ctx context.Context, ownerID, id string) error
}

// CalculatedResultRepository is the persistent result cache
type CalculatedResultRepository interface {
	// GetValid returns the unexpired result for the pair, or nil when there is none
	GetValid(ctx context.Context, ownerID, columnID, leadID string, now time.Time) (*CalculatedResult, error)
	// Upsert stores the result only while the column is still at result.ColumnVersion.
	// It reports false when the column changed or disappeared in the meantime.
	Upsert(ctx context.Context, result *CalculatedResult) (bool, error)
	DeleteByColumn(ctx context.Context, ownerID, columnID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CalculatedColumnService is consumed by the HTTP layer
type CalculatedColumnService interface {
	CreateColumn(ctx context.Context, ownerID string, req *CreateCalculatedColumnRequest) (*CalculatedColumn, error)
	GetColumn(ctx context.Context, ownerID, id string) (*CalculatedColumn, error)
	ListColumns(ctx context.Context, ownerID string, filter CalculatedColumnFilter) ([]*CalculatedColumn, error)
	UpdateColumn(ctx context.Context, ownerID, id string, req *UpdateCalculatedColumnRequest) (*CalculatedColumn, error)
	DeleteColumn(ctx context.Context, ownerID, id string) error
	EvaluateForLead(ctx context.Context, ownerID, columnID, leadID string, leadData map[string]interface{}, forceRefresh bool) (*EvaluationResult, error)
	EvaluateForLeads(ctx context.Context, ownerID, columnID string, leads []LeadInput) (map[string]interface{}, error)
	ClearCache(ctx context.Context, ownerID, columnID string) (int64, error)
}
