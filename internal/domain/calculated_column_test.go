package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/leadforge/pkg/formula"
)

func intPtr(i int) *int { return &i }

func TestNormalizeColumnName(t *testing.T) {
	tests := map[string]string{
		"Full Greeting":     "full_greeting",
		"fullGreeting":      "full_greeting",
		"full_greeting":     "full_greeting",
		"  Lead  Score!! ":  "lead_score",
		"deal-value (USD)":  "deal_value_usd",
		"score2Points":      "score2_points",
		"__leading":         "leading",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeColumnName(in), in)
	}
}

func TestCalculatedColumn_Validate(t *testing.T) {
	valid := func() *CalculatedColumn {
		return &CalculatedColumn{
			OwnerID:     "user-1",
			ColumnName:  "full_greeting",
			Formula:     `concat("Hi ", firstName)`,
			FormulaType: FormulaTypeCalculation,
			ResultType:  ResultTypeText,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *CalculatedColumn)
		wantErr string
	}{
		{"valid", func(c *CalculatedColumn) {}, ""},
		{"missing owner", func(c *CalculatedColumn) { c.OwnerID = "" }, "owner_id"},
		{"bad name", func(c *CalculatedColumn) { c.ColumnName = "1abc" }, "column_name"},
		{"empty formula", func(c *CalculatedColumn) { c.Formula = "  " }, "formula is required"},
		{"bad formula type", func(c *CalculatedColumn) { c.FormulaType = "script" }, "formula_type"},
		{"bad result type", func(c *CalculatedColumn) { c.ResultType = "date" }, "result_type"},
		{"negative cache", func(c *CalculatedColumn) { c.CacheDuration = intPtr(-1) }, "cache_duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var vErr ValidationError
			assert.True(t, errors.As(err, &vErr))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateCalculatedColumnRequest_Validate(t *testing.T) {
	req := &CreateCalculatedColumnRequest{
		ColumnName: "Full Greeting",
		Formula:    `concat("Hi ", firstName)`,
	}
	col, err := req.Validate("user-1")
	require.NoError(t, err)
	assert.Equal(t, "full_greeting", col.ColumnName)
	assert.Equal(t, FormulaTypeCalculation, col.FormulaType)
	assert.Equal(t, ResultTypeText, col.ResultType)
	assert.True(t, col.IsActive)
	assert.Nil(t, col.CacheDuration)

	inactive := false
	req.IsActive = &inactive
	col, err = req.Validate("user-1")
	require.NoError(t, err)
	assert.False(t, col.IsActive)

	_, err = (&CreateCalculatedColumnRequest{ColumnName: "!!", Formula: "1"}).Validate("user-1")
	assert.Error(t, err)
}

func TestCalculatedColumn_InvalidatesResults(t *testing.T) {
	prev := &CalculatedColumn{Formula: "a + 1", FormulaType: FormulaTypeCalculation, ResultType: ResultTypeNumber, ColumnName: "x"}

	same := *prev
	same.ColumnName = "renamed"
	same.IsActive = true
	assert.False(t, same.InvalidatesResults(prev))

	changed := *prev
	changed.Formula = "a + 2"
	assert.True(t, changed.InvalidatesResults(prev))

	retyped := *prev
	retyped.ResultType = ResultTypeText
	assert.True(t, retyped.InvalidatesResults(prev))
}

func TestCalculatedColumn_ExpiresAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	c := &CalculatedColumn{}
	assert.Nil(t, c.ExpiresAt(now))

	c.CacheDuration = intPtr(3600)
	exp := c.ExpiresAt(now)
	require.NotNil(t, exp)
	assert.Equal(t, now.Add(time.Hour), *exp)
}

func TestCalculatedResult_IsValid(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	assert.True(t, (&CalculatedResult{}).IsValid(now))
	assert.True(t, (&CalculatedResult{ExpiresAt: &future}).IsValid(now))
	assert.False(t, (&CalculatedResult{ExpiresAt: &past}).IsValid(now))
	assert.False(t, (&CalculatedResult{ExpiresAt: &now}).IsValid(now))
}

func TestCalculatedResult_DecodedValue(t *testing.T) {
	v, err := (&CalculatedResult{Value: json.RawMessage(`"Hi Ann"`)}).DecodedValue()
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann", v)

	v, err = (&CalculatedResult{}).DecodedValue()
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = (&CalculatedResult{Value: json.RawMessage(`{`)}).DecodedValue()
	assert.Error(t, err)
}

func TestCoerceResult(t *testing.T) {
	v, err := CoerceResult(42.0, ResultTypeText)
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	v, err = CoerceResult("12.5", ResultTypeNumber)
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	_, err = CoerceResult("twelve", ResultTypeNumber)
	var typeErr *formula.TypeError
	assert.True(t, errors.As(err, &typeErr))

	v, err = CoerceResult("", ResultTypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = CoerceResult(nil, ResultTypeNumber)
	require.NoError(t, err)
	assert.Nil(t, v)
}
