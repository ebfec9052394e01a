package domain

import (
	"context"

	"github.com/leadforge/leadforge/pkg/formula"
)

// FormulaValidateRequest is the body of POST /api/formulas/validate
type FormulaValidateRequest struct {
	Formula string `json:"formula"`
}

// FormulaEvaluateRequest is the body of POST /api/formulas/evaluate
type FormulaEvaluateRequest struct {
	Formula string                 `json:"formula"`
	Context map[string]interface{} `json:"context"`
}

// FormulaEvaluateResponse reports evaluation failures in-band
type FormulaEvaluateResponse struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result"`
	Error   string      `json:"error,omitempty"`
}

// FormulaService validates and evaluates ad hoc formulas
type FormulaService interface {
	Validate(ctx context.Context, source string) formula.ValidationResult
	Evaluate(ctx context.Context, source string, data map[string]interface{}) (interface{}, error)
	Functions() []formula.FunctionSpec
}
