package formula

import (
	"errors"
	"fmt"
)

// SyntaxError is returned when a formula cannot be parsed.
type SyntaxError struct {
	Message string
	Pos     int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Message)
}

// UnknownFunctionError is returned when a formula calls a function outside the catalogue.
type UnknownFunctionError struct {
	Name string
	Pos  int
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q", e.Name)
}

// ArgumentError is returned when a function is called with the wrong number of arguments.
type ArgumentError struct {
	Function string
	Expected string
	Actual   int
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s expects %s argument(s), got %d", e.Function, e.Expected, e.Actual)
}

// TypeError is returned when an operator receives operands it cannot work with.
type TypeError struct {
	Operator string
	Operand  interface{}
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("operator %s cannot be applied to %s", e.Operator, describe(e.Operand))
}

// EvaluationError covers runtime failures that are not type mismatches, such as division by zero.
type EvaluationError struct {
	Message string
}

func (e *EvaluationError) Error() string {
	return e.Message
}

func describe(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("string %q", t)
	case float64:
		return fmt.Sprintf("number %v", t)
	case bool:
		return fmt.Sprintf("boolean %v", t)
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// IsFormulaError reports whether err came from parsing, validating or evaluating a formula.
func IsFormulaError(err error) bool {
	var (
		syntaxErr   *SyntaxError
		unknownErr  *UnknownFunctionError
		argumentErr *ArgumentError
		typeErr     *TypeError
		evalErr     *EvaluationError
	)
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &unknownErr) ||
		errors.As(err, &argumentErr) ||
		errors.As(err, &typeErr) ||
		errors.As(err, &evalErr)
}
