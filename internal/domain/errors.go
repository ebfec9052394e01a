package domain

import (
	"fmt"
)

// Common error types
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found with ID: %s", e.Entity, e.ID)
}

// ValidationError represents an error that occurs due to invalid input or parameters
type ValidationError struct {
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError creates a new validation error with the given message
func NewValidationError(message string) error {
	return ValidationError{
		Message: message,
	}
}

// ErrColumnNameTaken is returned when an owner already has a column with the same normalized name
type ErrColumnNameTaken struct {
	ColumnName string
}

func (e *ErrColumnNameTaken) Error() string {
	return fmt.Sprintf("a calculated column named %q already exists", e.ColumnName)
}

// ErrColumnInactive is returned when a fresh evaluation is requested for a disabled column
type ErrColumnInactive struct {
	ID string
}

func (e *ErrColumnInactive) Error() string {
	return fmt.Sprintf("calculated column %s is inactive", e.ID)
}

type ErrRateLimited struct {
	RetryAfterSeconds int
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}
