package domain

//go:generate mockgen -destination mocks/mock_preference_repository.go -package mocks github.com/leadforge/leadforge/internal/domain PreferenceRepository

import (
	"context"
	"encoding/json"
	"regexp"
	"time"
)

var preferenceKeyPattern = regexp.MustCompile(`^[a-z0-9_.-]{1,100}$`)

// Preference is an owner-scoped JSON value, e.g. saved import column mappings
type Preference struct {
	OwnerID   string          `json:"owner_id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func ValidatePreferenceKey(key string) error {
	if !preferenceKeyPattern.MatchString(key) {
		return NewValidationError("key must be 1-100 characters of a-z, 0-9, '_', '.' or '-'")
	}
	return nil
}

type PreferenceRepository interface {
	// Get returns ErrNotFound when the key has never been saved
	Get(ctx context.Context, ownerID, key string) (*Preference, error)
	// Set creates or replaces the value
	Set(ctx context.Context, ownerID, key string, value json.RawMessage) error
	Delete(ctx context.Context, ownerID, key string) error
}

type PreferenceService interface {
	Load(ctx context.Context, ownerID, key string) (*Preference, error)
	Save(ctx context.Context, ownerID, key string, value json.RawMessage) (*Preference, error)
	Delete(ctx context.Context, ownerID, key string) error
}
