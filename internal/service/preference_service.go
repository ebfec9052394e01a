package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leadforge/leadforge/internal/domain"
	"github.com/leadforge/leadforge/pkg/logger"
)

// maxPreferenceBytes bounds a stored value
const maxPreferenceBytes = 256 * 1024

// PreferenceService loads and saves per-user settings such as import column mappings
type PreferenceService struct {
	repo   domain.PreferenceRepository
	logger logger.Logger
}

func NewPreferenceService(repo domain.PreferenceRepository, logger logger.Logger) *PreferenceService {
	return &PreferenceService{repo: repo, logger: logger}
}

func (s *PreferenceService) Load(ctx context.Context, ownerID, key string) (*domain.Preference, error) {
	if err := domain.ValidatePreferenceKey(key); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, ownerID, key)
}

// Save stores value under key and returns the stored preference
func (s *PreferenceService) Save(ctx context.Context, ownerID, key string, value json.RawMessage) (*domain.Preference, error) {
	if err := domain.ValidatePreferenceKey(key); err != nil {
		return nil, err
	}
	if len(value) == 0 || !json.Valid(value) {
		return nil, domain.NewValidationError("value must be valid JSON")
	}
	if len(value) > maxPreferenceBytes {
		return nil, domain.NewValidationError(fmt.Sprintf("value must be at most %d bytes", maxPreferenceBytes))
	}

	if err := s.repo.Set(ctx, ownerID, key, value); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"owner_id": ownerID,
			"key":      key,
			"error":    err.Error(),
		}).Error("Failed to save preference")
		return nil, err
	}

	return s.repo.Get(ctx, ownerID, key)
}

func (s *PreferenceService) Delete(ctx context.Context, ownerID, key string) error {
	if err := domain.ValidatePreferenceKey(key); err != nil {
		return err
	}
	return s.repo.Delete(ctx, ownerID, key)
}
