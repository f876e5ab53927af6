package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
)

type SettingsUseCase struct {
	store            ports.SettingsStore
	defaultThreshold float64
}

func NewSettingsUseCase(store ports.SettingsStore, defaultThreshold float64) *SettingsUseCase {
	if defaultThreshold <= 0 {
		defaultThreshold = domain.DefaultAutoApproveThreshold
	}
	return &SettingsUseCase{
		store:            store,
		defaultThreshold: domain.ClampAutoApproveThreshold(defaultThreshold),
	}
}

// Get returns stored settings or defaults for users that never saved any.
func (uc *SettingsUseCase) Get(ctx context.Context, userID string) (*domain.OwnerSettings, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "get settings", errors.New("user_id is required"))
	}
	defaults := &domain.OwnerSettings{UserID: userID, AutoApproveThreshold: uc.defaultThreshold}
	if uc.store == nil {
		return defaults, nil
	}
	settings, err := uc.store.GetOwnerSettings(ctx, userID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return defaults, nil
		}
		return nil, fmt.Errorf("load owner settings: %w", err)
	}
	settings.AutoApproveThreshold = domain.ClampAutoApproveThreshold(settings.AutoApproveThreshold)
	return settings, nil
}

func (uc *SettingsUseCase) Update(ctx context.Context, settings domain.OwnerSettings) (*domain.OwnerSettings, error) {
	if strings.TrimSpace(settings.UserID) == "" {
		return nil, domain.WrapError(domain.ErrValidation, "update settings", errors.New("user_id is required"))
	}
	if uc.store == nil {
		return nil, domain.WrapError(domain.ErrValidation, "update settings", errors.New("settings store is not configured"))
	}
	settings.AutoApproveThreshold = domain.ClampAutoApproveThreshold(settings.AutoApproveThreshold)
	if err := uc.store.SaveOwnerSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("save owner settings: %w", err)
	}
	return &settings, nil
}

// threshold is the auto-approve score for an owner, falling back to the
// default when settings cannot be read.
func (uc *SettingsUseCase) threshold(ctx context.Context, userID string) float64 {
	if uc == nil {
		return domain.DefaultAutoApproveThreshold
	}
	s, err := uc.Get(ctx, userID)
	if err != nil {
		return uc.defaultThreshold
	}
	return s.AutoApproveThreshold
}
