// Package permission applies per-site content-setting changes on behalf of
// the dispatcher and the subscription flows.
package permission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/matchpattern"
)

// ErrInvalidPermission marks requests rejected before the store is touched.
var ErrInvalidPermission = errors.New("invalid permission request")

// Setter validates and applies permission changes to a PermissionStore.
type Setter struct {
	store  schemas.PermissionStore
	logger *zap.Logger
}

// NewSetter wires a Setter to store.
func NewSetter(store schemas.PermissionStore, logger *zap.Logger) *Setter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Setter{store: store, logger: logger.Named("permission")}
}

// Set maps sitePattern to setting for kind.
//
// SettingClear removes every rule of kind; sitePattern is ignored. Any other
// setting upserts a single rule. Nothing is retried.
func (s *Setter) Set(ctx context.Context, kind schemas.PermissionKind, sitePattern string, setting schemas.PermissionSetting) error {
	if kind.Settings() == nil {
		return fmt.Errorf("%w: unknown permission kind %q", ErrInvalidPermission, kind)
	}
	if !kind.Accepts(setting) {
		return fmt.Errorf("%w: %q is not a valid %s setting", ErrInvalidPermission, setting, kind)
	}

	if setting == schemas.SettingClear {
		if sitePattern != "" {
			s.logger.Warn("Clear resets all rules of the kind; the site pattern is ignored.",
				zap.String("kind", string(kind)), zap.String("ignored_pattern", sitePattern))
		}
		if err := s.store.ClearRules(ctx, kind); err != nil {
			return fmt.Errorf("failed to clear %s rules: %w", kind, err)
		}
		s.logger.Info("Cleared permission rules.", zap.String("kind", string(kind)))
		return nil
	}

	if _, err := matchpattern.Parse(sitePattern); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPermission, err)
	}
	if err := s.store.SetRule(ctx, kind, sitePattern, setting); err != nil {
		return fmt.Errorf("failed to set %s rule for %s: %w", kind, sitePattern, err)
	}
	s.logger.Info("Permission rule applied.",
		zap.String("kind", string(kind)),
		zap.String("pattern", sitePattern),
		zap.String("setting", string(setting)))
	return nil
}

// Allow is shorthand for Set(kind, pattern, SettingAllow).
func (s *Setter) Allow(ctx context.Context, kind schemas.PermissionKind, sitePattern string) error {
	return s.Set(ctx, kind, sitePattern, schemas.SettingAllow)
}
