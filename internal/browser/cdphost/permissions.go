package cdphost

import (
	"context"
	"fmt"
	"sort"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/matchpattern"
)

var notifications = &browser.PermissionDescriptor{Name: "notifications"}

// permissionSetting maps a rule setting to its DevTools equivalent.
func permissionSetting(s schemas.PermissionSetting) (browser.PermissionSetting, bool) {
	switch s {
	case schemas.SettingAllow:
		return browser.PermissionSettingGranted, true
	case schemas.SettingBlock:
		return browser.PermissionSettingDenied, true
	case schemas.SettingAsk, schemas.SettingClear:
		return browser.PermissionSettingPrompt, true
	default:
		return "", false
	}
}

// SetRule records the rule and, for notification rules naming a single
// origin, applies it to the browser. DevTools has no popup permission and no
// wildcard origins; those rules are recorded only.
func (h *Host) SetRule(ctx context.Context, kind schemas.PermissionKind, pattern string, setting schemas.PermissionSetting) error {
	if err := h.MemoryStore.SetRule(ctx, kind, pattern, setting); err != nil {
		return err
	}
	log := h.logger.With(zap.String("kind", string(kind)), zap.String("pattern", pattern))

	if kind != schemas.PermissionNotifications {
		log.Debug("Rule recorded only; the browser exposes no override for this kind.")
		return nil
	}
	p, err := matchpattern.Parse(pattern)
	if err != nil {
		return err
	}
	origin, ok := p.Origin()
	if !ok {
		log.Debug("Rule recorded only; pattern does not name a single origin.")
		return nil
	}

	if err := h.grant(ctx, origin, setting); err != nil {
		return err
	}
	h.mu.Lock()
	h.origins[origin] = struct{}{}
	h.mu.Unlock()
	log.Debug("Permission override applied.", zap.String("origin", origin))
	return nil
}

// ClearRules forgets every rule of kind and resets the notification overrides
// this host applied back to prompt.
func (h *Host) ClearRules(ctx context.Context, kind schemas.PermissionKind) error {
	if err := h.MemoryStore.ClearRules(ctx, kind); err != nil {
		return err
	}
	if kind != schemas.PermissionNotifications {
		return nil
	}

	h.mu.Lock()
	origins := make([]string, 0, len(h.origins))
	for o := range h.origins {
		origins = append(origins, o)
	}
	h.origins = make(map[string]struct{})
	h.mu.Unlock()
	sort.Strings(origins)

	for _, origin := range origins {
		if err := h.grant(ctx, origin, schemas.SettingClear); err != nil {
			return err
		}
	}
	h.logger.Debug("Notification overrides reset.", zap.Int("origins", len(origins)))
	return nil
}

func (h *Host) grant(ctx context.Context, origin string, setting schemas.PermissionSetting) error {
	value, ok := permissionSetting(setting)
	if !ok {
		return fmt.Errorf("no browser permission for setting %q", setting)
	}
	action := browser.SetPermission(notifications, value).WithOrigin(origin)
	if err := h.run(ctx, chromedp.Tasks{action}); err != nil {
		return fmt.Errorf("failed to set notification permission for %s: %w", origin, err)
	}
	return nil
}
