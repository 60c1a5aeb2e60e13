package schemas

import (
	"context"
	"encoding/json"
)

// PermissionStore is the browser's content-settings rule table.
type PermissionStore interface {
	// SetRule upserts pattern -> setting for the kind.
	SetRule(ctx context.Context, kind PermissionKind, pattern string, setting PermissionSetting) error
	// ClearRules removes every rule of the kind.
	ClearRules(ctx context.Context, kind PermissionKind) error
}

// TabRegistry enumerates and creates tabs.
type TabRegistry interface {
	Query(ctx context.Context, q TabQuery) ([]Tab, error)
	Create(ctx context.Context, url string, active bool) (Tab, error)
	// Current returns the focused tab of the focused window.
	Current(ctx context.Context) (Tab, error)
}

// ScriptHost injects code into a tab's frames and collects one result per frame.
// A frame whose script throws contributes a JSON null.
type ScriptHost interface {
	Inject(ctx context.Context, tabID TabID, src ScriptSource, opts InjectOptions) ([]json.RawMessage, error)
}

// BrowserHost bundles the three capabilities a browser implementation provides.
type BrowserHost interface {
	PermissionStore
	TabRegistry
	ScriptHost
	Close() error
}

// ScratchStore is the process-lifetime key/value area shared by all drivers.
type ScratchStore interface {
	// Get returns the stored value and whether the key has been set.
	Get(key string) (json.RawMessage, bool)
	// Set stores value; a nil value records the key as undefined.
	Set(key string, value json.RawMessage)
}
