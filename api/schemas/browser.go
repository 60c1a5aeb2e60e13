package schemas

import "fmt"

// -- Permissions --

// PermissionKind names a content setting category.
type PermissionKind string

const (
	PermissionNotifications PermissionKind = "notifications"
	PermissionPopups        PermissionKind = "popups"
)

// PermissionSetting is the value a site pattern is mapped to.
type PermissionSetting string

const (
	SettingAllow PermissionSetting = "allow"
	SettingBlock PermissionSetting = "block"
	SettingAsk   PermissionSetting = "ask"
	// SettingClear is not stored; it resets every rule of a kind.
	SettingClear PermissionSetting = "clear"
)

// Settings returns the settings accepted for the kind, clear included.
func (k PermissionKind) Settings() []PermissionSetting {
	switch k {
	case PermissionNotifications:
		return []PermissionSetting{SettingAllow, SettingBlock, SettingAsk, SettingClear}
	case PermissionPopups:
		return []PermissionSetting{SettingAllow, SettingBlock, SettingClear}
	default:
		return nil
	}
}

// Accepts reports whether s is a legal setting for the kind.
func (k PermissionKind) Accepts(s PermissionSetting) bool {
	for _, allowed := range k.Settings() {
		if s == allowed {
			return true
		}
	}
	return false
}

// ParsePermissionSetting validates a driver supplied setting against kind.
func ParsePermissionSetting(kind PermissionKind, raw string) (PermissionSetting, error) {
	s := PermissionSetting(raw)
	if !kind.Accepts(s) {
		return "", fmt.Errorf("invalid %s permission %q (allowed: %v)", kind, raw, kind.Settings())
	}
	return s, nil
}

// -- Tabs --

// WindowType distinguishes regular browser windows from popup windows.
type WindowType string

const (
	WindowNormal WindowType = "normal"
	WindowPopup  WindowType = "popup"
)

// Tab is a snapshot of a browser tab. It is never cached across requests.
type Tab struct {
	ID         TabID      `json:"id"`
	URL        string     `json:"url"`
	Title      string     `json:"title,omitempty"`
	WindowType WindowType `json:"windowType"`
	Active     bool       `json:"active"`
}

// TabQuery filters tabs. Empty fields match everything. URLPatterns are
// match patterns and a tab matches if any of them does; URL is an exact match.
type TabQuery struct {
	WindowType  WindowType `json:"windowType,omitempty"`
	URLPatterns []string   `json:"urlPatterns,omitempty"`
	URL         string     `json:"url,omitempty"`
}

// -- Scripts --

// ScriptSource holds either inline code or the name of a packaged script file.
type ScriptSource struct {
	Code string `json:"code,omitempty"`
	File string `json:"file,omitempty"`
}

func (s ScriptSource) String() string {
	if s.File != "" {
		return "file:" + s.File
	}
	return "inline"
}

// RunAt controls how far a document must have loaded before a script runs.
type RunAt string

const (
	RunAtDocumentStart RunAt = "document_start"
	RunAtDocumentEnd   RunAt = "document_end"
	RunAtDocumentIdle  RunAt = "document_idle"
)

// InjectOptions tunes a script injection.
type InjectOptions struct {
	AllFrames bool  `json:"allFrames"`
	RunAt     RunAt `json:"runAt,omitempty"`
}
