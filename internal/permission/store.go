package permission

import (
	"context"
	"sort"
	"sync"

	"github.com/xkilldash9x/extbridge/api/schemas"
)

// Rule is one entry of the content-settings table.
type Rule struct {
	Pattern string                    `json:"pattern"`
	Setting schemas.PermissionSetting `json:"setting"`
}

// MemoryStore is an in-process content-settings table. It is safe for
// concurrent use and implements schemas.PermissionStore.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[schemas.PermissionKind]map[string]schemas.PermissionSetting
}

var _ schemas.PermissionStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[schemas.PermissionKind]map[string]schemas.PermissionSetting)}
}

// SetRule upserts pattern -> setting.
func (s *MemoryStore) SetRule(_ context.Context, kind schemas.PermissionKind, pattern string, setting schemas.PermissionSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPattern, ok := s.rules[kind]
	if !ok {
		byPattern = make(map[string]schemas.PermissionSetting)
		s.rules[kind] = byPattern
	}
	byPattern[pattern] = setting
	return nil
}

// ClearRules drops every rule of kind.
func (s *MemoryStore) ClearRules(_ context.Context, kind schemas.PermissionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, kind)
	return nil
}

// Setting returns the setting stored for an exact pattern.
func (s *MemoryStore) Setting(kind schemas.PermissionKind, pattern string) (schemas.PermissionSetting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	setting, ok := s.rules[kind][pattern]
	return setting, ok
}

// Rules returns a snapshot of kind's rules sorted by pattern.
func (s *MemoryStore) Rules(kind schemas.PermissionKind) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, 0, len(s.rules[kind]))
	for pattern, setting := range s.rules[kind] {
		out = append(out, Rule{Pattern: pattern, Setting: setting})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}
