// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/extbridge/api/schemas"
)

// -- Permission Store Mock --

// MockPermissionStore mocks schemas.PermissionStore.
type MockPermissionStore struct {
	mock.Mock
}

var _ schemas.PermissionStore = (*MockPermissionStore)(nil)

func (m *MockPermissionStore) SetRule(ctx context.Context, kind schemas.PermissionKind, pattern string, setting schemas.PermissionSetting) error {
	args := m.Called(ctx, kind, pattern, setting)
	return args.Error(0)
}

func (m *MockPermissionStore) ClearRules(ctx context.Context, kind schemas.PermissionKind) error {
	args := m.Called(ctx, kind)
	return args.Error(0)
}

// -- Tab Registry Mock --

// MockTabRegistry mocks schemas.TabRegistry.
type MockTabRegistry struct {
	mock.Mock
}

var _ schemas.TabRegistry = (*MockTabRegistry)(nil)

func (m *MockTabRegistry) Query(ctx context.Context, q schemas.TabQuery) ([]schemas.Tab, error) {
	args := m.Called(ctx, q)
	var tabs []schemas.Tab
	if v := args.Get(0); v != nil {
		tabs = v.([]schemas.Tab)
	}
	return tabs, args.Error(1)
}

func (m *MockTabRegistry) Create(ctx context.Context, url string, active bool) (schemas.Tab, error) {
	args := m.Called(ctx, url, active)
	return args.Get(0).(schemas.Tab), args.Error(1)
}

func (m *MockTabRegistry) Current(ctx context.Context) (schemas.Tab, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Tab), args.Error(1)
}

// -- Script Host Mock --

// MockScriptHost mocks schemas.ScriptHost.
type MockScriptHost struct {
	mock.Mock
}

var _ schemas.ScriptHost = (*MockScriptHost)(nil)

func (m *MockScriptHost) Inject(ctx context.Context, tabID schemas.TabID, src schemas.ScriptSource, opts schemas.InjectOptions) ([]json.RawMessage, error) {
	args := m.Called(ctx, tabID, src, opts)
	var results []json.RawMessage
	if v := args.Get(0); v != nil {
		results = v.([]json.RawMessage)
	}
	return results, args.Error(1)
}

// Results is a test helper turning JSON literals into per-frame results.
func Results(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out
}
