package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/mocks"
)

// -- Test Setup --

func newObservedSetter(store schemas.PermissionStore) (*Setter, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewSetter(store, zap.New(core)), logs
}

// -- Test Cases --

func TestSetter_Set_UpsertsRule(t *testing.T) {
	store := NewMemoryStore()
	setter, _ := newObservedSetter(store)
	ctx := context.Background()

	require.NoError(t, setter.Set(ctx, schemas.PermissionNotifications, "https://acme.os.tc/*", schemas.SettingAllow))
	require.NoError(t, setter.Set(ctx, schemas.PermissionNotifications, "https://acme.os.tc/*", schemas.SettingBlock))

	setting, ok := store.Setting(schemas.PermissionNotifications, "https://acme.os.tc/*")
	require.True(t, ok)
	assert.Equal(t, schemas.SettingBlock, setting, "last write should win")
	assert.Len(t, store.Rules(schemas.PermissionNotifications), 1)
	assert.Empty(t, store.Rules(schemas.PermissionPopups))
}

func TestSetter_Set_IsIdempotent(t *testing.T) {
	once := NewMemoryStore()
	twice := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, NewSetter(once, nil).Set(ctx, schemas.PermissionNotifications, "https://a.example/*", schemas.SettingAsk))
	for i := 0; i < 2; i++ {
		require.NoError(t, NewSetter(twice, nil).Set(ctx, schemas.PermissionNotifications, "https://a.example/*", schemas.SettingAsk))
	}

	assert.Equal(t, once.Rules(schemas.PermissionNotifications), twice.Rules(schemas.PermissionNotifications))
}

func TestSetter_Clear_IsGlobalPerKind(t *testing.T) {
	store := NewMemoryStore()
	setter, logs := newObservedSetter(store)
	ctx := context.Background()

	for _, pattern := range []string{"https://a.example/*", "https://b.example/*", "https://c.example/*"} {
		require.NoError(t, setter.Allow(ctx, schemas.PermissionNotifications, pattern))
	}
	require.NoError(t, setter.Allow(ctx, schemas.PermissionPopups, "https://a.example/*"))

	// The pattern names one site, but every notification rule goes.
	require.NoError(t, setter.Set(ctx, schemas.PermissionNotifications, "https://a.example/*", schemas.SettingClear))

	assert.Empty(t, store.Rules(schemas.PermissionNotifications))
	assert.Len(t, store.Rules(schemas.PermissionPopups), 1, "other kinds are untouched")
	assert.Equal(t, 1, logs.FilterMessageSnippet("pattern is ignored").Len())
}

func TestSetter_Clear_DoesNotRequirePattern(t *testing.T) {
	store := new(mocks.MockPermissionStore)
	store.On("ClearRules", mock.Anything, schemas.PermissionPopups).Return(nil).Once()
	setter, logs := newObservedSetter(store)

	require.NoError(t, setter.Set(context.Background(), schemas.PermissionPopups, "", schemas.SettingClear))

	store.AssertExpectations(t)
	assert.Zero(t, logs.FilterMessageSnippet("pattern is ignored").Len())
}

func TestSetter_Set_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		kind    schemas.PermissionKind
		pattern string
		setting schemas.PermissionSetting
	}{
		{"UnknownKind", "geolocation", "https://a.example/*", schemas.SettingAllow},
		{"AskOnPopups", schemas.PermissionPopups, "https://a.example/*", schemas.SettingAsk},
		{"UnknownSetting", schemas.PermissionNotifications, "https://a.example/*", "maybe"},
		{"EmptyPattern", schemas.PermissionNotifications, "", schemas.SettingAllow},
		{"MalformedPattern", schemas.PermissionNotifications, "a.example", schemas.SettingBlock},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := new(mocks.MockPermissionStore)
			setter := NewSetter(store, nil)

			err := setter.Set(context.Background(), tc.kind, tc.pattern, tc.setting)
			assert.ErrorIs(t, err, ErrInvalidPermission)
			// Rejected before reaching the store.
			store.AssertNotCalled(t, "SetRule", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			store.AssertNotCalled(t, "ClearRules", mock.Anything, mock.Anything)
		})
	}
}

func TestSetter_Set_PropagatesStoreErrors(t *testing.T) {
	storeErr := errors.New("content settings unavailable")

	t.Run("SetRule", func(t *testing.T) {
		store := new(mocks.MockPermissionStore)
		store.On("SetRule", mock.Anything, schemas.PermissionNotifications, "https://a.example/*", schemas.SettingAllow).
			Return(storeErr).Once()

		err := NewSetter(store, nil).Allow(context.Background(), schemas.PermissionNotifications, "https://a.example/*")
		assert.ErrorIs(t, err, storeErr)
		store.AssertExpectations(t)
	})

	t.Run("ClearRules", func(t *testing.T) {
		store := new(mocks.MockPermissionStore)
		store.On("ClearRules", mock.Anything, schemas.PermissionNotifications).Return(storeErr).Once()

		err := NewSetter(store, nil).Set(context.Background(), schemas.PermissionNotifications, "", schemas.SettingClear)
		assert.ErrorIs(t, err, storeErr)
		store.AssertExpectations(t)
	})
}
