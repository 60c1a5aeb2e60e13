package sandbox

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/extbridge/api/schemas"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h := New(zaptest.NewLogger(t))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func page(url, body string) FrameSpec {
	return FrameSpec{URL: url, HTML: "<html><head><title>" + url + "</title></head><body>" + body + "</body></html>"}
}

func TestHost_Query(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	home, err := h.OpenTab(schemas.WindowNormal, page("https://shop.example/", ""))
	require.NoError(t, err)
	popup, err := h.OpenTab(schemas.WindowPopup, page("https://acme.os.tc/subscribe?id=1", ""))
	require.NoError(t, err)
	_, err = h.OpenTab(schemas.WindowNormal, page("https://acme.os.tc/subscribe?id=2", ""))
	require.NoError(t, err)

	ids := func(tabs []schemas.Tab) []schemas.TabID {
		var out []schemas.TabID
		for _, tb := range tabs {
			out = append(out, tb.ID)
		}
		return out
	}

	testCases := []struct {
		name     string
		query    schemas.TabQuery
		expected []schemas.TabID
	}{
		{"Everything", schemas.TabQuery{}, []schemas.TabID{home, popup, "3"}},
		{"PopupsMatchingPattern", schemas.TabQuery{WindowType: schemas.WindowPopup, URLPatterns: []string{"*://*.os.tc/subscribe*"}}, []schemas.TabID{popup}},
		{"PatternAcrossWindowTypes", schemas.TabQuery{URLPatterns: []string{"https://acme.os.tc/*"}}, []schemas.TabID{popup, "3"}},
		{"ExactURL", schemas.TabQuery{URL: "https://shop.example/"}, []schemas.TabID{home}},
		{"ExactURLIsNotAPrefix", schemas.TabQuery{URL: "https://shop.example"}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tabs, err := h.Query(ctx, tc.query)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.expected, ids(tabs), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Query() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("InvalidPattern", func(t *testing.T) {
		_, err := h.Query(ctx, schemas.TabQuery{URLPatterns: []string{"nope"}})
		assert.Error(t, err)
	})

	t.Run("SnapshotCarriesTitle", func(t *testing.T) {
		tabs, err := h.Query(ctx, schemas.TabQuery{URL: "https://shop.example/"})
		require.NoError(t, err)
		require.Len(t, tabs, 1)
		assert.Equal(t, "https://shop.example/", tabs[0].Title)
		assert.Equal(t, schemas.WindowNormal, tabs[0].WindowType)
	})
}

func TestHost_CreateAndCurrent(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	_, err := h.Current(ctx)
	assert.ErrorIs(t, err, ErrNoCurrentTab)

	bg, err := h.Create(ctx, "https://background.example/", false)
	require.NoError(t, err)
	assert.False(t, bg.Active)
	assert.Equal(t, schemas.WindowNormal, bg.WindowType)

	current, err := h.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, bg.ID, current.ID, "first tab is current when none is active")

	fg, err := h.Create(ctx, "https://foreground.example/", true)
	require.NoError(t, err)
	assert.True(t, fg.Active)

	current, err = h.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, fg.ID, current.ID)
	assert.Equal(t, "https://foreground.example/", current.URL)

	require.NoError(t, h.CloseTab(fg.ID))
	current, err = h.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, bg.ID, current.ID)

	assert.ErrorIs(t, h.CloseTab(fg.ID), ErrNoSuchTab)
	assert.ErrorIs(t, h.Activate("99"), ErrNoSuchTab)
}

func TestHost_PermissionsAreRecorded(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	require.NoError(t, h.SetRule(ctx, schemas.PermissionNotifications, "https://a.example/*", schemas.SettingAllow))
	setting, ok := h.Setting(schemas.PermissionNotifications, "https://a.example/*")
	require.True(t, ok)
	assert.Equal(t, schemas.SettingAllow, setting)

	require.NoError(t, h.ClearRules(ctx, schemas.PermissionNotifications))
	assert.Empty(t, h.Rules(schemas.PermissionNotifications))
}
