package flows

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/config"
	"github.com/xkilldash9x/extbridge/internal/mocks"
	"github.com/xkilldash9x/extbridge/internal/permission"
	"github.com/xkilldash9x/extbridge/internal/scripts"
	"github.com/xkilldash9x/extbridge/internal/tabs"
)

// -- Test Setup --

type harness struct {
	orchestrator *Orchestrator
	registry     *mocks.MockTabRegistry
	host         *mocks.MockScriptHost
	rules        *permission.MemoryStore
	logs         *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		registry: new(mocks.MockTabRegistry),
		host:     new(mocks.MockScriptHost),
		rules:    permission.NewMemoryStore(),
		logs:     logs,
	}
	h.orchestrator = New(
		config.NewDefaultConfig().Flows,
		tabs.NewLocator(h.registry, logger),
		permission.NewSetter(h.rules, logger),
		scripts.NewRunner(h.host, logger),
		logger,
	)
	return h
}

var (
	popupQuery = tabs.PopupQuery(config.NewDefaultConfig().Flows.PopupURLPatterns)
	popupOpts  = schemas.InjectOptions{AllFrames: true, RunAt: schemas.RunAtDocumentIdle}
	popupSrc   = schemas.ScriptSource{File: scripts.PopupScript}
	modalOpts  = schemas.InjectOptions{AllFrames: true}
	modalSrc   = schemas.ScriptSource{File: scripts.ModalScript}
)

func popup() schemas.Tab {
	return schemas.Tab{ID: "41", URL: "https://acme.os.tc/subscribe?app=1", WindowType: schemas.WindowPopup}
}

// -- accept-http-popup --

func TestAcceptHTTPPopup_Success(t *testing.T) {
	h := newHarness(t)
	h.registry.On("Query", mock.Anything, popupQuery).Return([]schemas.Tab{popup()}, nil).Once()
	h.host.On("Inject", mock.Anything, schemas.TabID("41"), popupSrc, popupOpts).
		Return(mocks.Results(`"successful"`), nil).Once()

	err := h.orchestrator.AcceptHTTPPopup(context.Background())

	require.NoError(t, err)
	setting, ok := h.rules.Setting(schemas.PermissionNotifications, "https://acme.os.tc/*")
	require.True(t, ok, "popup origin should be pre-authorized")
	assert.Equal(t, schemas.SettingAllow, setting)
	h.registry.AssertExpectations(t)
	h.host.AssertExpectations(t)
	assert.Equal(t, 1, h.logs.FilterMessage("Subscription flow completed.").Len())
}

func TestAcceptHTTPPopup_NotFound(t *testing.T) {
	h := newHarness(t)
	h.registry.On("Query", mock.Anything, popupQuery).Return(nil, nil).Once()

	err := h.orchestrator.AcceptHTTPPopup(context.Background())

	assert.ErrorIs(t, err, ErrPopupNotFound)
	assert.Contains(t, err.Error(), "not found")
	h.host.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, h.rules.Rules(schemas.PermissionNotifications), "no permission change without a target")
}

func TestAcceptHTTPPopup_Ambiguous(t *testing.T) {
	h := newHarness(t)
	second := popup()
	second.ID = "42"
	h.registry.On("Query", mock.Anything, popupQuery).Return([]schemas.Tab{popup(), second}, nil).Once()

	err := h.orchestrator.AcceptHTTPPopup(context.Background())

	assert.ErrorIs(t, err, tabs.ErrAmbiguousMatch)
	h.host.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptHTTPPopup_ScriptDidNotSucceed(t *testing.T) {
	h := newHarness(t)
	h.registry.On("Query", mock.Anything, popupQuery).Return([]schemas.Tab{popup()}, nil).Once()
	h.host.On("Inject", mock.Anything, schemas.TabID("41"), popupSrc, popupOpts).
		Return(mocks.Results(`"cancelled"`), nil).Once()

	err := h.orchestrator.AcceptHTTPPopup(context.Background())

	require.ErrorIs(t, err, ErrFlowFailure)
	var failure *FlowFailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, FlowHTTPPopup, failure.Flow)
	assert.Equal(t, mocks.Results(`"cancelled"`), failure.Results)
	assert.Contains(t, err.Error(), `["cancelled"]`)
}

func TestAcceptHTTPPopup_InjectionError(t *testing.T) {
	h := newHarness(t)
	hostErr := errors.New("frame detached")
	h.registry.On("Query", mock.Anything, popupQuery).Return([]schemas.Tab{popup()}, nil).Once()
	h.host.On("Inject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, hostErr).Once()

	err := h.orchestrator.AcceptHTTPPopup(context.Background())

	assert.ErrorIs(t, err, scripts.ErrInjection)
	assert.ErrorIs(t, err, hostErr)
	assert.NotErrorIs(t, err, ErrFlowFailure)
}

func TestAcceptHTTPPopup_PermissionFailureStopsFlow(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	registry := new(mocks.MockTabRegistry)
	host := new(mocks.MockScriptHost)
	store := new(mocks.MockPermissionStore)
	storeErr := errors.New("policy locked")

	registry.On("Query", mock.Anything, popupQuery).Return([]schemas.Tab{popup()}, nil).Once()
	store.On("SetRule", mock.Anything, schemas.PermissionNotifications, "https://acme.os.tc/*", schemas.SettingAllow).Return(storeErr).Once()

	o := New(config.NewDefaultConfig().Flows, tabs.NewLocator(registry, logger), permission.NewSetter(store, logger), scripts.NewRunner(host, logger), logger)
	err := o.AcceptHTTPPopup(context.Background())

	assert.ErrorIs(t, err, storeErr)
	host.AssertNotCalled(t, "Inject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptHTTPPopup_RecoversPanics(t *testing.T) {
	h := newHarness(t)
	h.registry.On("Query", mock.Anything, popupQuery).Run(func(mock.Arguments) {
		panic("registry exploded")
	}).Return(nil, nil)

	var err error
	require.NotPanics(t, func() { err = h.orchestrator.AcceptHTTPPopup(context.Background()) })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry exploded")
	assert.Equal(t, 1, h.logs.FilterMessage("Recovered panic in subscription flow.").Len())
}

// -- accept-https-modal --

func TestAcceptHTTPSModal(t *testing.T) {
	const parent = "https://shop.example/checkout"
	parentTab := schemas.Tab{ID: "12", URL: parent, WindowType: schemas.WindowNormal}

	testCases := []struct {
		name      string
		tabs      []schemas.Tab
		results   []json.RawMessage
		expectErr error
	}{
		{"Success", []schemas.Tab{parentTab}, mocks.Results(`null`, `"successful"`), nil},
		{"Failure", []schemas.Tab{parentTab}, mocks.Results(`"missing-allow-button"`), ErrFlowFailure},
		{"NotFound", nil, nil, ErrModalTabNotFound},
		{"Ambiguous", []schemas.Tab{parentTab, parentTab}, nil, tabs.ErrAmbiguousMatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.registry.On("Query", mock.Anything, tabs.ParentTabQuery(parent)).Return(tc.tabs, nil).Once()
			if tc.results != nil {
				h.host.On("Inject", mock.Anything, schemas.TabID("12"), modalSrc, modalOpts).Return(tc.results, nil).Once()
			}

			err := h.orchestrator.AcceptHTTPSModal(context.Background(), parent)

			if tc.expectErr == nil {
				require.NoError(t, err)
				_, ok := h.rules.Setting(schemas.PermissionNotifications, "https://shop.example/*")
				assert.True(t, ok)
			} else {
				assert.ErrorIs(t, err, tc.expectErr)
			}
			h.host.AssertExpectations(t)
		})
	}

	t.Run("NotFoundNamesTheURL", func(t *testing.T) {
		h := newHarness(t)
		h.registry.On("Query", mock.Anything, mock.Anything).Return(nil, nil).Once()
		err := h.orchestrator.AcceptHTTPSModal(context.Background(), parent)
		assert.Contains(t, err.Error(), parent)
	})

	t.Run("RequiresParentURL", func(t *testing.T) {
		h := newHarness(t)
		err := h.orchestrator.AcceptHTTPSModal(context.Background(), "")
		assert.ErrorIs(t, err, ErrMissingParentURL)
		h.registry.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
	})
}
