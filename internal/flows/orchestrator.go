// Package flows drives the subscription UIs: locate the tab, pre-authorize its
// origin for notifications, run the packaged script and interpret the result.
package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/config"
	"github.com/xkilldash9x/extbridge/internal/matchpattern"
	"github.com/xkilldash9x/extbridge/internal/permission"
	"github.com/xkilldash9x/extbridge/internal/scripts"
	"github.com/xkilldash9x/extbridge/internal/tabs"
)

const (
	FlowHTTPPopup  = "accept-http-popup"
	FlowHTTPSModal = "accept-https-modal"
)

var (
	ErrPopupNotFound    = errors.New("subscription popup not found")
	ErrModalTabNotFound = errors.New("subscription modal tab not found")
	ErrMissingParentURL = errors.New("parentTabUrl is required")
	// ErrFlowFailure is matched by FlowFailureError.
	ErrFlowFailure = errors.New("subscription flow did not report success")
)

// FlowFailureError carries the raw per-frame results of a flow whose script
// never reported the success sentinel.
type FlowFailureError struct {
	Flow    string
	Results []json.RawMessage
}

func (e *FlowFailureError) Error() string {
	raw, err := json.Marshal(e.Results)
	if err != nil {
		raw = []byte(fmt.Sprintf("%q", e.Results))
	}
	return fmt.Sprintf("%s did not report success; script results: %s", e.Flow, raw)
}

// Is lets errors.Is(err, ErrFlowFailure) succeed.
func (e *FlowFailureError) Is(target error) bool { return target == ErrFlowFailure }

// Orchestrator sequences the subscription flows. Tab state is looked up on
// every call; nothing is cached between flows.
type Orchestrator struct {
	cfg     config.FlowsConfig
	locator *tabs.Locator
	setter  *permission.Setter
	runner  *scripts.Runner
	logger  *zap.Logger
}

// New creates an Orchestrator.
func New(cfg config.FlowsConfig, locator *tabs.Locator, setter *permission.Setter, runner *scripts.Runner, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		locator: locator,
		setter:  setter,
		runner:  runner,
		logger:  logger.Named("flows"),
	}
}

// flow describes one subscription UI.
type flow struct {
	name     string
	query    schemas.TabQuery
	notFound error
	source   schemas.ScriptSource
	opts     schemas.InjectOptions
}

// AcceptHTTPPopup accepts the subscription prompt in the popup window opened
// by an HTTP site.
func (o *Orchestrator) AcceptHTTPPopup(ctx context.Context) error {
	return o.run(ctx, flow{
		name:     FlowHTTPPopup,
		query:    tabs.PopupQuery(o.cfg.PopupURLPatterns),
		notFound: ErrPopupNotFound,
		source:   schemas.ScriptSource{File: o.cfg.PopupScript},
		opts:     schemas.InjectOptions{AllFrames: true, RunAt: schemas.RunAtDocumentIdle},
	})
}

// AcceptHTTPSModal accepts the subscription modal rendered inside the tab
// whose URL is exactly parentTabURL.
func (o *Orchestrator) AcceptHTTPSModal(ctx context.Context, parentTabURL string) error {
	if parentTabURL == "" {
		return ErrMissingParentURL
	}
	return o.run(ctx, flow{
		name:     FlowHTTPSModal,
		query:    tabs.ParentTabQuery(parentTabURL),
		notFound: fmt.Errorf("%w: no tab has url %s", ErrModalTabNotFound, parentTabURL),
		source:   schemas.ScriptSource{File: o.cfg.ModalScript},
		opts:     schemas.InjectOptions{AllFrames: true},
	})
}

func (o *Orchestrator) run(ctx context.Context, f flow) (err error) {
	log := o.logger.With(zap.String("flow", f.name))

	// A flow always settles with an error value, even if a collaborator panics.
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic in subscription flow.",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%s flow panicked: %v", f.name, r)
		}
	}()

	log.Info("Starting subscription flow.")

	tab, err := o.locator.Locate(ctx, f.query)
	if err != nil {
		log.Error("Failed to locate tab.", zap.Error(err))
		return err
	}
	if tab == nil {
		log.Warn("Target tab not found; nothing injected.")
		return f.notFound
	}
	log = log.With(zap.String("tab_id", string(tab.ID)), zap.String("url", tab.URL))

	origin, err := matchpattern.OriginPattern(tab.URL)
	if err != nil {
		log.Error("Failed to derive origin pattern.", zap.Error(err))
		return fmt.Errorf("%s: %w", f.name, err)
	}
	if err := o.setter.Allow(ctx, schemas.PermissionNotifications, origin); err != nil {
		log.Error("Failed to pre-authorize notifications.", zap.String("pattern", origin), zap.Error(err))
		return err
	}

	results, err := o.runner.Run(ctx, tab.ID, f.source, f.opts)
	if err != nil {
		log.Error("Subscription script failed.", zap.Error(err))
		return err
	}

	if !scripts.ReportsSuccess(results) {
		failure := &FlowFailureError{Flow: f.name, Results: results}
		log.Warn("Subscription script did not report success.", zap.Error(failure))
		return failure
	}

	log.Info("Subscription flow completed.")
	return nil
}
