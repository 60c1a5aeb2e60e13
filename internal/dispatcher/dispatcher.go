// Package dispatcher routes driver commands to the permission, tab, script,
// flow and scratch-store components, producing exactly one response per
// recognized request.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/config"
	"github.com/xkilldash9x/extbridge/internal/ctxutil"
	"github.com/xkilldash9x/extbridge/internal/flows"
	"github.com/xkilldash9x/extbridge/internal/permission"
	"github.com/xkilldash9x/extbridge/internal/scripts"
)

var (
	// ErrInvalidRequest marks payloads missing a required field.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownCommand is returned for commands outside schemas.AllCommands.
	ErrUnknownCommand = errors.New("unknown command")
)

// FlowRunner is the subset of flows.Orchestrator the dispatcher needs.
type FlowRunner interface {
	AcceptHTTPPopup(ctx context.Context) error
	AcceptHTTPSModal(ctx context.Context, parentTabURL string) error
}

var _ FlowRunner = (*flows.Orchestrator)(nil)

// Deps are the collaborators commands are routed to.
type Deps struct {
	Setter *permission.Setter
	Tabs   schemas.TabRegistry
	Runner *scripts.Runner
	Flows  FlowRunner
	Store  schemas.ScratchStore
}

type handlerFunc func(ctx context.Context, req schemas.Request) (json.RawMessage, error)

// Dispatcher is the single entry point for driver requests. It is safe for
// concurrent use; each request is handled independently.
type Dispatcher struct {
	deps     Deps
	policy   config.DispatcherConfig
	logger   *zap.Logger
	handlers map[schemas.Command]handlerFunc
}

// New creates a Dispatcher. Empty policy fields default to reply.
func New(deps Deps, policy config.DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.UnknownCommand == "" {
		policy.UnknownCommand = config.PolicyReply
	}
	if policy.OnFault == "" {
		policy.OnFault = config.PolicyReply
	}

	d := &Dispatcher{
		deps:   deps,
		policy: policy,
		logger: logger.Named("dispatcher"),
	}
	d.handlers = map[schemas.Command]handlerFunc{
		schemas.CommandSetNotificationPermission:    d.permissionHandler(schemas.PermissionNotifications),
		schemas.CommandSetPopupPermission:           d.permissionHandler(schemas.PermissionPopups),
		schemas.CommandCreateBrowserTab:             d.createBrowserTab,
		schemas.CommandExecuteScript:                d.executeScript,
		schemas.CommandAcceptHTTPSubscriptionPopup:  d.acceptHTTPPopup,
		schemas.CommandAcceptHTTPSSubscriptionModal: d.acceptHTTPSModal,
		schemas.CommandGet:                          d.get,
		schemas.CommandSet:                          d.set,
	}
	return d
}

type requestIDKey struct{}

// WithRequestID attaches a correlation id that Dispatch will log instead of
// generating its own.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the correlation id attached by WithRequestID.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// Dispatch handles req and returns its response. ok is false when policy says
// no response should be sent (dropped unknown command or fault).
//
// The request runs on a context detached from ctx's cancellation: once
// started, an operation completes even if the caller disconnects.
func (d *Dispatcher) Dispatch(ctx context.Context, req schemas.Request) (resp schemas.Response, ok bool) {
	requestID, found := RequestIDFrom(ctx)
	if !found {
		requestID = uuid.NewString()
		ctx = WithRequestID(ctx, requestID)
	}
	ctx = ctxutil.Detach(ctx)
	log := d.logger.With(zap.String("request_id", requestID), zap.String("command", req.Command.String()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic while dispatching command.",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			if d.policy.OnFault == config.PolicyDrop {
				resp, ok = schemas.Response{}, false
				return
			}
			resp, ok = schemas.Fail(fmt.Errorf("internal error: %v", r)), true
		}
	}()

	if !req.Command.Known() {
		if d.policy.UnknownCommand == config.PolicyDrop {
			log.Warn("Dropping unknown command.")
			return schemas.Response{}, false
		}
		log.Warn("Rejecting unknown command.")
		return schemas.Fail(fmt.Errorf("%w: %q", ErrUnknownCommand, req.Command)), true
	}

	log.Info("Received command.")
	result, err := d.handlers[req.Command](ctx, req)
	if err != nil {
		log.Warn("Command failed.", zap.Error(err))
		return failure(err), true
	}
	log.Debug("Command succeeded.")
	return schemas.OK(result), true
}

// DispatchAsync runs Dispatch on its own goroutine. The returned channel
// yields at most one response and is then closed.
func (d *Dispatcher) DispatchAsync(ctx context.Context, req schemas.Request) <-chan schemas.Response {
	out := make(chan schemas.Response, 1)
	go func() {
		defer close(out)
		if resp, ok := d.Dispatch(ctx, req); ok {
			out <- resp
		}
	}()
	return out
}

// failure flattens err to its message. Flow failures also carry the raw
// per-frame script results.
func failure(err error) schemas.Response {
	resp := schemas.Fail(err)
	var flowErr *flows.FlowFailureError
	if errors.As(err, &flowErr) {
		if raw, mErr := json.Marshal(flowErr.Results); mErr == nil {
			resp.Result = raw
		}
	}
	return resp
}

// -- Handlers --

func (d *Dispatcher) permissionHandler(kind schemas.PermissionKind) handlerFunc {
	return func(ctx context.Context, req schemas.Request) (json.RawMessage, error) {
		setting, err := schemas.ParsePermissionSetting(kind, req.Permission)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if setting != schemas.SettingClear && req.SiteURL == "" {
			return nil, fmt.Errorf("%w: siteUrl is required", ErrInvalidRequest)
		}
		return nil, d.deps.Setter.Set(ctx, kind, req.SiteURL, setting)
	}
}

func (d *Dispatcher) createBrowserTab(ctx context.Context, req schemas.Request) (json.RawMessage, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	tab, err := d.deps.Tabs.Create(ctx, req.URL, active)
	if err != nil {
		return nil, fmt.Errorf("failed to create tab for %s: %w", req.URL, err)
	}
	d.logger.Debug("Tab created.", zap.String("tab_id", string(tab.ID)), zap.Bool("active", active))
	return nil, nil
}

func (d *Dispatcher) executeScript(ctx context.Context, req schemas.Request) (json.RawMessage, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	tabID := req.TabID
	if tabID.IsCurrent() {
		current, err := d.deps.Tabs.Current(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve current tab: %w", err)
		}
		tabID = current.ID
	}

	results, err := d.deps.Runner.Run(ctx, tabID, schemas.ScriptSource{Code: req.Code}, schemas.InjectOptions{AllFrames: req.AllFrames})
	if err != nil {
		return nil, err
	}

	if req.AllFrames {
		return json.Marshal(results)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

func (d *Dispatcher) acceptHTTPPopup(ctx context.Context, _ schemas.Request) (json.RawMessage, error) {
	return nil, d.deps.Flows.AcceptHTTPPopup(ctx)
}

func (d *Dispatcher) acceptHTTPSModal(ctx context.Context, req schemas.Request) (json.RawMessage, error) {
	if req.ParentTabURL == "" {
		return nil, fmt.Errorf("%w: parentTabUrl is required", ErrInvalidRequest)
	}
	return nil, d.deps.Flows.AcceptHTTPSModal(ctx, req.ParentTabURL)
}

func (d *Dispatcher) get(_ context.Context, req schemas.Request) (json.RawMessage, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	value, _ := d.deps.Store.Get(req.Key)
	return value, nil
}

func (d *Dispatcher) set(_ context.Context, req schemas.Request) (json.RawMessage, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	d.deps.Store.Set(req.Key, req.Value)
	return nil, nil
}
