// Package scripts injects code into tab frames and interprets the results of
// the packaged subscription scripts.
package scripts

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
)

// Packaged script file names.
const (
	PopupScript = "accept-http-subscription-popup.js"
	ModalScript = "accept-https-subscription-modal.js"
)

// Sentinel is the value a packaged script evaluates to once it has clicked.
const Sentinel = "successful"

//go:embed assets/*.js
var embedded embed.FS

var (
	// ErrInjection is matched by InjectionError.
	ErrInjection = errors.New("script injection failed")
	// ErrInvalidSource is returned for a ScriptSource with neither or both fields set.
	ErrInvalidSource = errors.New("script source must set exactly one of code or file")
	// ErrUnknownScript is returned when a file source names no packaged script.
	ErrUnknownScript = errors.New("unknown packaged script")
)

// InjectionError wraps a host failure with the tab and source involved.
type InjectionError struct {
	TabID  schemas.TabID
	Source schemas.ScriptSource
	Err    error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("failed to inject %s into tab %s: %v", e.Source, e.TabID, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInjection) succeed.
func (e *InjectionError) Is(target error) bool { return target == ErrInjection }

// Assets exposes the packaged scripts rooted at their file names.
func Assets() fs.FS {
	sub, err := fs.Sub(embedded, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// Load returns the source of a packaged script.
func Load(name string) (string, error) {
	clean := path.Base(strings.TrimPrefix(name, "/"))
	data, err := fs.ReadFile(Assets(), clean)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownScript, name)
	}
	return string(data), nil
}

// Resolve returns the code src refers to, loading packaged files as needed.
func Resolve(src schemas.ScriptSource) (string, error) {
	if err := validate(src); err != nil {
		return "", err
	}
	if src.File != "" {
		return Load(src.File)
	}
	return src.Code, nil
}

func validate(src schemas.ScriptSource) error {
	if (src.Code == "") == (src.File == "") {
		return ErrInvalidSource
	}
	return nil
}

// Runner delegates injections to a ScriptHost. It does not interpret results.
type Runner struct {
	host   schemas.ScriptHost
	logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(host schemas.ScriptHost, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{host: host, logger: logger.Named("scripts")}
}

// Run injects src into tabID and returns one result per frame, in frame order.
// Host failures come back as *InjectionError.
func (r *Runner) Run(ctx context.Context, tabID schemas.TabID, src schemas.ScriptSource, opts schemas.InjectOptions) ([]json.RawMessage, error) {
	if err := validate(src); err != nil {
		return nil, err
	}

	r.logger.Debug("Injecting script.",
		zap.String("tab_id", tabID.String()),
		zap.String("source", src.String()),
		zap.Bool("all_frames", opts.AllFrames),
		zap.String("run_at", string(opts.RunAt)))

	results, err := r.host.Inject(ctx, tabID, src, opts)
	if err != nil {
		r.logger.Warn("Script injection failed.", zap.String("tab_id", tabID.String()), zap.Error(err))
		return nil, &InjectionError{TabID: tabID, Source: src, Err: err}
	}

	r.logger.Debug("Script injected.", zap.String("tab_id", tabID.String()), zap.Int("frames", len(results)))
	return results, nil
}

// ReportsSuccess reports whether any frame's result is exactly the Sentinel string.
func ReportsSuccess(results []json.RawMessage) bool {
	for _, raw := range results {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s == Sentinel {
			return true
		}
	}
	return false
}
