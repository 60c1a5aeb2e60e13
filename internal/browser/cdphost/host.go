// Package cdphost drives a real Chrome or Chromium over the DevTools protocol.
// It either launches a browser or attaches to one already listening on a
// remote debugging port.
package cdphost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/config"
	"github.com/xkilldash9x/extbridge/internal/ctxutil"
	"github.com/xkilldash9x/extbridge/internal/permission"
)

const closeTimeout = 10 * time.Second

// ErrStartup wraps failures to launch or connect to the browser.
var ErrStartup = errors.New("browser startup failed")

// Host implements schemas.BrowserHost on top of chromedp.
type Host struct {
	// Rules are recorded here as well as applied to the browser.
	*permission.MemoryStore

	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	origins map[string]struct{}
}

var _ schemas.BrowserHost = (*Host)(nil)

// launchSpec is the resolved form of a BrowserConfig for a launched browser.
type launchSpec struct {
	ExecPath    string
	UserDataDir string
	Headless    bool
	Flags       map[string]interface{}
}

func resolveLaunch(cfg config.BrowserConfig) (launchSpec, error) {
	spec := launchSpec{
		Headless: cfg.Headless,
		Flags: map[string]interface{}{
			"no-first-run":             true,
			"no-default-browser-check": true,
			"disable-gpu":              true,
			// Cross-origin iframes must share the page's frame tree.
			"disable-site-isolation-trials": true,
		},
	}

	var err error
	if spec.ExecPath, err = homedir.Expand(cfg.ExecPath); err != nil {
		return launchSpec{}, fmt.Errorf("invalid exec_path %q: %w", cfg.ExecPath, err)
	}
	if spec.UserDataDir, err = homedir.Expand(cfg.UserDataDir); err != nil {
		return launchSpec{}, fmt.Errorf("invalid user_data_dir %q: %w", cfg.UserDataDir, err)
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			spec.Flags[key] = value
		} else {
			spec.Flags[arg] = true
		}
	}
	return spec, nil
}

// AllocatorOptions builds the exec allocator options for a launched browser.
// Paths may start with ~. Entries in cfg.Args are flags with or without the
// leading dashes, optionally as key=value.
func AllocatorOptions(cfg config.BrowserConfig) ([]chromedp.ExecAllocatorOption, error) {
	spec, err := resolveLaunch(cfg)
	if err != nil {
		return nil, err
	}

	var opts []chromedp.ExecAllocatorOption
	for name, value := range spec.Flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if spec.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if spec.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(spec.ExecPath))
	}
	if spec.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(spec.UserDataDir))
	}
	return opts, nil
}

// New launches or attaches to a browser and waits until it answers, giving up
// after cfg.StartupTimeout. The browser lives until Close or until ctx ends.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("cdphost")

	h := &Host{
		MemoryStore: permission.NewMemoryStore(),
		logger:      log,
		origins:     make(map[string]struct{}),
	}

	if cfg.RemoteURL != "" {
		log.Info("Attaching to running browser.", zap.String("remote_url", cfg.RemoteURL))
		h.allocCtx, h.allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts, err := AllocatorOptions(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("Launching browser.", zap.Bool("headless", cfg.Headless), zap.String("exec_path", cfg.ExecPath))
		h.allocCtx, h.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	sugar := log.Sugar()
	h.browserCtx, h.browserCancel = chromedp.NewContext(h.allocCtx,
		chromedp.WithLogf(sugar.Infof),
		chromedp.WithErrorf(sugar.Errorf),
	)

	// The first Run allocates the browser and binds it to browserCtx, so it
	// cannot itself carry the startup deadline.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(h.browserCtx) }()

	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			_ = h.shutdown()
			return nil, fmt.Errorf("%w: %v", ErrStartup, err)
		}
	case <-timer.C:
		_ = h.shutdown()
		return nil, fmt.Errorf("%w: browser did not respond within %s", ErrStartup, timeout)
	}

	log.Info("Browser ready.")
	return h, nil
}

// Close shuts the browser down, or disconnects from a remote one.
func (h *Host) Close() error {
	h.logger.Info("Closing browser.")
	return h.shutdown()
}

func (h *Host) shutdown() error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(h.browserCtx) }()

	var err error
	select {
	case err = <-done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case <-time.After(closeTimeout):
		err = fmt.Errorf("browser did not close within %s", closeTimeout)
	}
	h.browserCancel()
	h.allocCancel()
	return err
}

// run executes actions against the browser's default target, stopping early
// if ctx ends.
func (h *Host) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := ctxutil.CombineContext(h.browserCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}
