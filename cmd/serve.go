package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/browser/cdphost"
	"github.com/xkilldash9x/extbridge/internal/browser/sandbox"
	"github.com/xkilldash9x/extbridge/internal/config"
	"github.com/xkilldash9x/extbridge/internal/dispatcher"
	"github.com/xkilldash9x/extbridge/internal/flows"
	"github.com/xkilldash9x/extbridge/internal/observability"
	"github.com/xkilldash9x/extbridge/internal/permission"
	"github.com/xkilldash9x/extbridge/internal/scripts"
	"github.com/xkilldash9x/extbridge/internal/server"
	"github.com/xkilldash9x/extbridge/internal/store"
	"github.com/xkilldash9x/extbridge/internal/tabs"
)

// newBrowserHost opens the browser host for cfg.Mode. Tests replace it.
var newBrowserHost = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.BrowserHost, error) {
	switch strings.ToLower(cfg.Mode) {
	case config.BrowserModeSandbox:
		return sandbox.New(logger), nil
	case config.BrowserModeCDP:
		return cdphost.New(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser mode %q", cfg.Mode)
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Long: `Starts the browser host and serves driver commands over HTTP
(POST /api/v1/command) and WebSocket (GET /ws/v1/commands).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	cmd.Flags().String("listen", "", "address to listen on (overrides server.listen_addr)")
	cmd.Flags().String("mode", "", "browser host: cdp or sandbox (overrides browser.mode)")
	cmd.Flags().String("remote-url", "", "DevTools endpoint of a running browser (overrides browser.remote_url)")
	cmd.Flags().Bool("headless", true, "launch the browser headless (overrides browser.headless)")

	// Bound flags only override configuration when set on the command line.
	_ = v.BindPFlag("server.listen_addr", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("browser.mode", cmd.Flags().Lookup("mode"))
	_ = v.BindPFlag("browser.remote_url", cmd.Flags().Lookup("remote-url"))
	_ = v.BindPFlag("browser.headless", cmd.Flags().Lookup("headless"))
	return cmd
}

// runServe wires the components together and blocks until ctx ends.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	host, err := newBrowserHost(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser host: %w", err)
	}
	defer func() {
		if err := host.Close(); err != nil {
			logger.Warn("Browser host did not close cleanly.", zap.Error(err))
		}
	}()

	d := newDispatcher(cfg, host, logger)
	return server.New(cfg.Server, d, logger).Run(ctx)
}

// newDispatcher builds the component graph on top of host.
func newDispatcher(cfg *config.Config, host schemas.BrowserHost, logger *zap.Logger) *dispatcher.Dispatcher {
	setter := permission.NewSetter(host, logger)
	locator := tabs.NewLocator(host, logger)
	runner := scripts.NewRunner(host, logger)

	return dispatcher.New(dispatcher.Deps{
		Setter: setter,
		Tabs:   host,
		Runner: runner,
		Flows:  flows.New(cfg.Flows, locator, setter, runner, logger),
		Store:  store.NewMemoryStore(),
	}, cfg.Dispatcher, logger)
}
