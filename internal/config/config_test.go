// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "extbridge", cfg.Logger.ServiceName)
	assert.Equal(t, "green", cfg.Logger.Colors.Info)
	assert.Equal(t, BrowserModeCDP, cfg.Browser.Mode)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.StartupTimeout)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, PolicyReply, cfg.Dispatcher.UnknownCommand)
	assert.Equal(t, PolicyReply, cfg.Dispatcher.OnFault)
	assert.Equal(t, []string{"*://*.os.tc/subscribe*", "*://*.onesignal.com/subscribe*"}, cfg.Flows.PopupURLPatterns)
	assert.Equal(t, "accept-http-subscription-popup.js", cfg.Flows.PopupScript)
	assert.Equal(t, "accept-https-subscription-modal.js", cfg.Flows.ModalScript)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{"BadBrowserMode", func(c *Config) { c.Browser.Mode = "firefox" }, "browser configuration invalid"},
		{"NegativeStartupTimeout", func(c *Config) { c.Browser.StartupTimeout = -time.Second }, "startup_timeout"},
		{"MissingListenAddr", func(c *Config) { c.Server.ListenAddr = "" }, "listen_addr is required"},
		{"NegativeRateLimit", func(c *Config) { c.Server.RateLimit = -1 }, "rate_limit must not be negative"},
		{"RateLimitWithoutBurst", func(c *Config) { c.Server.RateLimit = 5; c.Server.Burst = 0 }, "burst must be a positive integer"},
		{"BadUnknownPolicy", func(c *Config) { c.Dispatcher.UnknownCommand = "ignore" }, "unknown_command"},
		{"BadFaultPolicy", func(c *Config) { c.Dispatcher.OnFault = "crash" }, "on_fault"},
		{"NoPopupPatterns", func(c *Config) { c.Flows.PopupURLPatterns = nil }, "at least one pattern"},
		{"InvalidPopupPattern", func(c *Config) { c.Flows.PopupURLPatterns = []string{"os.tc"} }, "popup_url_patterns"},
		{"MissingScript", func(c *Config) { c.Flows.ModalScript = "" }, "modal_script are required"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}

	t.Run("SandboxModeIsValid", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Browser.Mode = BrowserModeSandbox
		cfg.Dispatcher.UnknownCommand = PolicyDrop
		cfg.Dispatcher.OnFault = PolicyDrop
		assert.NoError(t, cfg.Validate())
	})
}

// -- Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("YAMLOverridesDefaults", func(t *testing.T) {
		yamlConfig := []byte(`
logger:
  level: debug
  format: json
browser:
  mode: sandbox
  args: ["no-first-run", "mute-audio"]
server:
  listen_addr: ":9000"
  rate_limit: 20
  burst: 40
dispatcher:
  unknown_command: drop
flows:
  popup_url_patterns:
    - "https://push.example/*"
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logger.Level)
		assert.Equal(t, "json", cfg.Logger.Format)
		assert.Equal(t, BrowserModeSandbox, cfg.Browser.Mode)
		assert.Equal(t, []string{"no-first-run", "mute-audio"}, cfg.Browser.Args)
		assert.Equal(t, ":9000", cfg.Server.ListenAddr)
		assert.Equal(t, 20.0, cfg.Server.RateLimit)
		assert.Equal(t, 40, cfg.Server.Burst)
		assert.Equal(t, PolicyDrop, cfg.Dispatcher.UnknownCommand)
		assert.Equal(t, PolicyReply, cfg.Dispatcher.OnFault, "unset keys keep their defaults")
		assert.Equal(t, []string{"https://push.example/*"}, cfg.Flows.PopupURLPatterns)
	})

	t.Run("RemoteURLFromEnv", func(t *testing.T) {
		t.Setenv("EXTBRIDGE_BROWSER_REMOTE_URL", "ws://127.0.0.1:9222/devtools/browser/abc")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Browser.RemoteURL)
	})

	t.Run("InvalidConfigIsRejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("dispatcher.on_fault", "explode")

		cfg, err := NewConfigFromViper(v)
		assert.Nil(t, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}
