// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/extbridge/internal/matchpattern"
)

// Browser host modes.
const (
	BrowserModeCDP     = "cdp"
	BrowserModeSandbox = "sandbox"
)

// Dispatcher policies.
const (
	PolicyReply = "reply"
	PolicyDrop  = "drop"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Flows      FlowsConfig      `mapstructure:"flows" yaml:"flows"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and tunes the browser host.
type BrowserConfig struct {
	// Mode is "cdp" for a real Chromium or "sandbox" for the in-process simulator.
	Mode string `mapstructure:"mode" yaml:"mode"`
	// RemoteURL attaches to an already running browser (ws:// or http:// DevTools endpoint).
	RemoteURL      string        `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath       string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir    string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// ServerConfig configures the HTTP/WebSocket transport.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// RateLimit is requests per second across all clients; 0 disables limiting.
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst           int           `mapstructure:"burst" yaml:"burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DispatcherConfig decides what the dispatcher does when it cannot produce a
// normal reply.
type DispatcherConfig struct {
	UnknownCommand string `mapstructure:"unknown_command" yaml:"unknown_command"`
	OnFault        string `mapstructure:"on_fault" yaml:"on_fault"`
}

// FlowsConfig parameterizes the subscription flows.
type FlowsConfig struct {
	PopupURLPatterns []string `mapstructure:"popup_url_patterns" yaml:"popup_url_patterns"`
	PopupScript      string   `mapstructure:"popup_script" yaml:"popup_script"`
	ModalScript      string   `mapstructure:"modal_script" yaml:"modal_script"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "extbridge")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.mode", BrowserModeCDP)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.startup_timeout", "30s")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8765")
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.burst", 10)
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Dispatcher --
	v.SetDefault("dispatcher.unknown_command", PolicyReply)
	v.SetDefault("dispatcher.on_fault", PolicyReply)

	// -- Flows --
	v.SetDefault("flows.popup_url_patterns", []string{
		"*://*.os.tc/subscribe*",
		"*://*.onesignal.com/subscribe*",
	})
	v.SetDefault("flows.popup_script", "accept-http-subscription-popup.js")
	v.SetDefault("flows.modal_script", "accept-https-subscription-modal.js")
}

// NewConfigFromViper creates a new, validated configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The DevTools endpoint may carry a token, keep it out of config files.
	if err := v.BindEnv("browser.remote_url", "EXTBRIDGE_BROWSER_REMOTE_URL"); err != nil {
		return nil, fmt.Errorf("error binding env: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return fmt.Errorf("dispatcher configuration invalid: %w", err)
	}
	if err := c.Flows.Validate(); err != nil {
		return fmt.Errorf("flows configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the BrowserConfig settings.
func (b *BrowserConfig) Validate() error {
	switch strings.ToLower(b.Mode) {
	case BrowserModeCDP, BrowserModeSandbox:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", BrowserModeCDP, BrowserModeSandbox, b.Mode)
	}
	if b.StartupTimeout < 0 {
		return fmt.Errorf("startup_timeout must not be negative")
	}
	return nil
}

// Validate checks the ServerConfig settings.
func (s *ServerConfig) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if s.RateLimit > 0 && s.Burst <= 0 {
		return fmt.Errorf("burst must be a positive integer when rate_limit is set")
	}
	return nil
}

// Validate checks the DispatcherConfig settings.
func (d *DispatcherConfig) Validate() error {
	for key, value := range map[string]string{"unknown_command": d.UnknownCommand, "on_fault": d.OnFault} {
		if value != PolicyReply && value != PolicyDrop {
			return fmt.Errorf("%s must be %q or %q, got %q", key, PolicyReply, PolicyDrop, value)
		}
	}
	return nil
}

// Validate checks the FlowsConfig settings.
func (f *FlowsConfig) Validate() error {
	if len(f.PopupURLPatterns) == 0 {
		return fmt.Errorf("popup_url_patterns must list at least one pattern")
	}
	for _, raw := range f.PopupURLPatterns {
		if _, err := matchpattern.Parse(raw); err != nil {
			return fmt.Errorf("popup_url_patterns: %w", err)
		}
	}
	if f.PopupScript == "" || f.ModalScript == "" {
		return fmt.Errorf("popup_script and modal_script are required")
	}
	return nil
}
