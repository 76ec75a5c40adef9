// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime settings of the capture tool. These are ambient
// settings (logging, browser process, poll cadence), not the per-job capture
// description, which arrives as a JSON document and lives in CaptureConfig.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`
	Assets    AssetsConfig    `mapstructure:"assets" yaml:"assets"`
}

// LoggerConfig configures the zap logger and its rolling file sink.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig holds ANSI color overrides for console level tags.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig configures the headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU      bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
}

// ReadinessConfig configures the page readiness detector cadence. The load
// phase polls once a second while the document is still coming up; after the
// native load event fires the detector settles into the faster interval.
type ReadinessConfig struct {
	LoadPollInterval   time.Duration `mapstructure:"load_poll_interval" yaml:"load_poll_interval"`
	SettlePollInterval time.Duration `mapstructure:"settle_poll_interval" yaml:"settle_poll_interval"`
}

// AssetsConfig locates the directory of scripts injected into every page
// after it loads. An empty Dir disables asset injection.
type AssetsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "capture")
	v.SetDefault("logger.log_file", "capture.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.exec_path", "")

	// -- Readiness --
	v.SetDefault("readiness.load_poll_interval", "1s")
	v.SetDefault("readiness.settle_poll_interval", "500ms")

	// -- Assets --
	v.SetDefault("assets.dir", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The asset directory is usually supplied by the environment of the
	// supervising process rather than a config file.
	v.BindEnv("assets.dir", "CAPTURE_ASSETS_DIR")

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
	if c.Logger.MaxSize <= 0 {
		return fmt.Errorf("logger.max_size must be a positive integer")
	}
	if f := c.Logger.Format; f != "console" && f != "json" {
		return fmt.Errorf("logger.format must be either %q or %q", "console", "json")
	}
	if c.Readiness.LoadPollInterval <= 0 {
		return fmt.Errorf("readiness.load_poll_interval must be a positive duration")
	}
	if c.Readiness.SettlePollInterval <= 0 {
		return fmt.Errorf("readiness.settle_poll_interval must be a positive duration")
	}
	return nil
}
