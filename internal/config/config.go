// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every automatically bound environment variable.
const EnvPrefix = "QAFRAME"

// Config holds the entire application configuration.
type Config struct {
	Environment string         `mapstructure:"environment" yaml:"environment" validate:"required"`
	Logger      LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	API         APIConfig      `mapstructure:"api" yaml:"api"`
	Auth        AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Suite       SuiteConfig    `mapstructure:"suite" yaml:"suite"`
	Database    DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser sessions.
type BrowserConfig struct {
	// Name selects the Chromium-family binary: chrome, chromium or edge.
	Name     string   `mapstructure:"name" yaml:"name" validate:"oneof=chrome chromium edge"`
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// RemoteURL is a DevTools websocket endpoint. When set no local browser is launched.
	RemoteURL       string        `mapstructure:"remote_url" yaml:"remote_url" validate:"omitempty,url"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width" validate:"gte=0"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height" validate:"gte=0"`
	ElementTimeout  time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ScreenshotDir   string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// APIConfig configures the HTTP client used against the target API.
type APIConfig struct {
	BaseURL         string            `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	RateLimit       float64           `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst           int               `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// AuthConfig configures the token cache and the authentication flow of each token type.
type AuthConfig struct {
	RefreshSkew time.Duration          `mapstructure:"refresh_skew" yaml:"refresh_skew"`
	DefaultTTL  time.Duration          `mapstructure:"default_ttl" yaml:"default_ttl"`
	Store       string                 `mapstructure:"store" yaml:"store" validate:"oneof=memory redis"`
	Redis       RedisConfig            `mapstructure:"redis" yaml:"redis"`
	Tokens      map[string]TokenConfig `mapstructure:"tokens" yaml:"tokens" validate:"dive"`
}

// RedisConfig holds the connection details for the shared token store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// TokenConfig describes how one token type authenticates.
type TokenConfig struct {
	Flow         string        `mapstructure:"flow" yaml:"flow" validate:"oneof=password client_credentials static"`
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	ClientID     string        `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string        `mapstructure:"client_secret" yaml:"client_secret"`
	Scopes       []string      `mapstructure:"scopes" yaml:"scopes"`
	Token        string        `mapstructure:"token" yaml:"token"`
	TokenPath    string        `mapstructure:"token_path" yaml:"token_path"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SuiteConfig tunes the case runner.
type SuiteConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1"`
	Retries     int           `mapstructure:"retries" yaml:"retries" validate:"gte=0"`
	CaseTimeout time.Duration `mapstructure:"case_timeout" yaml:"case_timeout"`
	Groups      []string      `mapstructure:"groups" yaml:"groups"`
}

// DatabaseConfig holds the run history database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig builds a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "local")

	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "qaframe")
	v.SetDefault("logger.log_file", "logs/qaframe.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// Browser
	v.SetDefault("browser.name", "chrome")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.element_timeout", "10s")
	v.SetDefault("browser.page_load_timeout", "30s")
	v.SetDefault("browser.poll_interval", "250ms")
	v.SetDefault("browser.screenshot_dir", "screenshots")

	// API
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 1)

	// Auth
	v.SetDefault("auth.refresh_skew", "5m")
	v.SetDefault("auth.default_ttl", "1h")
	v.SetDefault("auth.store", "memory")
	v.SetDefault("auth.redis.addr", "localhost:6379")
	v.SetDefault("auth.redis.key_prefix", "qaframe:token:")

	// Suite
	v.SetDefault("suite.concurrency", 1)
	v.SetDefault("suite.retries", 0)
	v.SetDefault("suite.case_timeout", "5m")
}

// bindEnv maps the short, CI-friendly environment variables onto their config keys.
// The prefixed form always takes precedence.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"environment":        {EnvPrefix + "_ENVIRONMENT", "ENVIRONMENT"},
		"browser.name":       {EnvPrefix + "_BROWSER_NAME", "BROWSER"},
		"browser.headless":   {EnvPrefix + "_BROWSER_HEADLESS", "HEADLESS"},
		"browser.remote_url": {EnvPrefix + "_BROWSER_REMOTE_URL", "REMOTE_URL"},
		"database.url":       {EnvPrefix + "_DATABASE_URL", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from, in increasing precedence: defaults, the base config
// file, the per-environment overlay (config.<environment>.yaml next to the base file),
// a .env file and the process environment.
//
// cfgFile may be empty, in which case ./config.yaml is used if it exists.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	// .env never overrides variables already present in the process environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	SetDefaults(v)

	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("invalid config path %q: %w", cfgFile, err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	configDir := "."
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	} else {
		configDir = filepath.Dir(v.ConfigFileUsed())
	}

	if err := mergeEnvironmentOverlay(v, configDir); err != nil {
		return nil, err
	}

	return NewConfigFromViper(v)
}

// mergeEnvironmentOverlay merges config.<environment>.yaml on top of the base config.
func mergeEnvironmentOverlay(v *viper.Viper, dir string) error {
	env := v.GetString("environment")
	if env == "" {
		return nil
	}
	overlay := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	if _, err := os.Stat(overlay); err != nil {
		return nil
	}
	v.SetConfigFile(overlay)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("error merging %s overlay: %w", overlay, err)
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Browser.ScreenshotDir, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("invalid path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Browser.ElementTimeout <= 0 {
		return fmt.Errorf("browser.element_timeout must be a positive duration")
	}
	if c.Auth.RefreshSkew < 0 {
		return fmt.Errorf("auth.refresh_skew must not be negative")
	}
	if c.Auth.Store == "redis" && c.Auth.Redis.Addr == "" {
		return fmt.Errorf("auth.redis.addr is required when auth.store is redis")
	}
	for name, tc := range c.Auth.Tokens {
		if err := tc.Validate(); err != nil {
			return fmt.Errorf("auth.tokens.%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the flow-specific requirements of a token type.
func (t *TokenConfig) Validate() error {
	switch t.Flow {
	case "password":
		if t.Endpoint == "" || t.Username == "" {
			return fmt.Errorf("endpoint and username are required for the password flow")
		}
	case "client_credentials":
		if t.Endpoint == "" || t.ClientID == "" {
			return fmt.Errorf("endpoint and client_id are required for the client_credentials flow")
		}
	case "static":
		if t.Token == "" {
			return fmt.Errorf("token is required for the static flow")
		}
	default:
		return fmt.Errorf("unknown flow %q", t.Flow)
	}
	return nil
}
