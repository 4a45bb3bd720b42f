// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete toolgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	CORS      CORSConfig      `yaml:"cors"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP gateway address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DispatchConfig holds dispatcher timing configuration
type DispatchConfig struct {
	ExecuteTimeout   time.Duration `yaml:"-"`
	LifecycleTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ExecuteTimeoutRaw   string `yaml:"execute_timeout"`
	LifecycleTimeoutRaw string `yaml:"lifecycle_timeout"`
}

// CORSConfig holds cross-origin policy for the HTTP gateway.
// Cross-origin access is on by default with all origins allowed; set
// enabled: false to turn the middleware off.
type CORSConfig struct {
	Enabled        *bool    `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Active reports whether the CORS middleware should run. An absent enabled
// flag counts as on.
func (c CORSConfig) Active() bool {
	return c.Enabled == nil || *c.Enabled
}

// DatabaseConfig holds the interaction store configuration.
// An empty path disables interaction recording.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProvidersConfig holds per-provider configuration
type ProvidersConfig struct {
	HTTP          HTTPProviderConfig          `yaml:"http"`
	HomeAssistant HomeAssistantProviderConfig `yaml:"homeassistant"`
}

// HTTPProviderConfig holds limits for the outbound HTTP request provider
type HTTPProviderConfig struct {
	MaxTimeout time.Duration `yaml:"-"`
	MaxBody    int64         `yaml:"max_response_bytes"`

	MaxTimeoutRaw string `yaml:"max_timeout"`
}

// HomeAssistantProviderConfig holds Home Assistant connection configuration
type HomeAssistantProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding config value is absent.
const (
	DefaultExecuteTimeout   = 30 * time.Second
	DefaultLifecycleTimeout = 10 * time.Second
	DefaultHTTPMaxTimeout   = 60 * time.Second
	DefaultHTTPMaxBody      = 1 << 20
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with all defaults applied, used when no config
// file exists (stdio mode works without one).
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{HTTPAddr: "0.0.0.0:8080"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Dispatch.ExecuteTimeout == 0 {
		c.Dispatch.ExecuteTimeout = DefaultExecuteTimeout
	}
	if c.Dispatch.LifecycleTimeout == 0 {
		c.Dispatch.LifecycleTimeout = DefaultLifecycleTimeout
	}
	if c.Providers.HTTP.MaxTimeout == 0 {
		c.Providers.HTTP.MaxTimeout = DefaultHTTPMaxTimeout
	}
	if c.Providers.HTTP.MaxBody == 0 {
		c.Providers.HTTP.MaxBody = DefaultHTTPMaxBody
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Providers.HomeAssistant.BaseURL == "" {
		c.Providers.HomeAssistant.BaseURL = "http://localhost:8123"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}

	if c.Providers.HomeAssistant.Enabled && c.Providers.HomeAssistant.Token == "" {
		return fmt.Errorf("providers.homeassistant.token is required when the provider is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Dispatch.ExecuteTimeoutRaw != "" {
		cfg.Dispatch.ExecuteTimeout, err = time.ParseDuration(cfg.Dispatch.ExecuteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing execute_timeout %q: %w", cfg.Dispatch.ExecuteTimeoutRaw, err)
		}
	}

	if cfg.Dispatch.LifecycleTimeoutRaw != "" {
		cfg.Dispatch.LifecycleTimeout, err = time.ParseDuration(cfg.Dispatch.LifecycleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing lifecycle_timeout %q: %w", cfg.Dispatch.LifecycleTimeoutRaw, err)
		}
	}

	if cfg.Providers.HTTP.MaxTimeoutRaw != "" {
		cfg.Providers.HTTP.MaxTimeout, err = time.ParseDuration(cfg.Providers.HTTP.MaxTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing providers.http.max_timeout %q: %w", cfg.Providers.HTTP.MaxTimeoutRaw, err)
		}
	}

	return nil
}
