// ABOUTME: Configuration loading for the sonar-matrix bot
// ABOUTME: Decodes TOML or YAML with environment variable expansion and validation

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves the keys empty.
const (
	DefaultModel = "perplexity/sonar-pro"
	DefaultName  = "fxivity"
)

// Config is the full bot configuration. It is loaded once at startup and
// never mutated afterwards; every component holds it by pointer.
type Config struct {
	Matrix     MatrixConfig     `toml:"matrix" yaml:"matrix"`
	OpenRouter OpenRouterConfig `toml:"openrouter" yaml:"openrouter"`
	Bot        BotConfig        `toml:"bot" yaml:"bot"`
	Metrics    MetricsConfig    `toml:"metrics" yaml:"metrics"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver" yaml:"homeserver"`
	UserID      string `toml:"user_id" yaml:"user_id"`
	AccessToken string `toml:"access_token" yaml:"access_token"`
	DeviceID    string `toml:"device_id" yaml:"device_id"`
	RecoveryKey string `toml:"recovery_key" yaml:"recovery_key"`
}

type OpenRouterConfig struct {
	APIKey    string `toml:"api_key" yaml:"api_key"`
	Model     string `toml:"model" yaml:"model"`
	MaxTokens int    `toml:"max_tokens" yaml:"max_tokens"`
	// Temperature distinguishes "not set" (nil) from an explicit 0.0,
	// which is a valid value to send to the provider.
	Temperature *float64 `toml:"temperature" yaml:"temperature"`
}

type BotConfig struct {
	Name         string   `toml:"name" yaml:"name"`
	AllowedUsers []string `toml:"allowed_users" yaml:"allowed_users"`

	// Accepted for forward compatibility; nothing consults these yet.
	MaxContextMessages int    `toml:"max_context_messages" yaml:"max_context_messages"`
	ReplyInThread      bool   `toml:"reply_in_thread" yaml:"reply_in_thread"`
	SystemPrompt       string `toml:"system_prompt" yaml:"system_prompt"`

	allowedPatterns []*regexp.Regexp
}

type MetricsConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Load reads config from the given path, expanding environment variables.
// Files ending in .yaml or .yml decode as YAML; everything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.OpenRouter.Model == "" {
		c.OpenRouter.Model = DefaultModel
	}
	if c.Bot.Name == "" {
		c.Bot.Name = DefaultName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that required config fields are present and valid, and
// compiles the allow-list patterns so bad patterns fail at startup instead
// of at first message.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return fmt.Errorf("matrix.user_id must look like @localpart:server")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.OpenRouter.APIKey == "" {
		return fmt.Errorf("openrouter.api_key is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen is not a valid host:port: %w", err)
		}
	}

	c.Bot.allowedPatterns = c.Bot.allowedPatterns[:0]
	for _, pattern := range c.Bot.AllowedUsers {
		// Patterns match from the start of the user ID, so "@alice:" style
		// prefixes work without explicit anchors.
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return fmt.Errorf("bot.allowed_users pattern %q: %w", pattern, err)
		}
		c.Bot.allowedPatterns = append(c.Bot.allowedPatterns, re)
	}

	return nil
}

// UserAllowed reports whether the given Matrix user ID passes the allow
// list. An empty list allows everyone; otherwise the first matching pattern
// wins.
func (b *BotConfig) UserAllowed(userID string) bool {
	if len(b.allowedPatterns) == 0 {
		return true
	}
	for _, re := range b.allowedPatterns {
		if re.MatchString(userID) {
			return true
		}
	}
	return false
}
