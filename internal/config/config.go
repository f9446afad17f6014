// Package config loads usagebar's YAML settings and the key = value
// secrets file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tnunamak/usagebar/internal/cookies"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultFetchTimeout    = 45 * time.Second
	DefaultServerAddr      = "127.0.0.1:7377"
	minRefreshInterval     = 30 * time.Second
)

// Config holds the usagebar settings.
type Config struct {
	RefreshInterval time.Duration             `yaml:"refresh_interval"`
	FetchTimeout    time.Duration             `yaml:"fetch_timeout"`
	Logging         LoggingConfig             `yaml:"logging"`
	Server          ServerConfig              `yaml:"server"`
	Browsers        []string                  `yaml:"browsers"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type ProviderConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Source  string `yaml:"source"` // auto, oauth, web, cli, api
	Binary  string `yaml:"binary"`
}

// IsEnabled reports whether provider id should be refreshed. Claude and
// Codex are on unless disabled; the others must be switched on.
func (c *Config) IsEnabled(id usage.Provider) bool {
	if p, ok := c.Providers[string(id)]; ok && p.Enabled != nil {
		return *p.Enabled
	}
	return id == usage.Claude || id == usage.Codex
}

func (c *Config) Source(id usage.Provider) strategy.Kind {
	k, err := strategy.ParseKind(c.Providers[string(id)].Source)
	if err != nil {
		return strategy.Auto
	}
	return k
}

// BinaryOverrides maps CLI names to configured paths.
func (c *Config) BinaryOverrides() map[string]string {
	out := map[string]string{}
	for id, p := range c.Providers {
		if p.Binary != "" {
			out[id] = p.Binary
		}
	}
	return out
}

func (c *Config) BrowserList() []cookies.Browser {
	if len(c.Browsers) == 0 {
		return cookies.DefaultBrowsers
	}
	out := make([]cookies.Browser, 0, len(c.Browsers))
	for _, b := range c.Browsers {
		out = append(out, cookies.Browser(strings.ToLower(b)))
	}
	return out
}

// Dir returns the usagebar config directory.
func Dir() (string, error) {
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		return filepath.Join(x, "usagebar"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".config", "usagebar"), nil
}

func DefaultPath() string {
	dir, err := Dir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.RefreshInterval < minRefreshInterval {
		return fmt.Errorf("refresh_interval must be at least %s, got %s", minRefreshInterval, c.RefreshInterval)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	for _, b := range c.Browsers {
		if !knownBrowser(cookies.Browser(strings.ToLower(b))) {
			return fmt.Errorf("browsers: unknown browser %q", b)
		}
	}
	for id, p := range c.Providers {
		if !knownProvider(id) {
			return fmt.Errorf("providers.%s: unknown provider", id)
		}
		if _, err := strategy.ParseKind(p.Source); err != nil {
			return fmt.Errorf("providers.%s.source: %w", id, err)
		}
	}
	return nil
}

func knownProvider(id string) bool {
	for _, p := range usage.All {
		if string(p) == id {
			return true
		}
	}
	return false
}

func knownBrowser(b cookies.Browser) bool {
	for _, k := range cookies.DefaultBrowsers {
		if k == b {
			return true
		}
	}
	return false
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return []byte(val)
	})
}
