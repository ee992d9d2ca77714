// ABOUTME: Configuration loading and parsing for palaver
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/palaver/internal/access"
	"github.com/2389/palaver/internal/store"
)

// MinSecretLength is the minimum length of the session secret
const MinSecretLength = 32

// Defaults applied by Load
const (
	DefaultHTTPAddr        = "localhost:8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultCookieName      = "palaver_session"
	DefaultSessionTTL      = 30 * time.Minute
	DefaultMaxSessions     = 10000
)

// Config represents the complete palaver configuration
type Config struct {
	Server    ServerConfig              `yaml:"server" toml:"server"`
	Databases map[string]DatabaseConfig `yaml:"databases" toml:"databases"`
	Session   SessionConfig             `yaml:"session" toml:"session"`
	Access    AccessConfig              `yaml:"access" toml:"access"`
	Logging   LoggingConfig             `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig describes one consumer database. The map key in
// Config.Databases is the consumer type served by it.
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Driver string `yaml:"driver" toml:"driver"` // "sqlite" (default) or "sqlite3"
}

// SessionConfig holds session cookie and lifetime configuration
type SessionConfig struct {
	CookieName   string        `yaml:"cookie_name" toml:"cookie_name"`
	CookieSecure bool          `yaml:"cookie_secure" toml:"cookie_secure"`
	Secret       string        `yaml:"secret" toml:"secret"`
	MaxSessions  int           `yaml:"max_sessions" toml:"max_sessions"`
	TTL          time.Duration `yaml:"-" toml:"-"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// AccessConfig selects natural or mock data access
type AccessConfig struct {
	Mode string `yaml:"mode" toml:"mode"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	for name, db := range c.Databases {
		if db.Driver == "" {
			db.Driver = store.DriverModernc
			c.Databases[name] = db
		}
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = DefaultCookieName
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = DefaultSessionTTL
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = DefaultMaxSessions
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one entry under databases is required")
	}
	for name, db := range c.Databases {
		if db.Path == "" {
			return fmt.Errorf("databases.%s.path is required", name)
		}
		switch db.Driver {
		case "", store.DriverModernc, store.DriverCgo:
		default:
			return fmt.Errorf("databases.%s.driver %q is not supported", name, db.Driver)
		}
	}

	if len(c.Session.Secret) < MinSecretLength {
		return fmt.Errorf("session.secret must be at least %d characters", MinSecretLength)
	}
	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must not be negative")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must not be negative")
	}

	if _, err := access.ParseMode(c.Access.Mode); err != nil {
		return fmt.Errorf("access.mode: %w", err)
	}

	return nil
}

// AccessMode returns the parsed access mode. Validate must have passed.
func (c *Config) AccessMode() access.Mode {
	m, _ := access.ParseMode(c.Access.Mode)
	return m
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Session.TTLRaw != "" {
		cfg.Session.TTL, err = time.ParseDuration(cfg.Session.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Session.TTLRaw, err)
		}
	}

	return nil
}
