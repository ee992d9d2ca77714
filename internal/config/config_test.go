// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/palaver/internal/access"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "palaver.yaml", `
server:
  http_addr: "0.0.0.0:9090"
  shutdown_timeout: "3s"

databases:
  notes:
    path: "./notes.db"
  audit:
    path: "./audit.db"
    driver: "sqlite3"

session:
  cookie_name: "sid"
  cookie_secure: true
  secret: "`+testSecret+`"
  ttl: "15m"
  max_sessions: 50

access:
  mode: "mock"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if len(cfg.Databases) != 2 {
		t.Fatalf("len(Databases) = %d, want 2", len(cfg.Databases))
	}
	if cfg.Databases["notes"].Driver != "sqlite" {
		t.Errorf("Databases[notes].Driver = %q, want default %q", cfg.Databases["notes"].Driver, "sqlite")
	}
	if cfg.Databases["audit"].Driver != "sqlite3" {
		t.Errorf("Databases[audit].Driver = %q, want %q", cfg.Databases["audit"].Driver, "sqlite3")
	}
	if cfg.Session.CookieName != "sid" || !cfg.Session.CookieSecure {
		t.Errorf("Session cookie = %q secure=%v", cfg.Session.CookieName, cfg.Session.CookieSecure)
	}
	if cfg.Session.TTL != 15*time.Minute {
		t.Errorf("Session.TTL = %v, want 15m", cfg.Session.TTL)
	}
	if cfg.Session.MaxSessions != 50 {
		t.Errorf("Session.MaxSessions = %d, want 50", cfg.Session.MaxSessions)
	}
	if cfg.AccessMode() != access.ModeMock {
		t.Errorf("AccessMode() = %v, want mock", cfg.AccessMode())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "palaver.yaml", `
databases:
  notes:
    path: "./notes.db"
session:
  secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Server.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)
	}
	if cfg.Session.CookieName != DefaultCookieName {
		t.Errorf("Session.CookieName = %q, want %q", cfg.Session.CookieName, DefaultCookieName)
	}
	if cfg.Session.TTL != DefaultSessionTTL {
		t.Errorf("Session.TTL = %v, want %v", cfg.Session.TTL, DefaultSessionTTL)
	}
	if cfg.Session.MaxSessions != DefaultMaxSessions {
		t.Errorf("Session.MaxSessions = %d, want %d", cfg.Session.MaxSessions, DefaultMaxSessions)
	}
	if cfg.AccessMode() != access.ModeNatural {
		t.Errorf("AccessMode() = %v, want natural", cfg.AccessMode())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "palaver.toml", `
[server]
http_addr = "127.0.0.1:7000"

[databases.notes]
path = "./notes.db"

[session]
secret = "`+testSecret+`"
ttl = "1h"

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Databases["notes"].Path != "./notes.db" {
		t.Errorf("Databases[notes].Path = %q", cfg.Databases["notes"].Path)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("Session.TTL = %v, want 1h", cfg.Session.TTL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PALAVER_SECRET", testSecret)
	t.Setenv("PALAVER_DB", "/tmp/notes.db")

	path := writeConfig(t, "palaver.yaml", `
databases:
  notes:
    path: "${PALAVER_DB}"
session:
  secret: "${PALAVER_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Secret != testSecret {
		t.Errorf("Session.Secret = %q, want expanded value", cfg.Session.Secret)
	}
	if cfg.Databases["notes"].Path != "/tmp/notes.db" {
		t.Errorf("Databases[notes].Path = %q, want %q", cfg.Databases["notes"].Path, "/tmp/notes.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/palaver.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "palaver.yaml", "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "palaver.yaml", `
databases:
  notes:
    path: "./notes.db"
session:
  secret: "`+testSecret+`"
  ttl: "forever"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "no databases",
			configContent: `
session:
  secret: "` + testSecret + `"
`,
			wantErrSubstr: "at least one entry under databases",
		},
		{
			name: "missing database path",
			configContent: `
databases:
  notes:
    driver: "sqlite"
session:
  secret: "` + testSecret + `"
`,
			wantErrSubstr: "databases.notes.path is required",
		},
		{
			name: "unknown driver",
			configContent: `
databases:
  notes:
    path: "./notes.db"
    driver: "postgres"
session:
  secret: "` + testSecret + `"
`,
			wantErrSubstr: "is not supported",
		},
		{
			name: "short secret",
			configContent: `
databases:
  notes:
    path: "./notes.db"
session:
  secret: "short"
`,
			wantErrSubstr: "session.secret must be at least",
		},
		{
			name: "unknown access mode",
			configContent: `
databases:
  notes:
    path: "./notes.db"
session:
  secret: "` + testSecret + `"
access:
  mode: "fake"
`,
			wantErrSubstr: "access.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "palaver.yaml", tt.configContent)

			_, err := Load(path)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${PALAVER_UNSET_VAR}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
