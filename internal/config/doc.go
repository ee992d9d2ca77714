// Package config handles configuration loading for palaver.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PALAVER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/palaver/palaver.yaml
//  3. ~/.config/palaver/palaver.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	session:
//	  secret: "${PALAVER_SESSION_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Example
//
//	server:
//	  http_addr: "localhost:8080"
//	  shutdown_timeout: "10s"
//
//	databases:
//	  notes:
//	    path: "~/.local/share/palaver/notes.db"
//	    driver: "sqlite"   # or "sqlite3" for the cgo driver
//
//	session:
//	  cookie_name: "palaver_session"
//	  secret: "${PALAVER_SESSION_SECRET}"
//	  ttl: "30m"
//	  max_sessions: 10000
//
//	access:
//	  mode: "natural"      # or "mock"
//
//	logging:
//	  level: "info"        # debug, info, warn, error
//	  format: "text"       # text or json
//
// Each key under databases is a consumer type: conversations begun for that
// consumer open a unit of work on its database.
package config
