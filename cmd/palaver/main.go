// ABOUTME: Entry point for the palaver notes server
// ABOUTME: Provides serve, init, health and version subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/palaver/internal/access"
	"github.com/2389/palaver/internal/config"
	"github.com/2389/palaver/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _
 _ __   __ _  __ _| | __ ___   _____ _ __
| '_ \ / _' |/ _' | |/ _' \ \ / / _ \ '__|
| |_) | (_| | (_| | | (_| |\ V /  __/ |
| .__/ \__,_|\__,_|_|\__,_| \_/ \___|_|
|_|
`

// getConfigPath returns the path to the config file.
// Priority: PALAVER_CONFIG env var > XDG_CONFIG_HOME/palaver/palaver.yaml > ~/.config/palaver/palaver.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PALAVER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "palaver.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "palaver", "palaver.yaml")
}

// getDataPath returns the path to the palaver data directory.
// Priority: XDG_DATA_HOME/palaver > ~/.local/share/palaver
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "palaver")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: palaver <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the notes server")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  health     Check server health")
		fmt.Println("  version    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	for name, db := range cfg.Databases {
		green.Print("    ▶ ")
		fmt.Printf("Database:  %s ", name)
		gray.Printf("(%s, %s)\n", db.Path, db.Driver)
	}
	if cfg.AccessMode() == access.ModeMock {
		yellow.Print("    ▶ ")
		fmt.Println("Access:    mock (changes are not persisted)")
	}
	fmt.Println()

	logger.Info("starting palaver",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/readyz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("palaver configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "notes.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "Notes SQLite database path", defaultDbPath)
	driver := prompt(reader, "SQLite driver (sqlite/sqlite3)", "sqlite")

	fmt.Println("\n--- Session Configuration ---")
	ttl := prompt(reader, "Session idle timeout", config.DefaultSessionTTL.String())

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating session secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# palaver configuration\n")
	cfg.WriteString("# Generated by palaver init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("  shutdown_timeout: \"10s\"\n\n")

	cfg.WriteString("databases:\n")
	cfg.WriteString("  notes:\n")
	cfg.WriteString(fmt.Sprintf("    path: \"%s\"\n", dbPath))
	cfg.WriteString(fmt.Sprintf("    driver: \"%s\"\n\n", driver))

	cfg.WriteString("session:\n")
	cfg.WriteString(fmt.Sprintf("  cookie_name: \"%s\"\n", config.DefaultCookieName))
	cfg.WriteString(fmt.Sprintf("  secret: \"%s\"\n", secret))
	cfg.WriteString(fmt.Sprintf("  ttl: \"%s\"\n", ttl))
	cfg.WriteString(fmt.Sprintf("  max_sessions: %d\n\n", config.DefaultMaxSessions))

	cfg.WriteString("access:\n")
	cfg.WriteString("  mode: \"natural\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the session secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  palaver serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
