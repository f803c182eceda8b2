package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ClientConfig holds environment-based configuration for the sync client
// daemon.
type ClientConfig struct {
	// Base URL of the remote task API, e.g. http://127.0.0.1:4000.
	APIBase string `env:"KANBAN_API_BASE" envDefault:"http://127.0.0.1:4000"`

	// How often pending changes are reconciled against the remote store.
	SyncInterval time.Duration `env:"KANBAN_SYNC_INTERVAL" envDefault:"5s"`

	// Per-request timeout for the HTTP client talking to the API.
	RequestTimeout time.Duration `env:"KANBAN_REQUEST_TIMEOUT" envDefault:"30s"`

	// Path to the bbolt database holding the local task cache. Defaults
	// to ~/.kanban-sync/state.db.
	StatePath string `env:"KANBAN_STATE_PATH"`

	// Address for the local control surface (MCP + status feed). "off"
	// disables it.
	ListenAddr string `env:"KANBAN_LISTEN_ADDR" envDefault:"127.0.0.1:8091"`

	// Only fall back to create during reconciliation when the server
	// answered an update with 404.
	StrictFallback bool `env:"KANBAN_STRICT_FALLBACK" envDefault:"false"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// ServerConfig holds environment-based configuration for the task API
// server.
type ServerConfig struct {
	Port       int    `env:"PORT" envDefault:"4000"`
	DBPath     string `env:"DB_PATH" envDefault:"kanban.db"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing settings to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// LoadClient reads client configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.StatePath == "" {
		path, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func (c *ClientConfig) validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil {
		return fmt.Errorf("KANBAN_API_BASE is not a valid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("KANBAN_API_BASE must use http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("KANBAN_API_BASE must include a host")
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("KANBAN_SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("KANBAN_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *ClientConfig) IsProduction() bool {
	return c.Environment == "production"
}

// ControlEnabled reports whether the local control surface should be
// served.
func (c *ClientConfig) ControlEnabled() bool {
	return c.ListenAddr != "" && c.ListenAddr != "off"
}

// LoadServer reads server configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &ServerConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}

	return nil
}

// ListenAddr returns the address the API server binds to.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DefaultStatePath returns the default local cache location:
// ~/.kanban-sync/state.db
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".kanban-sync", "state.db"), nil
}
