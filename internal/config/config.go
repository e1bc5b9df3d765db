// Package config loads environment-based configuration for the photosync
// server and client binaries.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ServerConfig holds configuration for photosync-server.
type ServerConfig struct {
	// Address the HTTP API listens on.
	ListenAddr string `env:"PHOTOSYNC_LISTEN_ADDR" envDefault:":8080"`

	// Root directory for stored photo files ({root}/{year}/{month}/...).
	StorageDir string `env:"PHOTOSYNC_STORAGE_DIR"`

	// Path of the dedup index database. Defaults to a photosync.db file
	// next to the storage root so a single directory holds everything.
	IndexPath string `env:"PHOTOSYNC_INDEX_PATH"`

	// Shared secret clients must present in the X-API-Secret header.
	// Exactly one of APISecret / APISecretHash must be set. The hash
	// variant takes a bcrypt hash produced by `photosync-server
	// hash-secret`, keeping the plain secret out of the environment.
	APISecret     string `env:"PHOTOSYNC_API_SECRET"`
	APISecretHash string `env:"PHOTOSYNC_API_SECRET_HASH"`

	// Per-file upload size limit in bytes. Zero disables the limit.
	MaxFileSize int64 `env:"PHOTOSYNC_MAX_FILE_SIZE" envDefault:"104857600"`

	// Comma-separated extension allow-list. Empty keeps the default
	// photo/video set.
	AllowedExtensions []string `env:"PHOTOSYNC_ALLOWED_EXTENSIONS" envSeparator:","`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// ClientConfig holds configuration for the photosync client CLI.
type ClientConfig struct {
	// Base URL of the photosync server, e.g. "https://backup.example.com".
	ServerURL string `env:"PHOTOSYNC_SERVER_URL"`

	// Shared secret sent in the X-API-Secret header.
	APISecret string `env:"PHOTOSYNC_API_SECRET"`

	// Directory scanned for local photos.
	PhotosDir string `env:"PHOTOSYNC_PHOTOS_DIR"`

	// Bound on concurrent hashing and upload workers.
	MaxConcurrent int `env:"PHOTOSYNC_MAX_CONCURRENT" envDefault:"4"`

	// Retry allowance for a single upload before it counts as failed.
	MaxRetries int `env:"PHOTOSYNC_MAX_RETRIES" envDefault:"3"`

	// Base delay for exponential upload retry backoff.
	BackoffBase time.Duration `env:"PHOTOSYNC_BACKOFF_BASE" envDefault:"500ms"`

	// Maximum fingerprints per existence-check request.
	CheckBatchSize int `env:"PHOTOSYNC_CHECK_BATCH_SIZE" envDefault:"100"`

	// Watch keeps the client running and re-syncs when new files appear.
	Watch bool `env:"PHOTOSYNC_WATCH" envDefault:"false"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API secret to other users.
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

// LoadServer reads server configuration from environment variables. It
// first attempts to load a .env file if present, then parses env vars.
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

	// Resolve StorageDir at startup. The placement engine's containment
	// checks compare against this path, and those checks only work
	// reliably with absolute paths.
	absDir, err := filepath.Abs(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage dir to absolute path: %w", err)
	}

	cfg.StorageDir = absDir

	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.StorageDir, "photosync.db")
	} else {
		absIndex, err := filepath.Abs(cfg.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("resolving index path to absolute path: %w", err)
		}

		cfg.IndexPath = absIndex
	}

	return cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.StorageDir == "" {
		return fmt.Errorf("PHOTOSYNC_STORAGE_DIR is required")
	}

	if c.APISecret == "" && c.APISecretHash == "" {
		return fmt.Errorf("one of PHOTOSYNC_API_SECRET or PHOTOSYNC_API_SECRET_HASH is required")
	}

	if c.APISecret != "" && c.APISecretHash != "" {
		return fmt.Errorf("PHOTOSYNC_API_SECRET and PHOTOSYNC_API_SECRET_HASH are mutually exclusive")
	}

	if c.MaxFileSize < 0 {
		return fmt.Errorf("PHOTOSYNC_MAX_FILE_SIZE must not be negative")
	}

	for _, ext := range c.AllowedExtensions {
		if strings.TrimSpace(ext) == "" {
			return fmt.Errorf("PHOTOSYNC_ALLOWED_EXTENSIONS contains an empty entry")
		}
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// LoadClient reads client configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(cfg.PhotosDir)
	if err != nil {
		return nil, fmt.Errorf("resolving photos dir to absolute path: %w", err)
	}

	cfg.PhotosDir = absDir

	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("PHOTOSYNC_SERVER_URL is required")
	}

	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("PHOTOSYNC_SERVER_URL must start with http:// or https://")
	}

	if c.APISecret == "" {
		return fmt.Errorf("PHOTOSYNC_API_SECRET is required")
	}

	if c.PhotosDir == "" {
		return fmt.Errorf("PHOTOSYNC_PHOTOS_DIR is required")
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("PHOTOSYNC_MAX_CONCURRENT must be at least 1")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("PHOTOSYNC_MAX_RETRIES must not be negative")
	}

	if c.BackoffBase <= 0 {
		return fmt.Errorf("PHOTOSYNC_BACKOFF_BASE must be positive")
	}

	if c.CheckBatchSize < 1 {
		return fmt.Errorf("PHOTOSYNC_CHECK_BATCH_SIZE must be at least 1")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *ClientConfig) IsProduction() bool {
	return c.Environment == "production"
}
