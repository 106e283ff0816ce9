package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the credential manager.
type Config struct {
	// Directory holding the environments document and the secret database.
	// Defaults to ~/.idgov when empty.
	ConfigDir string `env:"IDGOV_CONFIG_DIR"`

	// Base URL of the OAuth relay that performs the browser exchange on
	// our behalf. Required for OAuth-mode environments.
	RelayURL string `env:"IDGOV_RELAY_URL"`

	// Secret encryption backend: "keyring" uses the OS keychain to hold
	// the master key, "passphrase" derives it from IDGOV_PASSPHRASE.
	SecretBackend string `env:"IDGOV_SECRET_BACKEND" envDefault:"keyring"`

	// Passphrase for the passphrase backend. Ignored by the keyring backend.
	Passphrase string `env:"IDGOV_PASSPHRASE"`

	// Timeout applied to individual HTTP requests.
	HTTPTimeout time.Duration `env:"IDGOV_HTTP_TIMEOUT" envDefault:"30s"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
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

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.ConfigDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}

		cfg.ConfigDir = dir
	}

	absDir, err := filepath.Abs(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir to absolute path: %w", err)
	}

	cfg.ConfigDir = absDir

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SecretBackend {
	case "keyring":
	case "passphrase":
		if c.Passphrase == "" {
			return fmt.Errorf("IDGOV_PASSPHRASE is required when IDGOV_SECRET_BACKEND is passphrase")
		}
	default:
		return fmt.Errorf("unknown IDGOV_SECRET_BACKEND %q (keyring or passphrase)", c.SecretBackend)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("IDGOV_HTTP_TIMEOUT must be positive")
	}

	return nil
}

// DefaultConfigDir returns the default configuration directory: ~/.idgov/
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".idgov"), nil
}

// EnvironmentsPath returns the path of the environments document.
func (c *Config) EnvironmentsPath() string {
	return filepath.Join(c.ConfigDir, "environments.yaml")
}

// SecretDBPath returns the path of the encrypted secret database.
func (c *Config) SecretDBPath() string {
	return filepath.Join(c.ConfigDir, "secrets.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
