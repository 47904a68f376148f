// Package config loads the CLI settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Credential storage backends.
const (
	BackendDB      = "db"
	BackendKeyring = "keyring"
)

// Config holds all environment-based configuration for apsq.
type Config struct {
	// Base URL of the collaboration API, without a trailing slash.
	APIBaseURL string `env:"APSQ_API_BASE_URL" envDefault:"http://localhost:8000"`

	// Timeout of a single HTTP exchange.
	HTTPTimeout time.Duration `env:"APSQ_HTTP_TIMEOUT" envDefault:"30s"`

	// SQLite file holding the profile, the project cache and, with the db
	// backend, the credentials. Defaults to ~/.apsq/apsq.db.
	DBPath string `env:"APSQ_DB_PATH"`

	// Where the credential pair is kept: "db" or "keyring".
	CredentialBackend string `env:"APSQ_CREDENTIAL_BACKEND" envDefault:"db"`

	// Disable the activity spinner.
	NoSpinner bool `env:"APSQ_NO_SPINNER" envDefault:"false"`

	// Passwords a user may try per project challenge.
	ChallengeAttempts int `env:"APSQ_CHALLENGE_ATTEMPTS" envDefault:"3"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Ignoring unreadable .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.CredentialBackend = strings.ToLower(strings.TrimSpace(cfg.CredentialBackend))
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(os.Getenv("HOME"), ".apsq", "apsq.db")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("APSQ_API_BASE_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("APSQ_HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}

	switch c.CredentialBackend {
	case BackendDB, BackendKeyring:
	default:
		return fmt.Errorf("APSQ_CREDENTIAL_BACKEND must be %q or %q, got %q", BackendDB, BackendKeyring, c.CredentialBackend)
	}

	if c.ChallengeAttempts < 1 || c.ChallengeAttempts > 10 {
		return fmt.Errorf("APSQ_CHALLENGE_ATTEMPTS must be between 1 and 10, got %d", c.ChallengeAttempts)
	}
	return nil
}
