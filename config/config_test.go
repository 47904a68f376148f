package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"APSQ_API_BASE_URL",
		"APSQ_HTTP_TIMEOUT",
		"APSQ_DB_PATH",
		"APSQ_CREDENTIAL_BACKEND",
		"APSQ_NO_SPINNER",
		"APSQ_CHALLENGE_ATTEMPTS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.APIBaseURL)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, filepath.Join(home, ".apsq", "apsq.db"), cfg.DBPath)
	assert.Equal(t, BackendDB, cfg.CredentialBackend)
	assert.False(t, cfg.NoSpinner)
	assert.Equal(t, 3, cfg.ChallengeAttempts)
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("APSQ_API_BASE_URL", "https://api.example.com/")
	t.Setenv("APSQ_HTTP_TIMEOUT", "5s")
	t.Setenv("APSQ_DB_PATH", "/tmp/x.db")
	t.Setenv("APSQ_CREDENTIAL_BACKEND", "Keyring")
	t.Setenv("APSQ_NO_SPINNER", "true")
	t.Setenv("APSQ_CHALLENGE_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, BackendKeyring, cfg.CredentialBackend)
	assert.True(t, cfg.NoSpinner)
	assert.Equal(t, 5, cfg.ChallengeAttempts)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearConfigEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("APSQ_API_BASE_URL=http://backend:9000\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("APSQ_API_BASE_URL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://backend:9000", cfg.APIBaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		msg  string
	}{
		{"base url scheme", "APSQ_API_BASE_URL", "ftp://x", "APSQ_API_BASE_URL"},
		{"base url host", "APSQ_API_BASE_URL", "http://", "APSQ_API_BASE_URL"},
		{"timeout", "APSQ_HTTP_TIMEOUT", "0s", "APSQ_HTTP_TIMEOUT"},
		{"timeout parse", "APSQ_HTTP_TIMEOUT", "soon", "parsing config"},
		{"backend", "APSQ_CREDENTIAL_BACKEND", "file", "APSQ_CREDENTIAL_BACKEND"},
		{"attempts low", "APSQ_CHALLENGE_ATTEMPTS", "0", "APSQ_CHALLENGE_ATTEMPTS"},
		{"attempts high", "APSQ_CHALLENGE_ATTEMPTS", "11", "APSQ_CHALLENGE_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
