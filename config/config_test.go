// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `backend:
  url: "memory://"

server:
  origin: "https://msgauth.example"`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "memory://", cfg.Backend.URL)
	assert.Equal(t, "https://msgauth.example", cfg.Server.Origin)

	// Every policy knob falls back to its documented default.
	assert.Equal(t, 120*time.Second, cfg.ChallengeTTL())
	assert.Equal(t, 120*time.Second, cfg.ChallengeSkew())
	assert.Equal(t, 5*time.Minute, cfg.SignatureSkew())
	assert.Equal(t, 10*time.Minute, cfg.NonceTTL())
	assert.Equal(t, 24*time.Hour, cfg.EnvelopeTTLDefault())
	assert.Equal(t, time.Minute, cfg.KeyStateCacheTTL())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFileSubstitutesEnvVars(t *testing.T) {
	os.Setenv("TEST_MSGAUTH_DSN", "postgres://msgauth@db/msgauth")
	defer os.Unsetenv("TEST_MSGAUTH_DSN")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `backend:
  url: "${TEST_MSGAUTH_DSN}"

server:
  origin: "${TEST_MSGAUTH_ORIGIN:https://fallback.example}"`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://msgauth@db/msgauth", cfg.Backend.URL)
	assert.Equal(t, "https://fallback.example", cfg.Server.Origin)
}

func TestValidateRequiresBackendAndOrigin(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	require.Error(t, cfg.Validate())

	cfg.Backend.URL = "memory://"
	require.Error(t, cfg.Validate())

	cfg.Server.Origin = "https://msgauth.example"
	require.NoError(t, cfg.Validate())
}

func TestValidateConfigurationFlagsBadValues(t *testing.T) {
	cfg := &Config{
		Backend: BackendConfig{URL: "memory://"},
		Server:  ServerConfig{Origin: "https://msgauth.example"},
		Logging: LoggingConfig{Level: "loud"},
	}

	issues := ValidateConfiguration(cfg)
	require.NotEmpty(t, issues)
	for _, issue := range issues {
		assert.Equal(t, "warn", issue.Level)
	}
}

func TestEnvironmentOverridesTakePriority(t *testing.T) {
	os.Setenv("MSGAUTH_BACKEND_URL", "postgres://override@db/msgauth")
	os.Setenv("MSGAUTH_SERVER_ORIGIN", "https://override.example")
	defer os.Unsetenv("MSGAUTH_BACKEND_URL")
	defer os.Unsetenv("MSGAUTH_SERVER_ORIGIN")

	cfg := &Config{
		Backend: BackendConfig{URL: "memory://"},
		Server:  ServerConfig{Origin: "https://file.example"},
	}
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, "postgres://override@db/msgauth", cfg.Backend.URL)
	assert.Equal(t, "https://override.example", cfg.Server.Origin)
}

func TestGetEnvironmentDefaultsToDevelopment(t *testing.T) {
	os.Unsetenv("MSGAUTH_ENV")
	os.Unsetenv("ENVIRONMENT")
	assert.Equal(t, "development", GetEnvironment())

	os.Setenv("MSGAUTH_ENV", "Production")
	defer os.Unsetenv("MSGAUTH_ENV")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())
}
