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
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	// Determine environment
	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	// Try to load environment-specific config file
	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		// Fall back to default config file
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			// Fall back to config.yaml
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				// Return empty config with defaults
				cfg = &Config{}
			}
		}
	}

	// Set environment
	if cfg.Environment == "" {
		cfg.Environment = env
	}

	// Apply defaults
	setDefaults(cfg)

	// Substitute environment variables
	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	// Override with environment variables (highest priority)
	applyEnvironmentOverrides(cfg)

	// Validate configuration
	if !options.SkipValidation {
		issues := ValidateConfiguration(cfg)
		// Only fail on error-level validation issues
		for _, e := range issues {
			if e.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", e.Field, e.Message)
			}
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with environment variables,
// taking priority over both file values and ${VAR} substitutions.
func applyEnvironmentOverrides(cfg *Config) {
	if url := os.Getenv("MSGAUTH_BACKEND_URL"); url != "" {
		cfg.Backend.URL = url
	}
	if origin := os.Getenv("MSGAUTH_SERVER_ORIGIN"); origin != "" {
		cfg.Server.Origin = origin
	}
	if addr := os.Getenv("MSGAUTH_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}

	if logLevel := os.Getenv("MSGAUTH_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("MSGAUTH_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if os.Getenv("MSGAUTH_METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("MSGAUTH_METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}
}

// ValidationIssue is one problem ValidateConfiguration found. Level is
// either "error" (Load fails) or "warn" (logged but non-fatal).
type ValidationIssue struct {
	Field   string
	Message string
	Level   string
}

// ValidateConfiguration checks cfg beyond Config.Validate's required-field
// check, flagging out-of-range timeouts and TTLs as warnings so a caller
// can surface them without necessarily refusing to start.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if err := cfg.Validate(); err != nil {
		issues = append(issues, ValidationIssue{Field: "backend.url/server.origin", Message: err.Error(), Level: "error"})
	}

	if cfg.Challenge.TTLMS <= 0 {
		issues = append(issues, ValidationIssue{Field: "challenge.ttl-ms", Message: "must be positive", Level: "warn"})
	}
	if cfg.Signature.SkewMS <= 0 {
		issues = append(issues, ValidationIssue{Field: "signature.skew-ms", Message: "must be positive", Level: "warn"})
	}
	if cfg.Nonce.TTLMS <= 0 {
		issues = append(issues, ValidationIssue{Field: "nonce.ttl-ms", Message: "must be positive", Level: "warn"})
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, ValidationIssue{Field: "logging.level", Message: fmt.Sprintf("unrecognized level %q", cfg.Logging.Level), Level: "warn"})
	}

	return issues
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
