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

// Package config loads and validates the msgauth server configuration:
// the storage backend, the server's own audience identity, and the
// policy knobs (challenge/signature/nonce/envelope timeouts, key-state
// cache TTL). The serve command passes the challenge TTL, nonce TTL and
// key-state cache TTL to the service; challenge.skew-ms, signature.skew-ms
// and envelope.ttl-default-ms are loaded and defaulted but not read by
// any verification path, which uses the fixed constants of the
// challenge, authn and envelope packages instead.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full msgauth configuration tree.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Backend     BackendConfig   `yaml:"backend" json:"backend"`
	Server      ServerConfig    `yaml:"server" json:"server"`
	Challenge   ChallengeConfig `yaml:"challenge" json:"challenge"`
	Signature   SignatureConfig `yaml:"signature" json:"signature"`
	Nonce       NonceConfig     `yaml:"nonce" json:"nonce"`
	Envelope    EnvelopeConfig  `yaml:"envelope" json:"envelope"`
	KeyState    KeyStateConfig  `yaml:"keystate" json:"keystate"`
	Logging     LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// BackendConfig selects and configures the document store.
type BackendConfig struct {
	// URL is the storage backend DSN. "memory://" selects the
	// in-memory store (tests, single-node); any other value is passed
	// to the Postgres driver as a connection string.
	URL string `yaml:"url" json:"url"`
}

// ServerConfig carries the server's own identity as used in signed
// payloads.
type ServerConfig struct {
	// Origin is stamped as "aud" in every issued challenge and as the
	// audience in every ack receipt.
	Origin string `yaml:"origin" json:"origin"`
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// ChallengeConfig tunes the challenge-response protocol.
type ChallengeConfig struct {
	TTLMS  int `yaml:"ttl-ms" json:"ttl-ms"`
	SkewMS int `yaml:"skew-ms" json:"skew-ms"`
}

// SignatureConfig tunes the per-request signature protocol.
type SignatureConfig struct {
	SkewMS int `yaml:"skew-ms" json:"skew-ms"`
}

// NonceConfig tunes the replay-nonce ledger.
type NonceConfig struct {
	TTLMS int `yaml:"ttl-ms" json:"ttl-ms"`
}

// EnvelopeConfig tunes envelope defaults.
type EnvelopeConfig struct {
	TTLDefaultMS int `yaml:"ttl-default-ms" json:"ttl-default-ms"`
}

// KeyStateConfig tunes the key-state read cache.
type KeyStateConfig struct {
	CacheTTLMS int `yaml:"cache-ttl-ms" json:"cache-ttl-ms"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout or stderr; any other value writes to stdout
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// ChallengeTTL returns the configured challenge lifetime as a Duration.
func (c Config) ChallengeTTL() time.Duration { return time.Duration(c.Challenge.TTLMS) * time.Millisecond }

// ChallengeSkew returns the configured challenge max-age as a Duration.
func (c Config) ChallengeSkew() time.Duration { return time.Duration(c.Challenge.SkewMS) * time.Millisecond }

// SignatureSkew returns the configured per-request timestamp skew.
func (c Config) SignatureSkew() time.Duration { return time.Duration(c.Signature.SkewMS) * time.Millisecond }

// NonceTTL returns the configured replay-ledger retention window.
func (c Config) NonceTTL() time.Duration { return time.Duration(c.Nonce.TTLMS) * time.Millisecond }

// EnvelopeTTLDefault returns the default envelope lifetime.
func (c Config) EnvelopeTTLDefault() time.Duration {
	return time.Duration(c.Envelope.TTLDefaultMS) * time.Millisecond
}

// KeyStateCacheTTL returns the configured key-state cache TTL.
func (c Config) KeyStateCacheTTL() time.Duration {
	return time.Duration(c.KeyState.CacheTTLMS) * time.Millisecond
}

// Validate rejects a config missing its required fields.
func (c Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("config: backend.url is required")
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("config: server.origin is required")
	}
	return nil
}

// LoadFromFile reads and parses a YAML or JSON config file, applying
// defaults and environment-variable substitution.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	SubstituteEnvVarsInConfig(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing YAML or JSON by
// extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills in the documented defaults for any field
// left at its zero value.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8443"
	}
	if cfg.Challenge.TTLMS == 0 {
		cfg.Challenge.TTLMS = 120_000
	}
	if cfg.Challenge.SkewMS == 0 {
		cfg.Challenge.SkewMS = 120_000
	}
	if cfg.Signature.SkewMS == 0 {
		cfg.Signature.SkewMS = 300_000
	}
	if cfg.Nonce.TTLMS == 0 {
		cfg.Nonce.TTLMS = 600_000
	}
	if cfg.Envelope.TTLDefaultMS == 0 {
		cfg.Envelope.TTLDefaultMS = 86_400_000
	}
	if cfg.KeyState.CacheTTLMS == 0 {
		cfg.KeyState.CacheTTLMS = 60_000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
