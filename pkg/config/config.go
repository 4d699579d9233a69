/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the daemon configuration from a JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/carverauto/provisiond/pkg/synchronize"
)

var (
	errInvalidStoreBackend       = errors.New("invalid store backend")
	errInvalidConflictResolution = errors.New("invalid conflict resolution policy")
)

// Store backends.
const (
	StoreBackendMemory  = "memory"
	StoreBackendJSONDir = "jsondir"
	StoreBackendSQLite  = "sqlite"
)

// Conflict resolution policies for collaborating extractors.
const (
	ConflictResolutionLastSeen = "last_seen"
	ConflictResolutionVoting   = "voting"
)

// GeneralConfig holds the store and pipeline settings.
type GeneralConfig struct {
	// StoreBackend selects the document store: memory, jsondir or sqlite.
	StoreBackend string `json:"store_backend"`

	// StoreDir is the document directory for the jsondir backend.
	StoreDir string `json:"store_dir"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `json:"sqlite_path"`

	// NATEnabled marks deployments where devices share observed IPs.
	NATEnabled bool `json:"nat_enabled"`

	// NumHTTPProxies is the number of trusted reverse proxies in front of
	// the HTTP provisioning server.
	NumHTTPProxies int `json:"num_http_proxies"`

	// ConflictResolution picks how conflicting identity observations are
	// merged: last_seen or voting.
	ConflictResolution string `json:"conflict_resolution"`

	// Timezone is the default timezone name for device configs.
	Timezone string `json:"timezone"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level string `json:"level"`
	Debug bool   `json:"debug"`

	// SecurityFile, when set, receives the security audit log.
	SecurityFile string `json:"security_file"`
}

// Config is the daemon configuration.
type Config struct {
	General       GeneralConfig         `json:"general"`
	Sync          synchronize.AMIConfig `json:"sync"`
	Logging       LoggingConfig         `json:"logging"`
	BaseRawConfig map[string]any        `json:"base_raw_config"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			StoreBackend:       StoreBackendJSONDir,
			StoreDir:           "/var/lib/provisiond/jsondb",
			SQLitePath:         "/var/lib/provisiond/provisiond.db",
			ConflictResolution: ConflictResolutionLastSeen,
			Timezone:           "Etc/UTC",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadFromFile reads the JSON configuration at path over the defaults,
// then applies environment overrides and validates.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file '%s': %w", path, err)
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PROVISIOND_STORE_BACKEND"); v != "" {
		c.General.StoreBackend = v
	}

	if v := os.Getenv("PROVISIOND_STORE_DIR"); v != "" {
		c.General.StoreDir = v
	}

	if v := os.Getenv("PROVISIOND_SQLITE_PATH"); v != "" {
		c.General.SQLitePath = v
	}

	if v := os.Getenv("PROVISIOND_NAT_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.General.NATEnabled = enabled
		}
	}

	if v := os.Getenv("PROVISIOND_NUM_HTTP_PROXIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.General.NumHTTPProxies = n
		}
	}

	if v := os.Getenv("PROVISIOND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("PROVISIOND_SECURITY_FILE"); v != "" {
		c.Logging.SecurityFile = v
	}

	if v := os.Getenv("PROVISIOND_AMI_HOST"); v != "" {
		c.Sync.Host = v
	}

	if v := os.Getenv("PROVISIOND_AMI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Sync.Port = port
		}
	}

	if v := os.Getenv("PROVISIOND_AMI_USERNAME"); v != "" {
		c.Sync.Username = v
	}

	if v := os.Getenv("PROVISIOND_AMI_PASSWORD"); v != "" {
		c.Sync.Password = v
	}
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.General.StoreBackend {
	case StoreBackendMemory, StoreBackendJSONDir, StoreBackendSQLite:
	default:
		return fmt.Errorf("%w: %q", errInvalidStoreBackend, c.General.StoreBackend)
	}

	switch c.General.ConflictResolution {
	case ConflictResolutionLastSeen, ConflictResolutionVoting:
	default:
		return fmt.Errorf("%w: %q", errInvalidConflictResolution, c.General.ConflictResolution)
	}

	return nil
}
