// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Config represents the general configuration for warpy
type Config struct {
	LogLevel string `json:"log_level,omitempty"`
	// History enables recording of invocations in the local SQLite store.
	// Set via "history": true in the config file or WARPY_HISTORY=true.
	History     bool   `json:"history,omitempty"`
	HistoryPath string `json:"history_path,omitempty"`
	// Telemetry enables OpenTelemetry tracing of decode/run phases.
	Telemetry         bool   `json:"telemetry,omitempty"`
	TelemetryEndpoint string `json:"telemetry_endpoint,omitempty"`
	NoUpdateCheck     bool   `json:"no_update_check,omitempty"`
	DaemonToken       string `json:"daemon_token,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "warn",
		HistoryPath:       filepath.Join(homeDir(), ".warpy", "history.db"),
		TelemetryEndpoint: "localhost:4318",
	}
}

// ConfigPath returns the path to the configuration file.
func ConfigPath() string {
	return filepath.Join(homeDir(), ".warpy", "config.json")
}

// Load loads the configuration: defaults, then the JSON config file, then
// WARPY_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(ConfigPath()); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.LogLevel = getEnv("WARPY_LOG_LEVEL", cfg.LogLevel)
	cfg.HistoryPath = getEnv("WARPY_HISTORY_PATH", cfg.HistoryPath)
	cfg.TelemetryEndpoint = getEnv("WARPY_TELEMETRY_ENDPOINT", cfg.TelemetryEndpoint)
	cfg.DaemonToken = getEnv("WARPY_DAEMON_TOKEN", cfg.DaemonToken)

	if v, ok := boolEnv("WARPY_HISTORY"); ok {
		cfg.History = v
	}
	if v, ok := boolEnv("WARPY_TELEMETRY"); ok {
		cfg.Telemetry = v
	}
	if v, ok := boolEnv("WARPY_NO_UPDATE_CHECK"); ok {
		cfg.NoUpdateCheck = v
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
