// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched for, in
// priority order. The first one found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ward/config.yaml",
	"/etc/ward/config.yml",
}

// ConfigPathEnvVar overrides the config file path search.
const ConfigPathEnvVar = "SUPERVISOR_CONFIG_PATH"

// envPrefix is the environment-variable prefix consumed by the env provider
// (SPEC_FULL.md §10.1).
const envPrefix = "SUPERVISOR_"

func defaultConfig() *Config {
	return &Config{
		Autoreload:      false,
		Modules:         nil,
		Conf:            "",
		Monitor:         "",
		MetricsAddr:     "",
		ShutdownTimeout: 10 * time.Second,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with Koanf v2, layering (lowest to highest
// priority): struct defaults, an optional YAML file, then environment
// variables — the same order the teacher's koanf.go uses. When no layer
// sets conf, it is set to the path of the config file that was read (empty
// if none was found).
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	path := findConfigFile()
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("config: process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Conf == "" {
		cfg.Conf = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths names the koanf paths that must be parsed as
// comma-separated slices when they arrive as a single environment-variable
// string rather than a YAML sequence.
var sliceConfigPaths = []string{"modules"}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("config: set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps a SUPERVISOR_-prefixed environment variable name to
// a koanf config path. env.Provider calls this with the full variable name,
// prefix included; stripping it is this function's job.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	mappings := map[string]string{
		"autoreload":       "autoreload",
		"modules":          "modules",
		"conf":             "conf",
		"monitor":          "monitor",
		"metrics_addr":     "metrics_addr",
		"shutdown_timeout": "shutdown_timeout",
		"log_level":        "logging.level",
		"log_format":       "logging.format",
		"log_caller":       "logging.caller",
	}
	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return ""
}
