// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration, loaded from built-in defaults,
// an optional YAML file, and environment variables (SPEC_FULL.md §10.1).
//
// Config is immutable after Load returns and safe for concurrent read access.
type Config struct {
	// Autoreload enables the change-detector-driven hot reload path: a
	// file change under an observed module or config path causes the
	// current controller child to exit and a new one to be spawned.
	Autoreload bool `koanf:"autoreload"`

	// Modules lists the worker modules to load, each either a bare module
	// name or a `<module>:<name1>,<name2>` subset selector.
	Modules []string `koanf:"modules"`

	// Conf is the path to this configuration file; the controller observes
	// it with the change detector so edits to it trigger a reload when
	// Autoreload is enabled.
	Conf string `koanf:"conf"`

	// Monitor is an optional `host:port` address for the TCP control/status
	// listener (§12). Empty disables the monitor.
	Monitor string `koanf:"monitor"`

	// MetricsAddr is an optional `host:port` address for the Prometheus
	// exposition/health HTTP server (§13). Empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// ShutdownTimeout bounds how long the metrics HTTP server waits for
	// in-flight requests when it shuts down. The controller stop sequence
	// has no timeout: a ServerInstance waits for every service to reach a
	// terminal state however long that takes.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	Logging LoggingConfig `koanf:"logging"`
}

// LoggingConfig holds the ambient zerolog knobs (§10.3).
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is the output encoding: json or console.
	Format string `koanf:"format"`
	// Caller includes the calling file:line in every log entry.
	Caller bool `koanf:"caller"`
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

// Validate checks field-level invariants that koanf's unmarshaling does not
// enforce on its own.
func (c *Config) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("config: logging.level %q is not one of trace|debug|info|warn|error", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("config: logging.format %q is not one of json|console", c.Logging.Format)
	}
	return nil
}
