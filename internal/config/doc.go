// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

/*
Package config loads the supervisor's configuration with Koanf v2, layering
built-in defaults, an optional YAML file, and environment variables.

# Configuration Keys

  - autoreload (bool, default false): enables the hot-reload path.
  - modules ([]string): worker modules to load, `<module>` or
    `<module>:<name1>,<name2>`.
  - conf (string): path to this file; watched for changes when autoreload
    is enabled.
  - monitor (string, `host:port`): optional TCP control/status listener
    address.
  - metrics_addr (string, `host:port`): optional Prometheus exposition/health
    HTTP server address.
  - shutdown_timeout (duration, default 10s): how long a stop sequence waits
    for every service to reach a terminal state.
  - logging.level / logging.format / logging.caller: zerolog knobs, also
    settable via SUPERVISOR_LOG_LEVEL / SUPERVISOR_LOG_FORMAT /
    SUPERVISOR_LOG_CALLER.

Every key is also settable as an environment variable with the SUPERVISOR_
prefix (e.g. SUPERVISOR_AUTORELOAD, SUPERVISOR_MODULES).

# Loading Order

Environment variables take precedence over the config file, which takes
precedence over built-in defaults.
*/
package config
