// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

/*
Package metrics registers the supervisor's Prometheus instrumentation
(SPEC_FULL.md §13):

  - supervisor_service_state{service}
  - supervisor_service_transitions_total{service,from,to}
  - supervisor_service_exceptions_total{service}
  - supervisor_reloads_total
  - supervisor_gateway_calls_total{method,ok}

All metrics register against the default Prometheus registry at package
init; internal/metricsserver exposes them over HTTP.
*/
package metrics
