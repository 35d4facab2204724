// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/ward/internal/state"
)

// Prometheus instrumentation for the supervisor and its controller children
// (SPEC_FULL.md §13). The service metrics are updated by
// internal/serverinstance from the controller's aggregate state-change
// events, GatewayCalls from the gateway's call/reply path, and Reloads from
// internal/server's reload loop.
var (
	// ServiceState reports each service's current lifecycle state as its
	// numeric state.State code (0=Stopped .. 7=Exception).
	ServiceState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_service_state",
			Help: "Current lifecycle state of a service, as a state.State numeric code",
		},
		[]string{"service"},
	)

	// ServiceTransitions counts every observed state transition per service.
	ServiceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_service_transitions_total",
			Help: "Total number of service state transitions",
		},
		[]string{"service", "from", "to"},
	)

	// ServiceExceptions counts transitions into StateException per service.
	ServiceExceptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_service_exceptions_total",
			Help: "Total number of times a service entered the exception state",
		},
		[]string{"service"},
	)

	// Reloads counts completed hot-reload generations.
	Reloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_reloads_total",
			Help: "Total number of controller reload generations completed",
		},
	)

	// GatewayCalls counts gateway RPC calls by method and outcome.
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_gateway_calls_total",
			Help: "Total number of gateway RPC calls, by method and success",
		},
		[]string{"method", "ok"},
	)
)

// ObserveStateChange updates ServiceState, ServiceTransitions, and
// ServiceExceptions for one service's transition from prev to next.
func ObserveStateChange(service string, prev, next state.State) {
	ServiceState.WithLabelValues(service).Set(float64(next))
	ServiceTransitions.WithLabelValues(service, prev.String(), next.String()).Inc()
	if next == state.StateException {
		ServiceExceptions.WithLabelValues(service).Inc()
	}
}

// ObserveReload increments Reloads once a reload generation completes.
func ObserveReload() {
	Reloads.Inc()
}

// ObserveGatewayCall records one gateway RPC outcome.
func ObserveGatewayCall(method string, ok bool) {
	GatewayCalls.WithLabelValues(method, boolLabel(ok)).Inc()
}

func boolLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
