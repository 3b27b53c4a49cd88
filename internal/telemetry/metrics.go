/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tandem"

// Synchronization metrics
var (
	SyncInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "invocations_total",
		Help:      "Secondary stream synchronizations by trigger.",
	}, []string{"trigger"})

	DriftReseeksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "drift_reseeks_total",
		Help:      "Secondary stream reseeks caused by drift beyond tolerance.",
	})

	DriftSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "drift_seconds",
		Help:      "Absolute drift between primary and secondary positions.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	})
)

// Player metrics
var (
	SecondaryLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "secondary",
		Name:      "loads_total",
		Help:      "Secondary stream loads by result.",
	}, []string{"result"}) // ok, failed, stale

	StaleOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_operations_total",
		Help:      "Operations abandoned because a newer one superseded them.",
	}, []string{"component"})

	TransportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "transport_errors_total",
		Help:      "Primary engine operations that failed.",
	}, []string{"operation"})

	PlayerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "player",
		Name:      "state",
		Help:      "1 for the current orchestrator state, 0 otherwise.",
	}, []string{"state"})

	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "library",
		Name:      "downloads_total",
		Help:      "Offline downloads by result.",
	}, []string{"result"}) // downloaded, existing, bundled, failed
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP requests.",
	})

	PlayerCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "player_commands_total",
		Help:      "Player control requests by command and result.",
	}, []string{"command", "result"}) // result: ok, rejected, failed

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "websocket_connections",
		Help:      "Open event stream connections.",
	})
)

// Database metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database operation latency by operation and table.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Database operations that failed.",
	}, []string{"operation", "kind"}) // kind: canceled, duplicate, failed

	DatabaseConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connections",
		Help:      "Connection pool size by state.",
	}, []string{"state"}) // open, in_use, idle
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPlayerState marks state as the only active player state.
func SetPlayerState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		PlayerState.WithLabelValues(s).Set(v)
	}
}
