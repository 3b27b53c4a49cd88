/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const playerRoutePrefix = "/api/v1/player/"

// MetricsMiddleware records request totals and latency by route pattern, and
// player commands by name and result. Event stream upgrades are counted but
// not timed since they last as long as the client stays connected.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		APIActiveConnections.Inc()
		defer APIActiveConnections.Dec()

		// chi's wrapper keeps http.Hijacker so WebSocket upgrades still work.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeLabel(r)
		code := strconv.Itoa(status)

		APIRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		if isUpgrade(r) {
			return
		}
		APIRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())

		if command, ok := strings.CutPrefix(route, playerRoutePrefix); ok {
			PlayerCommandsTotal.WithLabelValues(command, commandResult(status)).Inc()
		}
	})
}

// routeLabel returns the matched chi pattern. Unmatched paths share one label
// so scanners cannot grow the series count.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func commandResult(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "failed"
	case status >= http.StatusBadRequest:
		return "rejected"
	default:
		return "ok"
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// TracingMiddleware wraps API handlers in otelhttp spans. Health checks and
// metric scrapes are not traced.
func TracingMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "tandem.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	)
}
