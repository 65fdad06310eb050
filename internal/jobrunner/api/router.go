// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api is the thin HTTP façade over internal/jobrunner.Controller:
// one JSON endpoint per spec.md §4.3 operation, so cmd/hostedjobctl (or any
// other caller) never needs to link the controller in-process.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/hostedjob/internal/jobrunner"
	"github.com/tombee/hostedjob/internal/tracing"
)

// Router wraps an http.ServeMux with the tracing/correlation/logging
// middleware chain used across the module's HTTP surface.
type Router struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewRouter builds a Router exposing every jobrunner.Controller operation.
func NewRouter(controller *jobrunner.Controller, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{mux: http.NewServeMux(), logger: logger.With(slog.String("component", "jobrunner-api"))}

	apps := &applicationsHandler{controller: controller}
	apps.registerRoutes(r.mux)

	runs := &runsHandler{controller: controller}
	runs.registerRoutes(r.mux)

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)

	return r
}

// Mux returns the underlying ServeMux for registering additional routes
// (e.g. a Prometheus /metrics handler at the process entrypoint).
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler, applying the same tracing,
// correlation, and request-logging middleware chain as the teacher's
// daemon API router.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux

	inner := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		logger := r.logger.With(slog.String("correlation_id", string(correlationID)))
		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		}()
		inner.ServeHTTP(w, req)
	})

	handler = tracing.CorrelationMiddleware(handler)
	handler = tracing.TracingMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)
	handler.ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
