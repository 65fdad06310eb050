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

/*
Package tracing provides distributed tracing and observability for the
hosted-application job runner.

This package implements OpenTelemetry-based tracing for step execution and
controller-API requests. It also provides Prometheus metrics collection and
correlation ID propagation for distributed debugging across a multi-replica
controller.

# Overview

The tracing package supports:

  - Distributed tracing via OpenTelemetry
  - Prometheus metrics export
  - Correlation ID propagation across services
  - Per-step execution spans ("jobrunner.step")
  - Maintainer-loop dispatch and worker-pool-saturation metrics

# Quick Start

Create an OTel provider:

	cfg := tracing.Config{
	    Enabled:        true,
	    ServiceName:    "hostedjob",
	    ServiceVersion: "1.0.0",
	    Sampling: tracing.SamplingConfig{
	        Enabled: true,
	        Rate:    0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewOTelProviderWithConfig(cfg)

Get a tracer and create spans:

	tracer := provider.Tracer("jobrunner.steprunner")

	ctx, span := tracer.Start(ctx, "jobrunner.step",
	    tracing.WithSpanAttributes(map[string]any{
	        "step": step.String(),
	        "run_id": runID.String(),
	    }),
	)
	defer span.End()

# Correlation IDs

Correlation IDs link requests across service boundaries:

	// In HTTP middleware
	correlationID := tracing.FromContext(ctx)

	// Add to outbound requests
	req.Header.Set("X-Correlation-ID", string(correlationID))

	// Middleware extracts and injects
	handler = tracing.CorrelationMiddleware(handler)

# Metrics Collection

Prometheus metrics are collected:

	// Get metrics collector
	collector := provider.MetricsCollector()

	// Record events
	collector.RecordRunStart(runID.String())
	collector.RecordStepDispatch(ctx, step.String(), "success", duration)
	collector.RecordRunEnd(runID.String())

Metrics exposed at /metrics:

  - jobrunner_steps_dispatched_total{step,outcome}
  - jobrunner_step_duration_seconds{step,outcome}
  - jobrunner_active_runs
  - jobrunner_worker_pool_saturation

# Configuration

Configuration is a tracing.Config value; a fuller example:

	cfg := tracing.Config{
	    Enabled:     true,
	    ServiceName: "hostedjob",
	    Sampling: tracing.SamplingConfig{
	        Enabled:            true,
	        Type:               "head",
	        Rate:               0.1,
	        AlwaysSampleErrors: true,
	    },
	    Exporters: []tracing.ExporterConfig{
	        {Type: "otlp", Endpoint: "localhost:4317"},
	    },
	    Redaction: tracing.RedactionConfig{
	        Level: "standard",
	        Patterns: []tracing.RedactionPattern{
	            {Name: "api_key", Regex: "sk-[a-zA-Z0-9]+", Replacement: "[REDACTED]"},
	        },
	    },
	}

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper
  - MetricsCollector: Prometheus metrics recording
  - CorrelationID: Request correlation across services
  - Sampler: Configurable trace sampling
  - Exporter: Trace export to backends (OTLP, etc.)
*/
package tracing
