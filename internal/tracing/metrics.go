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

package tracing

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ActiveRunCounter reports the controller's current number of active runs.
type ActiveRunCounter interface {
	ActiveRunCount() int
}

// MetricsCollector collects Prometheus-compatible metrics for the Job
// Controller and Maintainer Loop (spec §5.5's dispatch counter and
// saturation/active-run gauges).
type MetricsCollector struct {
	meter metric.Meter

	stepsDispatchedTotal metric.Int64Counter
	stepDuration         metric.Float64Histogram

	activeRuns   map[string]bool
	activeRunsMu sync.RWMutex

	busyWorkers   int64
	workerPoolCap int64
	workerMu      sync.RWMutex

	runCounter   ActiveRunCounter
	runCounterMu sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("hostedjob")

	mc := &MetricsCollector{
		meter:      meter,
		activeRuns: make(map[string]bool),
	}

	var err error

	mc.stepsDispatchedTotal, err = meter.Int64Counter(
		"jobrunner_steps_dispatched_total",
		metric.WithDescription("Total number of steps dispatched by the maintainer loop"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	mc.stepDuration, err = meter.Float64Histogram(
		"jobrunner_step_duration_seconds",
		metric.WithDescription("Step execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"jobrunner_active_runs",
		metric.WithDescription("Number of currently active runs"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.runCounterMu.RLock()
			counter := mc.runCounter
			mc.runCounterMu.RUnlock()
			if counter != nil {
				observer.Observe(int64(counter.ActiveRunCount()))
				return nil
			}
			mc.activeRunsMu.RLock()
			count := len(mc.activeRuns)
			mc.activeRunsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Float64ObservableGauge(
		"jobrunner_worker_pool_saturation",
		metric.WithDescription("Fraction of the maintainer's worker pool currently busy (0-1)"),
		metric.WithUnit("1"),
		metric.WithFloat64Callback(func(ctx context.Context, observer metric.Float64Observer) error {
			mc.workerMu.RLock()
			busy, cap := mc.busyWorkers, mc.workerPoolCap
			mc.workerMu.RUnlock()
			if cap == 0 {
				observer.Observe(0)
				return nil
			}
			observer.Observe(float64(busy) / float64(cap))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"jobrunner_goroutines",
		metric.WithDescription("Number of active goroutines"),
		metric.WithUnit("{goroutine}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(int64(runtime.NumGoroutine()))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"jobrunner_heap_bytes",
		metric.WithDescription("Current heap allocation in bytes"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			observer.Observe(int64(m.HeapAlloc))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordRunStart marks a run as active for the jobrunner_active_runs gauge.
func (mc *MetricsCollector) RecordRunStart(runID string) {
	mc.activeRunsMu.Lock()
	mc.activeRuns[runID] = true
	mc.activeRunsMu.Unlock()
}

// RecordRunEnd removes a run from the jobrunner_active_runs gauge.
func (mc *MetricsCollector) RecordRunEnd(runID string) {
	mc.activeRunsMu.Lock()
	delete(mc.activeRuns, runID)
	mc.activeRunsMu.Unlock()
}

// RecordStepDispatch records one step dispatch outcome and its duration.
func (mc *MetricsCollector) RecordStepDispatch(ctx context.Context, step, outcome string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	}
	mc.stepsDispatchedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// SetWorkerPoolCapacity sets the maintainer's fixed worker pool size.
func (mc *MetricsCollector) SetWorkerPoolCapacity(capacity int) {
	mc.workerMu.Lock()
	mc.workerPoolCap = int64(capacity)
	mc.workerMu.Unlock()
}

// IncrementBusyWorkers records a worker picking up a step.
func (mc *MetricsCollector) IncrementBusyWorkers() {
	mc.workerMu.Lock()
	mc.busyWorkers++
	mc.workerMu.Unlock()
}

// DecrementBusyWorkers records a worker finishing a step.
func (mc *MetricsCollector) DecrementBusyWorkers() {
	mc.workerMu.Lock()
	if mc.busyWorkers > 0 {
		mc.busyWorkers--
	}
	mc.workerMu.Unlock()
}

// SetActiveRunCounter wires a live active-run count source (the job
// controller) into the jobrunner_active_runs gauge. Once a counter is set,
// the gauge reports its count instead of the runs recorded through
// RecordRunStart/RecordRunEnd.
func (mc *MetricsCollector) SetActiveRunCounter(counter ActiveRunCounter) {
	mc.runCounterMu.Lock()
	mc.runCounter = counter
	mc.runCounterMu.Unlock()
}
