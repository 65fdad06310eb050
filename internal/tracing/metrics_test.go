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
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsCollector(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}
	if mc == nil {
		t.Fatal("Expected non-nil MetricsCollector")
	}
	if mc.activeRuns == nil {
		t.Error("Expected activeRuns map to be initialized")
	}
}

func TestMetricsCollector_RecordRunStartAndEnd(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	runID := "tenant.app.default:systemTest:1"
	mc.RecordRunStart(runID)

	mc.activeRunsMu.RLock()
	_, exists := mc.activeRuns[runID]
	mc.activeRunsMu.RUnlock()
	if !exists {
		t.Fatal("expected run to be tracked as active")
	}

	mc.RecordRunEnd(runID)

	mc.activeRunsMu.RLock()
	_, stillExists := mc.activeRuns[runID]
	mc.activeRunsMu.RUnlock()
	if stillExists {
		t.Error("expected run to be removed from active runs after completion")
	}
}

func TestMetricsCollector_RecordStepDispatch(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	mc.RecordStepDispatch(ctx, "deployTester", "success", 100*time.Millisecond)
	mc.RecordStepDispatch(ctx, "startTests", "failure", 50*time.Millisecond)
}

func TestMetricsCollector_WorkerPoolSaturation(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	mc.SetWorkerPoolCapacity(32)
	mc.IncrementBusyWorkers()
	mc.IncrementBusyWorkers()

	mc.workerMu.RLock()
	busy := mc.busyWorkers
	mc.workerMu.RUnlock()
	if busy != 2 {
		t.Errorf("expected 2 busy workers, got %d", busy)
	}

	mc.DecrementBusyWorkers()

	mc.workerMu.RLock()
	busy = mc.busyWorkers
	mc.workerMu.RUnlock()
	if busy != 1 {
		t.Errorf("expected 1 busy worker, got %d", busy)
	}
}

func TestMetricsCollector_BusyWorkersNeverNegative(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	mc.DecrementBusyWorkers()

	mc.workerMu.RLock()
	busy := mc.busyWorkers
	mc.workerMu.RUnlock()
	if busy != 0 {
		t.Errorf("expected busy workers to stay at 0, got %d", busy)
	}
}

func TestMetricsCollector_ConcurrentAccess(t *testing.T) {
	provider := metric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	mc, err := NewMetricsCollector(provider)
	if err != nil {
		t.Fatalf("Failed to create metrics collector: %v", err)
	}

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(4)

		go func(id int) {
			defer wg.Done()
			mc.IncrementBusyWorkers()
		}(i)

		go func(id int) {
			defer wg.Done()
			mc.DecrementBusyWorkers()
		}(i)

		go func(id int) {
			defer wg.Done()
			runID := "run-" + string(rune(id+'0'))
			mc.RecordRunStart(runID)
			mc.RecordRunEnd(runID)
		}(i)

		go func(id int) {
			defer wg.Done()
			mc.RecordStepDispatch(ctx, "deployReal", "success", time.Millisecond)
		}(i)
	}

	wg.Wait()
}
