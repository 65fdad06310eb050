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

// Package maintainer implements the periodic Maintainer Loop described by
// spec.md §4.5: a single-leader background task that enumerates active
// runs, times out the ones that have overrun their job budget, and
// dispatches every ready step onto a fixed-size worker pool, re-checking
// readiness inside the worker before calling the Step Runner and folding
// its outcome back into the run.
package maintainer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/hostedjob/internal/config"
	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/jobrunner"
	"github.com/tombee/hostedjob/internal/lock"
	"github.com/tombee/hostedjob/internal/steprunner"
	"github.com/tombee/hostedjob/internal/tracing"
)

// StepRunner dispatches one locked step and reports its outcome. Satisfied
// by *steprunner.Runner; a test double can substitute a scripted runner.
type StepRunner interface {
	Run(ctx context.Context, locked steprunner.LockedStep) steprunner.StepOutcome
}

// StatusPublisher publishes a run's terminal status transitions to an
// external bus. Optional: a nil Publisher in Collaborators disables
// publishing entirely.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, id jobmodel.RunId, status jobmodel.RunStatus) error
}

// Collaborators bundles everything the Loop needs to run a tick.
type Collaborators struct {
	Controller *jobrunner.Controller
	Runner     StepRunner

	// Elector gates ticking to a single replica across a fleet of
	// controller processes. Nil means "always leader" (a single-replica
	// deployment, e.g. the memory or sqlite store backends).
	Elector *lock.Elector

	Config   config.MaintainerConfig
	Timeouts config.TimeoutsConfig

	// Tracer and Metrics are both optional; a nil value disables the
	// corresponding instrumentation rather than panicking.
	Tracer  tracing.Tracer
	Metrics *tracing.MetricsCollector

	// Publisher is optional; see StatusPublisher.
	Publisher StatusPublisher

	Logger *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Loop is the running Maintainer.
type Loop struct {
	controller *jobrunner.Controller
	runner     StepRunner
	elector    *lock.Elector
	cfg        config.MaintainerConfig
	timeouts   config.TimeoutsConfig
	tracer     tracing.Tracer
	metrics    *tracing.MetricsCollector
	publisher  StatusPublisher
	logger     *slog.Logger
	now        func() time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// New constructs a Loop. Collaborators.Config.WorkerPoolSize <= 0 falls
// back to spec.md §5's fixed 32-worker pool.
func New(collab Collaborators) *Loop {
	if collab.Logger == nil {
		collab.Logger = slog.Default()
	}
	if collab.Now == nil {
		collab.Now = time.Now
	}
	if collab.Config.WorkerPoolSize <= 0 {
		collab.Config.WorkerPoolSize = 32
	}
	if collab.Config.TickInterval <= 0 {
		collab.Config.TickInterval = time.Second
	}

	l := &Loop{
		controller: collab.Controller,
		runner:     collab.Runner,
		elector:    collab.Elector,
		cfg:        collab.Config,
		timeouts:   collab.Timeouts,
		tracer:     collab.Tracer,
		metrics:    collab.Metrics,
		publisher:  collab.Publisher,
		logger:     collab.Logger.With(slog.String("component", "maintainer")),
		now:        collab.Now,
		sem:        make(chan struct{}, collab.Config.WorkerPoolSize),
	}
	if l.metrics != nil {
		l.metrics.SetWorkerPoolCapacity(collab.Config.WorkerPoolSize)
	}
	return l
}

// Run drives the maintainer until ctx is cancelled: a leader-gated tick
// every TickInterval, plus an out-of-band dispatch whenever deploy kicks a
// job between ticks (spec.md §4.5: "between ticks, deploy may directly
// enqueue one worker so manually deployed jobs don't wait for the next
// tick"). It blocks until every in-flight step worker has returned.
func (l *Loop) Run(ctx context.Context) {
	if l.elector != nil {
		l.elector.Start(ctx)
		defer l.elector.Stop()
	}

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return
		case <-ticker.C:
			if l.isLeader() {
				l.Tick(ctx)
			}
		case key, ok := <-l.controller.Kicks():
			if !ok {
				continue
			}
			if l.isLeader() {
				l.dispatchKey(ctx, key)
			}
		}
	}
}

func (l *Loop) isLeader() bool {
	return l.elector == nil || l.elector.IsLeader()
}

// Wait blocks until every step worker dispatched so far has returned. It
// exists for tests and for a clean Shutdown sequence; Tick itself never
// waits on its own dispatches (spec.md §4.5's dispatch is fire-and-forget
// from the tick's point of view).
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Tick performs one maintainer pass over every active run, implementing
// spec.md §4.5's four steps: enumerate, check timeout, walk ready steps,
// dispatch.
func (l *Loop) Tick(ctx context.Context) {
	runs, err := l.controller.ActiveRuns(ctx)
	if err != nil {
		l.logger.Error("failed to list active runs", slog.Any("error", err))
		return
	}
	for _, run := range runs {
		if l.metrics != nil {
			l.metrics.RecordRunStart(run.ID.String())
		}
		if run.Status == jobmodel.Running && l.now().Sub(run.Start) >= l.timeouts.Job {
			l.timeoutRun(ctx, run)
			continue
		}
		l.dispatchRun(ctx, run)
	}
}

// timeoutRun aborts a run that has run longer than the configured job
// timeout (spec.md §4.5 step 4).
func (l *Loop) timeoutRun(ctx context.Context, run jobmodel.Run) {
	if err := l.controller.Abort(ctx, run.ID); err != nil {
		l.logger.Error("failed to abort timed-out run",
			slog.String("run", run.ID.String()), slog.Any("error", err))
		return
	}
	l.logger.Warn("run exceeded job timeout, aborted",
		slog.String("run", run.ID.String()), slog.Duration("timeout", l.timeouts.Job))
	if l.metrics != nil {
		l.metrics.RecordRunEnd(run.ID.String())
	}
	l.publish(ctx, run.ID, jobmodel.Aborted)
}

func (l *Loop) dispatchRun(ctx context.Context, run jobmodel.Run) {
	for _, step := range run.ReadySteps() {
		l.dispatch(ctx, run.ID.Of(), step)
	}
}

// dispatchKey re-reads the named job's active run, if any, and dispatches
// its ready steps. Used for deploy's out-of-band kick between ticks.
func (l *Loop) dispatchKey(ctx context.Context, key jobmodel.JobKey) {
	run, active, err := l.controller.Active(ctx, key)
	if err != nil || !active {
		return
	}
	l.dispatchRun(ctx, run)
}

// dispatch claims a worker pool slot for one step, non-blocking: when the
// pool is saturated the step is simply left for the next tick rather than
// queued (spec.md §4.5 step 2).
func (l *Loop) dispatch(ctx context.Context, key jobmodel.JobKey, step jobmodel.Step) {
	select {
	case l.sem <- struct{}{}:
	default:
		return
	}
	if l.metrics != nil {
		l.metrics.IncrementBusyWorkers()
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.sem }()
		if l.metrics != nil {
			defer l.metrics.DecrementBusyWorkers()
		}
		l.runStep(ctx, key, step)
	}()
}

// runStep re-reads and locks the step inside the worker (spec.md §4.5 step
// 3's defensive re-check), calls the Step Runner, and folds the outcome
// back into the run.
func (l *Loop) runStep(ctx context.Context, key jobmodel.JobKey, step jobmodel.Step) {
	start := l.now()

	spanCtx := ctx
	var span tracing.SpanHandle
	if l.tracer != nil {
		spanCtx, span = l.tracer.Start(ctx, "jobrunner.step", tracing.WithSpanAttributes(map[string]any{
			"app_id":   key.Application.String(),
			"job_type": string(key.Type),
			"step":     step.String(),
		}))
		defer span.End()
	}

	var runID jobmodel.RunId
	outcome, err := l.controller.LockedStep(spanCtx, key, step, func(stepCtx context.Context, locked steprunner.LockedStep) steprunner.StepOutcome {
		runID = locked.Run.ID
		if span != nil {
			span.SetAttributes(map[string]any{"run_number": locked.Run.ID.Number})
		}
		return l.runner.Run(stepCtx, locked)
	})
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(tracing.StatusCodeError, err.Error())
		}
		l.logger.Error("step lock failed",
			slog.String("job", key.String()), slog.String("step", step.String()), slog.Any("error", err))
		return
	}
	if outcome == nil {
		// Not ready (unmet prerequisite) or claimed by another replica
		// between the tick's enumeration and this worker's lock attempt.
		return
	}

	label := "progress"
	if outcome.Status != nil {
		label = string(*outcome.Status)
	}
	if l.metrics != nil {
		l.metrics.RecordStepDispatch(ctx, step.String(), label, l.now().Sub(start))
	}
	if span != nil {
		span.SetAttributes(map[string]any{"outcome": label})
	}

	if err := l.controller.ApplyStepOutcome(spanCtx, runID, step, *outcome); err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(tracing.StatusCodeError, err.Error())
		}
		l.logger.Error("failed to apply step outcome",
			slog.String("run", runID.String()), slog.String("step", step.String()), slog.Any("error", err))
		return
	}
	if span != nil {
		span.SetStatus(tracing.StatusCodeOK, "")
	}

	l.reportIfEnded(ctx, key, runID)
}

// reportIfEnded checks whether folding the outcome finished the run and,
// if so, clears the active-run gauge and publishes its terminal status.
func (l *Loop) reportIfEnded(ctx context.Context, key jobmodel.JobKey, runID jobmodel.RunId) {
	run, err := l.controller.Last(ctx, key)
	if err != nil || !run.HasEnded() {
		return
	}
	if l.metrics != nil {
		l.metrics.RecordRunEnd(runID.String())
	}
	l.publish(ctx, runID, run.Status)
}

func (l *Loop) publish(ctx context.Context, id jobmodel.RunId, status jobmodel.RunStatus) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishStatus(ctx, id, status); err != nil {
		l.logger.Warn("failed to publish run status transition",
			slog.String("run", id.String()), slog.Any("error", err))
	}
}
