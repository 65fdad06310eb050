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

// Package jobrunner implements the Job Controller (spec.md §4.3): the
// public façade that owns run state, submission, lifecycle and locking
// discipline. It is the component the maintainer loop (internal/maintainer)
// drives on every tick, and the component cmd/hostedjobctl and
// internal/jobrunner/api ultimately call into.
//
// Everything here composes already-built collaborators: internal/store for
// durable run documents, internal/lock for the three lock scopes, internal/
// logstore for per-run logs, internal/externals for the config server,
// artifact store and mailer, and internal/steprunner for per-step
// execution. The controller itself holds no business logic about how a
// step behaves — only how runs are created, locked, folded and retired.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tombee/hostedjob/internal/config"
	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/lock"
	"github.com/tombee/hostedjob/internal/logstore"
	"github.com/tombee/hostedjob/internal/steprunner"
	"github.com/tombee/hostedjob/internal/store"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// allJobTypes is the fixed JobType enumeration the controller iterates when
// it has no single (ApplicationId, JobType) to scope to: unregister's
// sweep, collectGarbage's per-step idle check, and activeRuns.
var allJobTypes = []jobmodel.JobType{
	jobmodel.JobSystemTest,
	jobmodel.JobStagingTest,
	jobmodel.JobProductionUsEast3,
	jobmodel.JobProductionUsWest1,
	jobmodel.JobProductionEuWest1,
	jobmodel.JobDevUsEast1,
}

// productionJobTypes is the subset of allJobTypes submit consults to find
// the oldest build number still deployed, for artifact pruning.
var productionJobTypes = []jobmodel.JobType{
	jobmodel.JobProductionUsEast3,
	jobmodel.JobProductionUsWest1,
	jobmodel.JobProductionEuWest1,
}

// allSteps mirrors jobmodel's private step enumeration order; it is kept
// here rather than exported from jobmodel because only collectGarbage's
// idle sweep needs to walk every step regardless of any one run's profile.
var allSteps = []jobmodel.Step{
	jobmodel.DeployTester, jobmodel.InstallTester,
	jobmodel.DeployInitialReal, jobmodel.InstallInitialReal,
	jobmodel.DeployReal, jobmodel.InstallReal,
	jobmodel.StartTests, jobmodel.EndTests,
	jobmodel.CopyVespaLogs, jobmodel.DeactivateReal, jobmodel.DeactivateTester,
	jobmodel.Report,
}

// Collaborators bundles every durable and external dependency the
// controller needs. Constructed once per process and passed to New by
// value, mirroring steprunner.Collaborators.
type Collaborators struct {
	Store        store.Store
	Locks        *lock.Manager
	Logs         logstore.Store
	Artifacts    externals.ArtifactStore
	ConfigServer externals.ConfigServer

	Timeouts config.TimeoutsConfig
	History  config.HistoryConfig

	// Now returns the current time. Defaults to time.Now; tests override
	// it with a virtual clock to exercise timeout and history-age paths.
	Now func() time.Time

	Logger *slog.Logger
}

func (c Collaborators) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Controller is the Job Controller. It holds no run state itself; every
// read is a read-through to Store, and every write is a read-modify-write
// performed under the appropriate lock scope.
type Controller struct {
	collab   Collaborators
	registry *registry

	// kicks carries job keys that deploy() wants dispatched before the
	// next maintainer tick (spec.md §4.5: "Between ticks, deploy may
	// directly enqueue one worker"). Buffered and drained by
	// internal/maintainer; a full buffer just means the next regular tick
	// will pick the job up anyway, so sends never block.
	kicks chan jobmodel.JobKey
}

// New creates a Controller over the given collaborators.
func New(collab Collaborators) *Controller {
	if collab.Logger == nil {
		collab.Logger = slog.Default()
	}
	collab.Logger = collab.Logger.With(slog.String("component", "jobrunner"))
	return &Controller{
		collab:   collab,
		registry: newRegistry(),
		kicks:    make(chan jobmodel.JobKey, 64),
	}
}

func (c *Controller) now() time.Time { return c.collab.now() }

// Kicks returns the channel internal/maintainer drains to learn about
// deploy-triggered dispatches that should not wait for the next tick.
func (c *Controller) Kicks() <-chan jobmodel.JobKey {
	return c.kicks
}

func (c *Controller) kick(key jobmodel.JobKey) {
	select {
	case c.kicks <- key:
	default:
	}
}

func (c *Controller) lockJob(ctx context.Context, key jobmodel.JobKey) (store.Lease, error) {
	lease, err := c.collab.Locks.LockJob(ctx, key, c.collab.Timeouts.Lock)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			return nil, &jobrunnererrors.TimeoutError{Operation: "job lock " + key.String(), Duration: c.collab.Timeouts.Lock, Cause: err}
		}
		return nil, err
	}
	return lease, nil
}

// CreateApplication registers app with the controller: a supplement to
// spec.md §4.3's operation table (which starts from "application already
// known"), grounded in the end-to-end scenario text of spec.md §8
// ("Create application (tenant/real), submit with ..."). Re-registering an
// already-known application updates its notification spec without
// touching its submitted version history or run data.
func (c *Controller) CreateApplication(app jobmodel.ApplicationId, projectID string, notifications externals.NotificationSpec) {
	c.registry.register(app, projectID, notifications)
}

// Submit assigns app's next build number, stores both packages, prunes
// packages older than the oldest currently-deployed production build, and
// marks the application internally deployed (spec.md §4.3).
func (c *Controller) Submit(ctx context.Context, app jobmodel.ApplicationId, rev jobmodel.SourceRevision, authorEmail string, appPkg, testPkg []byte) (jobmodel.ApplicationVersion, error) {
	if !c.registry.known(app) {
		return jobmodel.ApplicationVersion{}, jobrunnererrors.ErrApplicationUnknown
	}

	version, err := c.registry.submitVersion(app, rev, authorEmail, c.now().UnixMilli())
	if err != nil {
		return jobmodel.ApplicationVersion{}, err
	}

	if err := c.collab.Artifacts.Put(ctx, app, version, appPkg); err != nil {
		return jobmodel.ApplicationVersion{}, jobrunnererrors.Wrap(err, "jobrunner: storing application package")
	}
	tester := externals.TesterId{Application: app}
	if err := c.collab.Artifacts.PutTester(ctx, tester, version, testPkg); err != nil {
		return jobmodel.ApplicationVersion{}, jobrunnererrors.Wrap(err, "jobrunner: storing tester package")
	}

	oldestKept, err := c.oldestDeployedVersion(ctx, app, version.BuildNumber)
	if err != nil {
		c.collab.Logger.Warn("could not determine oldest deployed build, skipping prune", slog.String("application", app.String()), slog.Any("error", err))
	} else if err := c.collab.Artifacts.Prune(ctx, app, oldestKept); err != nil {
		c.collab.Logger.Warn("pruning old artifacts failed", slog.String("application", app.String()), slog.Any("error", err))
	}

	// Higher-level triggering policy (what to submit, when to roll out) is
	// explicitly out of scope (spec.md §1); submit's only obligation here
	// is to surface that a new version exists for it to act on.
	c.collab.Logger.Info("submitted application version", slog.String("application", app.String()), slog.Int64("build_number", version.BuildNumber))

	return version, nil
}

// oldestDeployedVersion finds the lowest build number among the
// application's currently-recorded production runs, falling back to
// `latest` (nothing else to keep) when no production run has ever been
// written.
func (c *Controller) oldestDeployedVersion(ctx context.Context, app jobmodel.ApplicationId, latest int64) (jobmodel.ApplicationVersion, error) {
	var deployed []int64
	for _, jt := range productionJobTypes {
		run, err := c.collab.Store.ReadLastRun(ctx, jobmodel.JobKey{Application: app, Type: jt})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return jobmodel.ApplicationVersion{}, err
		}
		if n, err := strconv.ParseInt(run.Versions.TargetApplication, 10, 64); err == nil {
			deployed = append(deployed, n)
		}
	}
	return c.registry.oldestKept(app, deployed, latest), nil
}

// Start creates a fresh Run at the initial state under the (app, jobType)
// lock (spec.md §4.3).
func (c *Controller) Start(ctx context.Context, app jobmodel.ApplicationId, jobType jobmodel.JobType, versions jobmodel.Versions) (jobmodel.RunId, error) {
	key := jobmodel.JobKey{Application: app, Type: jobType}

	lease, err := c.lockJob(ctx, key)
	if err != nil {
		return jobmodel.RunId{}, err
	}
	defer lease.Release(ctx)

	last, err := c.collab.Store.ReadLastRun(ctx, key)
	switch {
	case err == nil && last.IsActive():
		return jobmodel.RunId{}, jobrunnererrors.ErrAlreadyRunning
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return jobmodel.RunId{}, err
	}

	if !jobType.IsManuallyDeployed() {
		buildNumber, perr := strconv.ParseInt(versions.TargetApplication, 10, 64)
		if perr != nil {
			return jobmodel.RunId{}, jobrunnererrors.ErrInvalidVersions
		}
		if _, ok := c.registry.version(app, buildNumber); !ok {
			return jobmodel.RunId{}, jobrunnererrors.ErrInvalidVersions
		}
	}

	number, err := c.collab.Store.NextRunNumber(ctx, key)
	if err != nil {
		return jobmodel.RunId{}, err
	}

	id := jobmodel.RunId{Application: app, Type: jobType, Number: number}
	run := jobmodel.NewRun(id, versions, c.now())
	if err := c.collab.Store.WriteLastRun(ctx, key, run); err != nil {
		return jobmodel.RunId{}, err
	}
	return id, nil
}

// Deploy aborts and waits for any active run of the same manually deployed
// job type, stores pkg under a dev key, starts a synthetic run, and kicks
// the maintainer so the new run need not wait for the next tick (spec.md
// §4.3).
func (c *Controller) Deploy(ctx context.Context, app jobmodel.ApplicationId, jobType jobmodel.JobType, platformVersion string, pkg []byte) (jobmodel.RunId, error) {
	if !jobType.IsManuallyDeployed() {
		return jobmodel.RunId{}, jobrunnererrors.ErrNotManuallyDeployed
	}
	key := jobmodel.JobKey{Application: app, Type: jobType}

	if err := c.abortAndWait(ctx, key); err != nil {
		return jobmodel.RunId{}, err
	}

	zone := jobmodel.ZoneFor(jobType)
	if err := c.collab.Artifacts.PutDev(ctx, app, zone, pkg); err != nil {
		return jobmodel.RunId{}, jobrunnererrors.Wrap(err, "jobrunner: storing dev package")
	}

	id, err := c.Start(ctx, app, jobType, jobmodel.Versions{TargetPlatform: platformVersion, TargetApplication: "dev"})
	if err != nil {
		return jobmodel.RunId{}, err
	}
	c.kick(key)
	return id, nil
}

// abortAndWait marks any active run of key aborted, then polls until it is
// no longer active (the maintainer's next tick or two will have folded the
// abort and run its cleanup steps) or the job timeout elapses.
func (c *Controller) abortAndWait(ctx context.Context, key jobmodel.JobKey) error {
	if err := c.abortActive(ctx, key); err != nil {
		return err
	}

	deadline := c.now().Add(c.collab.Timeouts.Job)
	for {
		last, err := c.collab.Store.ReadLastRun(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return err
		case last.HasEnded():
			return nil
		}

		if c.now().After(deadline) {
			return &jobrunnererrors.TimeoutError{Operation: "deploy: waiting for prior run to end", Duration: c.collab.Timeouts.Job}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (c *Controller) abortActive(ctx context.Context, key jobmodel.JobKey) error {
	lease, err := c.lockJob(ctx, key)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	run, err := c.collab.Store.ReadLastRun(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !run.IsActive() {
		return nil
	}
	return c.collab.Store.WriteLastRun(ctx, key, run.Aborted())
}

// Abort sets id's RunStatus to aborted if id is the job's current last
// (and therefore only possibly active) run. Idempotent: aborting an
// already-terminal or already-historic run has no effect (spec.md §8,
// testable property 7).
func (c *Controller) Abort(ctx context.Context, id jobmodel.RunId) error {
	key := id.Of()
	lease, err := c.lockJob(ctx, key)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	run, err := c.collab.Store.ReadLastRun(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if run.ID != id {
		return nil
	}
	return c.collab.Store.WriteLastRun(ctx, key, run.Aborted())
}

// Unregister marks app not internally deployed and aborts any of its
// active runs; destruction of its run data is deferred to CollectGarbage
// (spec.md §4.3).
func (c *Controller) Unregister(ctx context.Context, app jobmodel.ApplicationId) error {
	c.registry.unregister(app)
	for _, jt := range allJobTypes {
		if err := c.abortActive(ctx, jobmodel.JobKey{Application: app, Type: jt}); err != nil {
			return err
		}
	}
	return nil
}

// CollectGarbage destroys run data and logs for every application that has
// persisted job data but is not currently registered. Applications whose
// step locks cannot all be confirmed idle are skipped and retried on the
// next call (spec.md §4.3).
func (c *Controller) CollectGarbage(ctx context.Context) error {
	apps, err := c.collab.Store.ApplicationsWithJobs(ctx)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if c.registry.internallyDeployedState(app) {
			continue
		}
		if err := c.collectApplication(ctx, app); err != nil {
			c.collab.Logger.Warn("collectGarbage: skipping application this cycle", slog.String("application", app.String()), slog.Any("error", err))
		}
	}
	return nil
}

func (c *Controller) collectApplication(ctx context.Context, app jobmodel.ApplicationId) error {
	for _, jt := range allJobTypes {
		key := jobmodel.JobKey{Application: app, Type: jt}
		for _, s := range allSteps {
			lease, err := c.collab.Locks.LockStep(ctx, key, s, c.collab.Timeouts.Lock)
			if err != nil {
				return fmt.Errorf("jobrunner: confirming %s/%s idle: %w", key, s, err)
			}
			if err := lease.Release(ctx); err != nil {
				return err
			}
		}
	}

	testerApp := jobmodel.ApplicationId{Tenant: app.Tenant, Application: app.Application, Instance: app.Instance + "-tester"}
	for _, jt := range []jobmodel.JobType{jobmodel.JobSystemTest, jobmodel.JobStagingTest} {
		dep := jobmodel.Deployment{Application: testerApp, Zone: jobmodel.ZoneFor(jt)}
		if err := c.collab.ConfigServer.Deactivate(ctx, dep); err != nil {
			c.collab.Logger.Warn("collectGarbage: deactivating tester deployment failed", slog.String("deployment", dep.String()), slog.Any("error", err))
		}
	}

	for _, jt := range allJobTypes {
		key := jobmodel.JobKey{Application: app, Type: jt}
		for _, id := range c.runIDs(ctx, key) {
			if err := c.collab.Logs.Delete(ctx, id); err != nil {
				c.collab.Logger.Warn("collectGarbage: deleting log failed", slog.String("run", id.String()), slog.Any("error", err))
			}
		}
	}

	return c.collab.Store.DeleteRunData(ctx, app, nil)
}

func (c *Controller) runIDs(ctx context.Context, key jobmodel.JobKey) []jobmodel.RunId {
	var ids []jobmodel.RunId
	if last, err := c.collab.Store.ReadLastRun(ctx, key); err == nil {
		ids = append(ids, last.ID)
	}
	if historic, err := c.collab.Store.ReadHistoricRuns(ctx, key); err == nil {
		for _, r := range historic {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Log appends entries to id's active log buffer.
func (c *Controller) Log(ctx context.Context, id jobmodel.RunId, entries []jobmodel.LogEntry) error {
	_, err := c.collab.Logs.Append(ctx, id, entries)
	return err
}

// UpdateTestLog polls testerCloud at testerURI for any test log entries
// since id's high-water mark, appends them, and advances the mark under
// the run lock — an out-of-band equivalent of what endTests already does
// once per tick, used to serve a live log tail without waiting for the
// maintainer (spec.md §4.3).
func (c *Controller) UpdateTestLog(ctx context.Context, id jobmodel.RunId, testerCloud externals.TesterCloud, testerURI string) (int64, error) {
	key := id.Of()
	lease, err := c.lockJob(ctx, key)
	if err != nil {
		return 0, err
	}
	defer lease.Release(ctx)

	run, err := c.collab.Store.ReadLastRun(ctx, key)
	if err != nil {
		return 0, err
	}
	if run.ID != id {
		return 0, &jobrunnererrors.NotFoundError{Resource: "run", ID: id.String()}
	}

	entries, err := testerCloud.GetLog(ctx, testerURI, run.LastTestLogEntry)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return run.LastTestLogEntry, nil
	}

	highWater, err := c.collab.Logs.Append(ctx, id, entries)
	if err != nil {
		return 0, err
	}
	run = run.WithTestLogEntry(highWater)
	if err := c.collab.Store.WriteLastRun(ctx, key, run); err != nil {
		return 0, err
	}
	return highWater, nil
}

// ReadLog returns id's log entries with ID > after, checking the active
// buffer first and falling back to the archived log once the run has
// been flushed (by the report step, cleanup's final step, in steprunner).
func (c *Controller) ReadLog(ctx context.Context, id jobmodel.RunId, after int64) ([]jobmodel.LogEntry, error) {
	entries, err := c.collab.Logs.ReadActive(ctx, id, after)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		return entries, nil
	}
	archived, err := c.collab.Logs.ReadFinished(ctx, id)
	if err != nil {
		if err == logstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var out []jobmodel.LogEntry
	for _, e := range archived {
		if e.ID > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// Last returns the job key's active-or-most-recently-finished run.
func (c *Controller) Last(ctx context.Context, key jobmodel.JobKey) (jobmodel.Run, error) {
	return c.collab.Store.ReadLastRun(ctx, key)
}

// Active returns key's run and true if it is currently active, or the
// zero Run and false if there is none or it has ended.
func (c *Controller) Active(ctx context.Context, key jobmodel.JobKey) (jobmodel.Run, bool, error) {
	run, err := c.collab.Store.ReadLastRun(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jobmodel.Run{}, false, nil
		}
		return jobmodel.Run{}, false, err
	}
	return run, run.IsActive(), nil
}

// Runs returns every run the controller still holds for key, historic runs
// plus the last slot, keyed by RunId.Number.
func (c *Controller) Runs(ctx context.Context, key jobmodel.JobKey) (map[int64]jobmodel.Run, error) {
	runs, err := c.collab.Store.ReadHistoricRuns(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]jobmodel.Run, len(runs)+1)
	for n, r := range runs {
		out[n] = r
	}
	if last, err := c.collab.Store.ReadLastRun(ctx, key); err == nil {
		out[last.ID.Number] = last
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return out, nil
}

// Details returns a single run by id, searching the last slot then the
// historic map.
func (c *Controller) Details(ctx context.Context, id jobmodel.RunId) (jobmodel.Run, error) {
	key := id.Of()
	if last, err := c.collab.Store.ReadLastRun(ctx, key); err == nil && last.ID == id {
		return last, nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return jobmodel.Run{}, err
	}

	historic, err := c.collab.Store.ReadHistoricRuns(ctx, key)
	if err != nil {
		return jobmodel.Run{}, err
	}
	if run, ok := historic[id.Number]; ok {
		return run, nil
	}
	return jobmodel.Run{}, &jobrunnererrors.NotFoundError{Resource: "run", ID: id.String()}
}

// ActiveRuns enumerates every currently active run across every
// application with persisted job data — the first step of the maintainer's
// tick (spec.md §4.5).
func (c *Controller) ActiveRuns(ctx context.Context) ([]jobmodel.Run, error) {
	apps, err := c.collab.Store.ApplicationsWithJobs(ctx)
	if err != nil {
		return nil, err
	}
	var runs []jobmodel.Run
	for _, app := range apps {
		for _, jt := range allJobTypes {
			run, err := c.collab.Store.ReadLastRun(ctx, jobmodel.JobKey{Application: app, Type: jt})
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, err
			}
			if run.IsActive() {
				runs = append(runs, run)
			}
		}
	}
	return runs, nil
}

// LockedRun is locked(RunId, fn) from spec.md §4.3: it acquires the run
// lock, and, if id is still the job's active last run, applies fn and
// writes the result back. If fn's result is ready to finish, it is marked
// finished and moved into the historic map in the same critical section
// (spec.md §4.3's "History maintenance").
func (c *Controller) LockedRun(ctx context.Context, id jobmodel.RunId, fn func(jobmodel.Run) jobmodel.Run) error {
	key := id.Of()
	lease, err := c.lockJob(ctx, key)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	run, err := c.collab.Store.ReadLastRun(ctx, key)
	if err != nil {
		return err
	}
	if run.ID != id || run.HasEnded() {
		return nil
	}

	next := fn(run)
	if !next.HasEnded() && next.ReadyToFinish() {
		next = next.Finished(c.now())
	}

	if err := c.collab.Store.WriteLastRun(ctx, key, next); err != nil {
		return err
	}
	if next.HasEnded() {
		return c.archive(ctx, key, next)
	}
	return nil
}

// archive moves a just-finished run into the historic map and evicts
// anything past the history length or max age, deleting each evicted
// entry's log first (spec.md §4.3, "History maintenance").
func (c *Controller) archive(ctx context.Context, key jobmodel.JobKey, run jobmodel.Run) error {
	historic, err := c.collab.Store.ReadHistoricRuns(ctx, key)
	if err != nil {
		return err
	}
	if historic == nil {
		historic = make(map[int64]jobmodel.Run)
	}
	historic[run.ID.Number] = run

	cutoffNumber := run.ID.Number - int64(c.collab.History.Length)
	cutoffAge := c.now().Add(-c.collab.History.MaxAge)
	for n, r := range historic {
		if n > cutoffNumber && !r.Start.Before(cutoffAge) {
			continue
		}
		if err := c.collab.Logs.Delete(ctx, r.ID); err != nil {
			c.collab.Logger.Warn("archive: deleting evicted run's log failed", slog.String("run", r.ID.String()), slog.Any("error", err))
		}
		delete(historic, n)
	}

	return c.collab.Store.WriteHistoricRuns(ctx, key, historic)
}

// ApplyStepOutcome folds a steprunner.StepOutcome into run id's current
// state under the run lock — the "fold the result into the run and
// persist" half of the maintainer's per-step dispatch (spec.md §4.5).
func (c *Controller) ApplyStepOutcome(ctx context.Context, id jobmodel.RunId, step jobmodel.Step, outcome steprunner.StepOutcome) error {
	return c.LockedRun(ctx, id, func(run jobmodel.Run) jobmodel.Run {
		if outcome.Status != nil {
			run = run.With(*outcome.Status, step)
		}
		if outcome.LastTestLogEntry != nil {
			run = run.WithTestLogEntry(*outcome.LastTestLogEntry)
		}
		if outcome.CertificatePEM != nil {
			if next, err := run.WithCertificate(*outcome.CertificatePEM); err != nil {
				c.collab.Logger.Warn("ignoring duplicate certificate", slog.String("run", id.String()), slog.Any("error", err))
			} else {
				run = next
			}
		}
		return run
	})
}

// LockedStep is locked(AppId, JobType, Step, fn) from spec.md §4.3: it
// acquires the step lock, confirms every prerequisite is idle, re-reads
// the run and re-confirms the step is still ready (the maintainer's
// "defensive check"), builds the LockedStep value, and runs fn against it.
// A nil, nil result means the step was no longer ready by the time the
// lock was acquired — the caller should simply move on.
func (c *Controller) LockedStep(ctx context.Context, key jobmodel.JobKey, step jobmodel.Step, fn func(context.Context, steprunner.LockedStep) steprunner.StepOutcome) (*steprunner.StepOutcome, error) {
	lease, err := c.collab.Locks.LockStep(ctx, key, step, c.collab.Timeouts.Lock)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			return nil, &jobrunnererrors.TimeoutError{Operation: fmt.Sprintf("step lock %s/%s", key, step), Duration: c.collab.Timeouts.Lock, Cause: err}
		}
		return nil, err
	}
	defer lease.Release(ctx)

	if err := c.collab.Locks.ConfirmPrerequisitesIdle(ctx, key, jobmodel.Prerequisites(step), c.collab.Timeouts.Lock); err != nil {
		return nil, err
	}

	run, err := c.collab.Store.ReadLastRun(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	ready := false
	for _, s := range run.ReadySteps() {
		if s == step {
			ready = true
			break
		}
	}
	if !ready {
		return nil, nil
	}

	locked, err := c.buildLockedStep(ctx, run, step)
	if err != nil {
		return nil, err
	}

	outcome := fn(ctx, locked)
	return &outcome, nil
}

// systemFor names the test system a job type's zone belongs to. The
// controller's zone table (internal/config) models only public-facing
// zones, so every test job is treated as targeting the public system; §9's
// open question about non-public systems is resolved the same way the
// spec leaves it — absence of a "cd" system zone means the public-system
// certificate check always applies, never a silent skip.
func systemFor(jt jobmodel.JobType) string {
	return "public"
}

func (c *Controller) buildLockedStep(ctx context.Context, run jobmodel.Run, step jobmodel.Step) (steprunner.LockedStep, error) {
	zone := jobmodel.ZoneFor(run.ID.Type)
	locked := steprunner.LockedStep{
		Step:          step,
		Run:           run,
		Zone:          zone,
		System:        systemFor(run.ID.Type),
		Notifications: c.registry.notificationSpec(run.ID.Application),
	}

	if buildNumber, err := strconv.ParseInt(run.Versions.TargetApplication, 10, 64); err == nil {
		if v, ok := c.registry.version(run.ID.Application, buildNumber); ok {
			locked.AuthorEmail = v.AuthorEmail
		}
	}

	if step == jobmodel.DeployReal || step == jobmodel.DeployInitialReal {
		buildNumStr := run.Versions.TargetApplication
		if step == jobmodel.DeployInitialReal && run.Versions.Staged() {
			buildNumStr = run.Versions.SourceApplication
		}

		var pkg []byte
		var err error
		if buildNumStr == "dev" {
			pkg, err = c.collab.Artifacts.GetDev(ctx, run.ID.Application, zone)
		} else {
			buildNumber, perr := strconv.ParseInt(buildNumStr, 10, 64)
			if perr != nil {
				return steprunner.LockedStep{}, fmt.Errorf("jobrunner: %q is not a build number: %w", buildNumStr, perr)
			}
			pkg, err = c.collab.Artifacts.GetApplication(ctx, run.ID.Application, jobmodel.ApplicationVersion{BuildNumber: buildNumber})
		}
		if err != nil {
			return steprunner.LockedStep{}, err
		}
		locked.Package = pkg
	}

	return locked, nil
}
