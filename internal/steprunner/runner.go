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

// Package steprunner implements the per-step execution contract the
// maintainer loop dispatches onto its worker pool: given one locked step
// of one run, decide the step's outcome — or report that it isn't
// decidable yet and should be retried on the next tick.
//
// Every exported behaviour here is a thin switch over jobmodel.Step; the
// collaborators it calls (config server, tester cloud, routing, artifact
// store, mailer, log store) are all declared in internal/externals and
// internal/logstore, and are injected so tests substitute fakes for all
// five.
package steprunner

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/hostedjob/internal/config"
	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/logstore"
)

// Collaborators bundles every external system and timeout table the step
// runner needs. None of these are process-wide singletons; a Runner is
// constructed once per controller instance and passed its Collaborators
// by value.
type Collaborators struct {
	ConfigServer  externals.ConfigServer
	TesterCloud   externals.TesterCloud
	Routing       externals.Routing
	ArtifactStore externals.ArtifactStore
	Mailer        externals.Mailer
	Logs          logstore.Store

	Timeouts config.TimeoutsConfig

	// ZoneTTL optionally shortens the deployment-age clock for a zone
	// whose own allocation TTL is smaller than the installation timeout,
	// so logs can still be copied before the zone reclaims the
	// deployment (§4.4). Zones absent from this map use Timeouts
	// unshortened.
	ZoneTTL map[jobmodel.Zone]time.Duration

	// Now returns the current time. Defaults to time.Now; tests override
	// it with a virtual clock to exercise the timeout paths.
	Now func() time.Time

	Logger *slog.Logger
}

func (c Collaborators) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// LockedStep is the input to Run: the step to execute, a snapshot of its
// run taken immediately after acquiring the step lock, the zone the run
// deploys to, and the few pieces of submission-time context the Run value
// itself does not carry (the package bytes a deploy step installs, and
// the author email / notification spec report needs to build a failure
// mail). None of these cross a lock boundary on their own — they are
// read once by the caller under the job lock and handed in whole.
type LockedStep struct {
	Step Step
	Run  jobmodel.Run
	Zone jobmodel.Zone

	// System names the test system ("public" or "cd") a test job target's
	// zone belongs to; only public systems mint a tester certificate.
	System string

	// Package is the application (or, for deployTester, unused — the
	// tester package is fetched from the artifact store instead) package
	// bytes to submit. Populated only for deploy steps.
	Package []byte

	// AuthorEmail is the target application version's author, used by
	// report to resolve the "author" notification role.
	AuthorEmail string

	// Notifications is the application's notification spec, used by
	// report to resolve failure-mail recipients.
	Notifications externals.NotificationSpec
}

// Step aliases jobmodel.Step so LockedStep's field type doesn't need a
// second import qualifier; step constants themselves still live on
// jobmodel (jobmodel.DeployTester, and so on).
type Step = jobmodel.Step

// StepOutcome is what running one step decided. A zero value (Status ==
// nil) means "no decision yet, retry on the next tick" — jobmodel.Run
// itself is never mutated here; the caller folds a non-nil field into the
// Run via With / WithTestLogEntry / WithCertificate under the job lock.
type StepOutcome struct {
	// Status, if set, is folded into the run via Run.With(*Status, step).
	Status *jobmodel.RunStatus

	// LastTestLogEntry, if set, advances the run's log high-water mark
	// via Run.WithTestLogEntry.
	LastTestLogEntry *int64

	// CertificatePEM, if set, is recorded via Run.WithCertificate. Only
	// ever set once, by deployTester, for a public-system test job.
	CertificatePEM *string
}

// Runner executes one locked step at a time. It holds no run state of its
// own between calls.
type Runner struct {
	collab Collaborators
}

// New creates a Runner over the given collaborators.
func New(collab Collaborators) *Runner {
	if collab.Logger == nil {
		collab.Logger = slog.Default()
	}
	collab.Logger = collab.Logger.With(slog.String("component", "steprunner"))
	return &Runner{collab: collab}
}

func (r *Runner) now() time.Time { return r.collab.now() }

// Run executes locked.Step against locked.Run's current snapshot. Per
// §4.4/§7: an unexpected error from a collaborator call becomes the
// `error` outcome for an ordinary step, and a silent retry for an
// always-run (cleanup) step — neither ever escapes to the caller as a Go
// error, matching the step runner's "errors never cross a run boundary"
// propagation policy.
func (r *Runner) Run(ctx context.Context, locked LockedStep) StepOutcome {
	outcome, err := r.dispatch(ctx, locked)
	if err == nil {
		return outcome
	}

	r.collab.Logger.Error("step failed",
		slog.String("run", locked.Run.ID.String()),
		slog.String("step", locked.Step.String()),
		slog.Any("error", err))

	if locked.Run.Profile.IsAlwaysRun(locked.Step) {
		return StepOutcome{}
	}
	failed := jobmodel.Error
	return StepOutcome{Status: &failed}
}

func (r *Runner) dispatch(ctx context.Context, locked LockedStep) (StepOutcome, error) {
	run := locked.Run
	realDep := jobmodel.Deployment{Application: run.ID.Application, Zone: locked.Zone}
	testerDep := testerDeployment(run.ID.Application, locked.Zone)

	switch locked.Step {
	case jobmodel.DeployTester:
		return r.deployTester(ctx, locked, testerDep)
	case jobmodel.InstallTester:
		return r.install(ctx, locked, testerDep, run.Versions.TargetPlatform, true)
	case jobmodel.DeployInitialReal:
		return r.deployReal(ctx, locked, realDep, true)
	case jobmodel.InstallInitialReal:
		platform := run.Versions.TargetPlatform
		if run.Versions.Staged() {
			platform = run.Versions.SourcePlatform
		}
		return r.install(ctx, locked, realDep, platform, false)
	case jobmodel.DeployReal:
		return r.deployReal(ctx, locked, realDep, false)
	case jobmodel.InstallReal:
		return r.install(ctx, locked, realDep, run.Versions.TargetPlatform, false)
	case jobmodel.StartTests:
		return r.startTests(ctx, locked, realDep, testerDep)
	case jobmodel.EndTests:
		return r.endTests(ctx, locked, realDep, testerDep)
	case jobmodel.CopyVespaLogs:
		return r.copyVespaLogs(ctx, locked, realDep)
	case jobmodel.DeactivateReal:
		return r.deactivate(ctx, realDep)
	case jobmodel.DeactivateTester:
		return r.deactivate(ctx, testerDep)
	case jobmodel.Report:
		return r.report(ctx, locked)
	default:
		return StepOutcome{}, stepUnknownError(locked.Step)
	}
}

// testerDeployment derives the tester container's own deployment address
// from the application it tests: same tenant/application, an "-tester"
// suffixed instance, same zone. externals.TesterId.FullForm renders the
// same identity in dotted form for certificate CNs and artifact keys.
func testerDeployment(app jobmodel.ApplicationId, zone jobmodel.Zone) jobmodel.Deployment {
	return jobmodel.Deployment{
		Application: jobmodel.ApplicationId{
			Tenant:      app.Tenant,
			Application: app.Application,
			Instance:    app.Instance + "-tester",
		},
		Zone: zone,
	}
}
