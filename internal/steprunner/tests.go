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

package steprunner

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// deploymentVanished reports whether err represents the config server no
// longer knowing about a deployment — the signal startTests/endTests use
// to decide the run's real deployment was torn down out from under it.
func deploymentVanished(err error) bool {
	var cfgErr *jobrunnererrors.ConfigServerError
	if errors.As(err, &cfgErr) {
		return cfgErr.StatusCode == http.StatusNotFound
	}
	return false
}

func suiteFor(jt jobmodel.JobType) string {
	switch jt {
	case jobmodel.JobStagingTest:
		return "staging"
	default:
		return "system"
	}
}

func (r *Runner) startTests(ctx context.Context, locked LockedStep, realDep, testerDep jobmodel.Deployment) (StepOutcome, error) {
	run := locked.Run

	if _, err := r.collab.ConfigServer.ConvergeServices(ctx, realDep, run.Versions.TargetPlatform); err != nil {
		if deploymentVanished(err) {
			aborted := jobmodel.Aborted
			return StepOutcome{Status: &aborted}, nil
		}
		return StepOutcome{}, err
	}

	age := r.now().Sub(run.Start)
	deadline := r.zoneBoundedTimeout(locked.Zone, r.collab.Timeouts.Endpoint)

	realEndpoints, err := r.collab.Routing.Endpoints(ctx, realDep)
	if err != nil {
		return StepOutcome{}, err
	}
	testerEndpoints, err := r.collab.Routing.Endpoints(ctx, testerDep)
	if err != nil {
		return StepOutcome{}, err
	}
	if len(realEndpoints) == 0 || len(testerEndpoints) == 0 {
		if age >= deadline {
			errStatus := jobmodel.Error
			return StepOutcome{Status: &errStatus}, nil
		}
		return StepOutcome{}, nil
	}
	testerURI := testerEndpoints[0].URL

	ready, err := r.collab.TesterCloud.Ready(ctx, testerURI)
	if err != nil {
		return StepOutcome{}, err
	}
	if !ready {
		if age >= deadline {
			errStatus := jobmodel.Error
			return StepOutcome{Status: &errStatus}, nil
		}
		return StepOutcome{}, nil
	}

	zoneEndpoints, err := r.collab.Routing.ClusterEndpoints(ctx, run.ID.Application, []jobmodel.Zone{locked.Zone})
	if err != nil {
		return StepOutcome{}, err
	}

	cfg := externals.TestConfig{
		Suite:         suiteFor(run.ID.Type),
		Application:   run.ID.Application,
		System:        locked.System,
		ZoneEndpoints: zoneEndpoints,
	}
	if err := r.collab.TesterCloud.StartTests(ctx, testerURI, cfg); err != nil {
		return StepOutcome{}, err
	}

	running := jobmodel.Running
	return StepOutcome{Status: &running}, nil
}

func (r *Runner) endTests(ctx context.Context, locked LockedStep, realDep, testerDep jobmodel.Deployment) (StepOutcome, error) {
	run := locked.Run

	if _, err := r.collab.ConfigServer.ConvergeServices(ctx, realDep, run.Versions.TargetPlatform); err != nil {
		if deploymentVanished(err) {
			aborted := jobmodel.Aborted
			return StepOutcome{Status: &aborted}, nil
		}
		return StepOutcome{}, err
	}

	if run.TesterCertPEM != "" {
		valid, err := certificateValid(run.TesterCertPEM, r.now())
		if err != nil {
			return StepOutcome{}, err
		}
		if !valid {
			aborted := jobmodel.Aborted
			return StepOutcome{Status: &aborted}, nil
		}
	}

	testerEndpoints, err := r.collab.Routing.Endpoints(ctx, testerDep)
	if err != nil {
		return StepOutcome{}, err
	}
	if len(testerEndpoints) == 0 {
		return StepOutcome{}, nil
	}
	testerURI := testerEndpoints[0].URL

	outcome := StepOutcome{}
	entries, err := r.collab.TesterCloud.GetLog(ctx, testerURI, run.LastTestLogEntry)
	if err != nil {
		return StepOutcome{}, err
	}
	if len(entries) > 0 {
		highWater, err := r.collab.Logs.Append(ctx, run.ID, entries)
		if err != nil {
			return StepOutcome{}, err
		}
		outcome.LastTestLogEntry = &highWater
	}

	status, err := r.collab.TesterCloud.GetStatus(ctx, testerURI)
	if err != nil {
		return StepOutcome{}, err
	}
	switch status {
	case externals.TestRunning:
		return outcome, nil
	case externals.TestSuccess:
		running := jobmodel.Running
		outcome.Status = &running
		return outcome, nil
	case externals.TestFailure:
		failed := jobmodel.TestFailure
		outcome.Status = &failed
		return outcome, nil
	case externals.TestError:
		errStatus := jobmodel.Error
		outcome.Status = &errStatus
		return outcome, nil
	case externals.TestNotStarted:
		return StepOutcome{}, fmt.Errorf("steprunner: tester reported NOT_STARTED after startTests committed: protocol violation")
	default:
		return StepOutcome{}, fmt.Errorf("steprunner: unrecognised tester status %q", status)
	}
}
