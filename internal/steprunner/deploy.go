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
	"log/slog"
	"strconv"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

func buildNumberOf(version string) (int64, error) {
	n, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("steprunner: %q is not a build number: %w", version, err)
	}
	return n, nil
}

func stepUnknownError(s jobmodel.Step) error {
	return fmt.Errorf("steprunner: no behaviour registered for step %s", s)
}

// classifyDeployError applies the shared deploy-error policy (§4.4) to an
// error returned from ConfigServer.Deploy. A nil status with a nil error
// means "retry next tick"; a nil status with a non-nil error means the
// caller should treat this as an unexpected failure. An unrecognised
// *externals.DeployRejected code, or any error that isn't a
// DeployRejected at all, is rethrown rather than guessed at.
func classifyDeployError(jt jobmodel.JobType, err error) (*jobmodel.RunStatus, error) {
	var rejected *externals.DeployRejected
	if !errors.As(err, &rejected) {
		return nil, err
	}

	switch rejected.Code {
	case externals.ErrActivationConflict,
		externals.ErrApplicationLockFailure,
		externals.ErrParentHostNotReady,
		externals.ErrCertificateNotReady,
		externals.ErrLoadBalancerNotReady:
		return nil, nil

	case externals.ErrOutOfCapacity:
		if jt.IsProduction() {
			status := jobmodel.OutOfCapacity
			return &status, nil
		}
		return nil, nil

	case externals.ErrInvalidApplicationPkg, externals.ErrBadRequest:
		status := jobmodel.DeploymentFailed
		return &status, nil

	default:
		return nil, rejected
	}
}

// handleChangeActions inspects a prepare response's change actions: a
// disallowed refeed fails the deploy outright; every distinct restart
// host is restarted exactly once.
func handleChangeActions(ctx context.Context, cs externals.ConfigServer, dep jobmodel.Deployment, actions []externals.ConfigChangeAction, logger *slog.Logger) error {
	for _, a := range actions {
		if a.Type == externals.ChangeActionRefeed && !a.Allowed {
			return fmt.Errorf("steprunner: refeed change %q not allowed: %s", a.Name, a.Message)
		}
	}

	restarted := make(map[string]bool)
	for _, a := range actions {
		if a.Type != externals.ChangeActionRestart || restarted[a.Host] {
			continue
		}
		if err := cs.Restart(ctx, dep, a.Host); err != nil {
			return err
		}
		restarted[a.Host] = true
		logger.Info("restarted host for config change", slog.String("host", a.Host))
	}
	return nil
}

func (r *Runner) deployTester(ctx context.Context, locked LockedStep, dep jobmodel.Deployment) (StepOutcome, error) {
	run := locked.Run
	testerID := externals.TesterId{Application: run.ID.Application}

	buildNumber, err := buildNumberOf(run.Versions.TargetApplication)
	if err != nil {
		return StepOutcome{}, err
	}
	pkg, err := r.collab.ArtifactStore.Get(ctx, testerID, jobmodel.ApplicationVersion{BuildNumber: buildNumber})
	if err != nil {
		return StepOutcome{}, err
	}

	resp, err := r.collab.ConfigServer.Deploy(ctx, dep, run.Versions.TargetPlatform, pkg, externals.DeployOptions{})
	if err != nil {
		status, rerr := classifyDeployError(run.ID.Type, err)
		return StepOutcome{Status: status}, rerr
	}
	if err := handleChangeActions(ctx, r.collab.ConfigServer, dep, resp.ChangeActions, r.collab.Logger); err != nil {
		r.collab.Logger.Error("deployTester change action rejected", slog.Any("error", err))
		status := jobmodel.DeploymentFailed
		return StepOutcome{Status: &status}, nil
	}

	outcome := StepOutcome{}
	if locked.System == "public" && run.TesterCertPEM == "" &&
		(run.ID.Type == jobmodel.JobSystemTest || run.ID.Type == jobmodel.JobStagingTest) {
		pemStr, err := mintTesterCertificate(testerID, run.ID.Type, run.ID.Number, r.collab.Timeouts.Certificate, r.now())
		if err != nil {
			return StepOutcome{}, err
		}
		outcome.CertificatePEM = &pemStr
	}

	running := jobmodel.Running
	outcome.Status = &running
	return outcome, nil
}

// deployReal handles both deployReal (setStage=false, always targets
// TargetPlatform) and deployInitialReal (setStage=true, targets
// SourcePlatform when this run stages an upgrade, else falls back to
// TargetPlatform like an ordinary deploy).
func (r *Runner) deployReal(ctx context.Context, locked LockedStep, dep jobmodel.Deployment, setStage bool) (StepOutcome, error) {
	run := locked.Run
	platform := run.Versions.TargetPlatform
	if setStage && run.Versions.Staged() {
		platform = run.Versions.SourcePlatform
	}

	resp, err := r.collab.ConfigServer.Deploy(ctx, dep, platform, locked.Package, externals.DeployOptions{})
	if err != nil {
		status, rerr := classifyDeployError(run.ID.Type, err)
		return StepOutcome{Status: status}, rerr
	}
	if err := handleChangeActions(ctx, r.collab.ConfigServer, dep, resp.ChangeActions, r.collab.Logger); err != nil {
		r.collab.Logger.Error("deploy change action rejected", slog.Any("error", err))
		status := jobmodel.DeploymentFailed
		return StepOutcome{Status: &status}, nil
	}

	running := jobmodel.Running
	return StepOutcome{Status: &running}, nil
}
