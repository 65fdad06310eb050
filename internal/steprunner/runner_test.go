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

package steprunner_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/config"
	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/jobrunner/jobrunnertest"
	"github.com/tombee/hostedjob/internal/logstore/memory"
	"github.com/tombee/hostedjob/internal/steprunner"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// deployErrConfigServer scripts a ConfigServer whose Deploy call always
// fails with err; used for the out-of-capacity and unexpected-error cases.
func deployErrConfigServer(err error) *jobrunnertest.ConfigServer {
	return &jobrunnertest.ConfigServer{
		DeployFunc: func(ctx context.Context, dep jobmodel.Deployment, platform string, pkg []byte, opts externals.DeployOptions) (externals.PrepareResponse, error) {
			return externals.PrepareResponse{}, err
		},
	}
}

// deactivateErrConfigServer scripts a ConfigServer whose Deactivate call
// always fails with err.
func deactivateErrConfigServer(err error) *jobrunnertest.ConfigServer {
	return &jobrunnertest.ConfigServer{
		DeactivateFunc: func(ctx context.Context, dep jobmodel.Deployment) error { return err },
	}
}

// vanishedConfigServer reports the real deployment gone: ConvergeServices
// returns a 404-flavoured ConfigServerError.
func vanishedConfigServer() *jobrunnertest.ConfigServer {
	return &jobrunnertest.ConfigServer{
		ConvergeServicesFunc: func(ctx context.Context, dep jobmodel.Deployment, wantedPlatform string) (externals.ConvergenceReport, error) {
			return externals.ConvergenceReport{}, &jobrunnererrors.ConfigServerError{Operation: "convergeServices", StatusCode: http.StatusNotFound}
		},
	}
}

func testRun(jt jobmodel.JobType) jobmodel.Run {
	id := jobmodel.RunId{
		Application: jobmodel.ApplicationId{Tenant: "tenant1", Application: "app1", Instance: "default"},
		Type:        jt,
		Number:      1,
	}
	return jobmodel.NewRun(id, jobmodel.Versions{TargetPlatform: "1.2.3", TargetApplication: "321"}, time.Unix(0, 0))
}

func TestDeployTesterAcceptsAndMintsCertificateForPublicSystemTest(t *testing.T) {
	run := testRun(jobmodel.JobSystemTest)
	cs := &jobrunnertest.ConfigServer{}
	runner := steprunner.New(steprunner.Collaborators{
		ConfigServer:  cs,
		ArtifactStore: &jobrunnertest.ArtifactStore{Pkg: []byte("tester-package")},
		Logs:          memory.New(),
		Timeouts:      config.DefaultTimeouts(),
	})

	outcome := runner.Run(context.Background(), steprunner.LockedStep{
		Step:   jobmodel.DeployTester,
		Run:    run,
		Zone:   jobmodel.ZoneFor(jobmodel.JobSystemTest),
		System: "public",
	})

	require.NotNil(t, outcome.Status)
	assert.Equal(t, jobmodel.Running, *outcome.Status)
	require.NotNil(t, outcome.CertificatePEM)
	assert.Contains(t, *outcome.CertificatePEM, "BEGIN CERTIFICATE")
}

func TestDeployRealRestartsEachHostOnceAndFailsOnDisallowedRefeed(t *testing.T) {
	run := testRun(jobmodel.JobProductionUsEast3)
	var restarts []string
	cs := &jobrunnertest.ConfigServer{
		DeployFunc: func(ctx context.Context, dep jobmodel.Deployment, platform string, pkg []byte, opts externals.DeployOptions) (externals.PrepareResponse, error) {
			return externals.PrepareResponse{
				ChangeActions: []externals.ConfigChangeAction{
					{Type: externals.ChangeActionRestart, Host: "node-a"},
					{Type: externals.ChangeActionRestart, Host: "node-a"},
					{Type: externals.ChangeActionRestart, Host: "node-b"},
				},
			}, nil
		},
		RestartFunc: func(ctx context.Context, dep jobmodel.Deployment, host string) error {
			restarts = append(restarts, host)
			return nil
		},
	}
	runner := steprunner.New(steprunner.Collaborators{ConfigServer: cs, Logs: memory.New(), Timeouts: config.DefaultTimeouts()})

	outcome := runner.Run(context.Background(), steprunner.LockedStep{
		Step:    jobmodel.DeployReal,
		Run:     run,
		Zone:    jobmodel.ZoneFor(jobmodel.JobProductionUsEast3),
		Package: []byte("app-package"),
	})

	require.NotNil(t, outcome.Status)
	assert.Equal(t, jobmodel.Running, *outcome.Status)
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, restarts)

	cs2 := &jobrunnertest.ConfigServer{
		DeployFunc: func(ctx context.Context, dep jobmodel.Deployment, platform string, pkg []byte, opts externals.DeployOptions) (externals.PrepareResponse, error) {
			return externals.PrepareResponse{
				ChangeActions: []externals.ConfigChangeAction{
					{Type: externals.ChangeActionRefeed, Name: "field-type-change", Allowed: false, Message: "would lose data"},
				},
			}, nil
		},
	}
	runner2 := steprunner.New(steprunner.Collaborators{ConfigServer: cs2, Logs: memory.New(), Timeouts: config.DefaultTimeouts()})
	outcome2 := runner2.Run(context.Background(), steprunner.LockedStep{
		Step:    jobmodel.DeployReal,
		Run:     run,
		Zone:    jobmodel.ZoneFor(jobmodel.JobProductionUsEast3),
		Package: []byte("app-package"),
	})
	require.NotNil(t, outcome2.Status)
	assert.Equal(t, jobmodel.DeploymentFailed, *outcome2.Status)
}

func TestDeployRealOutOfCapacityPolicyDependsOnProduction(t *testing.T) {
	cases := []struct {
		name string
		jt   jobmodel.JobType
		want *jobmodel.RunStatus
	}{
		{"production gets terminal status", jobmodel.JobProductionUsEast3, statusPtr(jobmodel.OutOfCapacity)},
		{"test job retries", jobmodel.JobSystemTest, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := testRun(tc.jt)
			cs := deployErrConfigServer(&externals.DeployRejected{Code: externals.ErrOutOfCapacity})
			runner := steprunner.New(steprunner.Collaborators{ConfigServer: cs, Logs: memory.New(), Timeouts: config.DefaultTimeouts()})

			outcome := runner.Run(context.Background(), steprunner.LockedStep{
				Step:    jobmodel.DeployReal,
				Run:     run,
				Zone:    jobmodel.ZoneFor(tc.jt),
				Package: []byte("pkg"),
			})

			if tc.want == nil {
				assert.Nil(t, outcome.Status)
			} else {
				require.NotNil(t, outcome.Status)
				assert.Equal(t, *tc.want, *outcome.Status)
			}
		})
	}
}

func statusPtr(s jobmodel.RunStatus) *jobmodel.RunStatus { return &s }

func TestInstallRealWaitsThenFailsAfterInstallationTimeout(t *testing.T) {
	run := testRun(jobmodel.JobProductionUsEast3)
	zone := jobmodel.ZoneFor(jobmodel.JobProductionUsEast3)
	cs := &jobrunnertest.ConfigServer{
		ConvergeServicesFunc: func(ctx context.Context, dep jobmodel.Deployment, wantedPlatform string) (externals.ConvergenceReport, error) {
			return externals.ConvergenceReport{Converged: false}, nil
		},
	}
	routing := &jobrunnertest.Routing{EndpointsByZone: map[jobmodel.Zone]map[string]string{zone: {"default": "https://app.example"}}}

	clock := run.Start
	runner := steprunner.New(steprunner.Collaborators{
		ConfigServer: cs,
		Routing:      routing,
		Logs:         memory.New(),
		Timeouts:     config.DefaultTimeouts(),
		Now:          func() time.Time { return clock },
	})

	locked := steprunner.LockedStep{Step: jobmodel.InstallReal, Run: run, Zone: zone}

	outcome := runner.Run(context.Background(), locked)
	assert.Nil(t, outcome.Status, "still within installation timeout, should retry")

	clock = run.Start.Add(config.DefaultTimeouts().Installation + time.Second)
	outcome = runner.Run(context.Background(), locked)
	require.NotNil(t, outcome.Status)
	assert.Equal(t, jobmodel.InstallationFailed, *outcome.Status)
}

func TestEndTestsAbortsOnVanishedDeployment(t *testing.T) {
	run := testRun(jobmodel.JobSystemTest)
	zone := jobmodel.ZoneFor(jobmodel.JobSystemTest)
	// ConvergeServices returning a 404-flavoured ConfigServerError signals
	// the real deployment vanished.
	vanished := vanishedConfigServer()

	runner := steprunner.New(steprunner.Collaborators{
		ConfigServer: vanished,
		Routing:      &jobrunnertest.Routing{},
		TesterCloud:  &jobrunnertest.TesterCloud{},
		Logs:         memory.New(),
		Timeouts:     config.DefaultTimeouts(),
	})

	outcome := runner.Run(context.Background(), steprunner.LockedStep{
		Step: jobmodel.EndTests,
		Run:  run,
		Zone: zone,
	})
	require.NotNil(t, outcome.Status)
	assert.Equal(t, jobmodel.Aborted, *outcome.Status)
}

func TestEndTestsMapsTesterStatusToRunStatus(t *testing.T) {
	zone := jobmodel.ZoneFor(jobmodel.JobSystemTest)
	routing := &jobrunnertest.Routing{EndpointsByZone: map[jobmodel.Zone]map[string]string{zone: {"default": "https://tester.example"}}}

	cases := map[externals.TestStatus]*jobmodel.RunStatus{
		externals.TestRunning: nil,
		externals.TestSuccess: statusPtr(jobmodel.Running),
		externals.TestFailure: statusPtr(jobmodel.TestFailure),
		externals.TestError:   statusPtr(jobmodel.Error),
	}
	for status, want := range cases {
		run := testRun(jobmodel.JobSystemTest)
		runner := steprunner.New(steprunner.Collaborators{
			ConfigServer: &jobrunnertest.ConfigServer{},
			Routing:      routing,
			TesterCloud:  &jobrunnertest.TesterCloud{Status: status},
			Logs:         memory.New(),
			Timeouts:     config.DefaultTimeouts(),
		})
		outcome := runner.Run(context.Background(), steprunner.LockedStep{Step: jobmodel.EndTests, Run: run, Zone: zone})
		if want == nil {
			assert.Nil(t, outcome.Status, "status %s", status)
		} else {
			require.NotNil(t, outcome.Status, "status %s", status)
			assert.Equal(t, *want, *outcome.Status, "status %s", status)
		}
	}
}

func TestReportSendsFailureMailToResolvedRecipients(t *testing.T) {
	run := testRun(jobmodel.JobProductionUsEast3).With(jobmodel.DeploymentFailed, jobmodel.DeployReal)
	mailer := &jobrunnertest.Mailer{}
	runner := steprunner.New(steprunner.Collaborators{Mailer: mailer, Logs: memory.New(), Timeouts: config.DefaultTimeouts()})

	outcome := runner.Run(context.Background(), steprunner.LockedStep{
		Step: jobmodel.Report,
		Run:  run,
		Zone: jobmodel.ZoneFor(jobmodel.JobProductionUsEast3),
		Notifications: externals.NotificationSpec{Recipients: []externals.NotificationRecipient{
			{When: externals.NotifyFailing, Email: "oncall@example.com"},
		}},
		AuthorEmail: "author@example.com",
	})

	require.NotNil(t, outcome.Status)
	assert.Equal(t, jobmodel.Running, *outcome.Status)
	require.Len(t, mailer.Sent, 1)
	assert.Equal(t, []string{"oncall@example.com"}, mailer.Sent[0].To)
}

func TestReportSendsNoMailWhenRunSucceeded(t *testing.T) {
	run := testRun(jobmodel.JobProductionUsEast3)
	mailer := &jobrunnertest.Mailer{}
	runner := steprunner.New(steprunner.Collaborators{Mailer: mailer, Logs: memory.New(), Timeouts: config.DefaultTimeouts()})

	runner.Run(context.Background(), steprunner.LockedStep{
		Step: jobmodel.Report,
		Run:  run,
		Zone: jobmodel.ZoneFor(jobmodel.JobProductionUsEast3),
	})

	assert.Empty(t, mailer.Sent)
}

func TestUnexpectedErrorBecomesErrorForOrdinaryStepAndRetryForCleanupStep(t *testing.T) {
	run := testRun(jobmodel.JobProductionUsEast3)
	cs := deployErrConfigServer(assertAnError{})
	runner := steprunner.New(steprunner.Collaborators{ConfigServer: cs, Logs: memory.New(), Timeouts: config.DefaultTimeouts()})

	outcome := runner.Run(context.Background(), steprunner.LockedStep{
		Step:    jobmodel.DeployReal,
		Run:     run,
		Zone:    jobmodel.ZoneFor(jobmodel.JobProductionUsEast3),
		Package: []byte("pkg"),
	})
	require.NotNil(t, outcome.Status)
	assert.Equal(t, jobmodel.Error, *outcome.Status, "ordinary step surfaces error")

	cs2 := deactivateErrConfigServer(assertAnError{})
	runner2 := steprunner.New(steprunner.Collaborators{ConfigServer: cs2, Logs: memory.New(), Timeouts: config.DefaultTimeouts()})
	outcome2 := runner2.Run(context.Background(), steprunner.LockedStep{
		Step: jobmodel.DeactivateReal,
		Run:  run,
		Zone: jobmodel.ZoneFor(jobmodel.JobProductionUsEast3),
	})
	assert.Nil(t, outcome2.Status, "always-run step retries instead of failing the run")
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }
