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

package jobmodel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

func testRunId(jt jobmodel.JobType, n int64) jobmodel.RunId {
	return jobmodel.RunId{
		Application: jobmodel.ApplicationId{Tenant: "tenant", Application: "real", Instance: "default"},
		Type:        jt,
		Number:      n,
	}
}

// advanceAll walks every ready step of r to the given outcome until no more
// ready steps are produced, mirroring the maintainer loop's tick.
func advanceAll(t *testing.T, r jobmodel.Run, outcome jobmodel.RunStatus) jobmodel.Run {
	t.Helper()
	for {
		ready := r.ReadySteps()
		if len(ready) == 0 {
			return r
		}
		for _, s := range ready {
			r = r.With(outcome, s)
		}
	}
}

func TestHappyPathSystemTest(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := jobmodel.NewRun(testRunId(jobmodel.JobSystemTest, 1), jobmodel.Versions{
		TargetPlatform:    "1.2.3",
		TargetApplication: "321",
	}, start)

	first := r.ReadySteps()
	require.Len(t, first, 2)
	assert.Equal(t, jobmodel.DeployTester, first[0])
	assert.Equal(t, jobmodel.DeployReal, first[1])

	r = advanceAll(t, r, jobmodel.Running)
	require.True(t, r.ReadyToFinish())
	r = r.Finished(start.Add(time.Hour))

	assert.True(t, r.HasEnded())
	assert.Equal(t, jobmodel.Success, r.Status)
	for s, status := range r.Steps {
		assert.Equalf(t, jobmodel.StepSucceeded, status, "step %s", s)
	}
}

func TestStagingAbortWhileRunning(t *testing.T) {
	start := time.Now()
	r := jobmodel.NewRun(testRunId(jobmodel.JobStagingTest, 1), jobmodel.Versions{
		TargetPlatform: "1.2.3", TargetApplication: "321",
		SourcePlatform: "1.2.2", SourceApplication: "320",
	}, start)

	// Run everything up to startTests successfully.
	for {
		ready := r.ReadySteps()
		if len(ready) == 0 {
			break
		}
		advancedAny := false
		for _, s := range ready {
			if s == jobmodel.StartTests {
				continue
			}
			r = r.With(jobmodel.Running, s)
			advancedAny = true
		}
		if !advancedAny {
			break
		}
	}

	require.Contains(t, r.ReadySteps(), jobmodel.StartTests)
	r = r.With(jobmodel.Error, jobmodel.StartTests)

	assert.Equal(t, jobmodel.StepFailed, r.Steps[jobmodel.StartTests])
	assert.Equal(t, jobmodel.Error, r.Status)

	// Only cleanup steps should become ready from here.
	ready := r.ReadySteps()
	for _, s := range ready {
		assert.True(t, r.Profile.IsAlwaysRun(s), "step %s should be always-run only", s)
	}

	r = advanceAll(t, r, jobmodel.Running)
	assert.True(t, r.CleanupComplete())
}

func TestAbortIsIdempotent(t *testing.T) {
	r := jobmodel.NewRun(testRunId(jobmodel.JobSystemTest, 1), jobmodel.Versions{}, time.Now())
	once := r.Aborted()
	twice := once.Aborted()
	assert.Equal(t, once, twice)
}

func TestAbortDoesNotOverrideTerminalFailure(t *testing.T) {
	r := jobmodel.NewRun(testRunId(jobmodel.JobSystemTest, 1), jobmodel.Versions{}, time.Now())
	r = r.With(jobmodel.DeploymentFailed, jobmodel.DeployTester)
	aborted := r.Aborted()
	assert.Equal(t, jobmodel.DeploymentFailed, aborted.Status)
}

func TestWithCertificateRejectsSecondSet(t *testing.T) {
	r := jobmodel.NewRun(testRunId(jobmodel.JobSystemTest, 1), jobmodel.Versions{}, time.Now())
	r, err := r.WithCertificate("first")
	require.NoError(t, err)
	_, err = r.WithCertificate("second")
	assert.ErrorIs(t, err, jobmodel.ErrCertificateAlreadySet)
}

func TestLastTestLogEntryNonDecreasing(t *testing.T) {
	r := jobmodel.NewRun(testRunId(jobmodel.JobSystemTest, 1), jobmodel.Versions{}, time.Now())
	r = r.WithTestLogEntry(5)
	r = r.WithTestLogEntry(3)
	assert.Equal(t, int64(5), r.LastTestLogEntry)
	r = r.WithTestLogEntry(9)
	assert.Equal(t, int64(9), r.LastTestLogEntry)
}

func TestProductionProfileOmitsTestSteps(t *testing.T) {
	p := jobmodel.ProfileFor(jobmodel.JobProductionUsEast3)
	assert.False(t, p.Includes(jobmodel.StartTests))
	assert.False(t, p.Includes(jobmodel.DeployTester))
	assert.True(t, p.Includes(jobmodel.DeployReal))
}
