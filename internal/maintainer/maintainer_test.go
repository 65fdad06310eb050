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

package maintainer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/config"
	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/jobrunner"
	"github.com/tombee/hostedjob/internal/jobrunner/jobrunnertest"
	"github.com/tombee/hostedjob/internal/lock"
	logstorememory "github.com/tombee/hostedjob/internal/logstore/memory"
	"github.com/tombee/hostedjob/internal/maintainer"
	"github.com/tombee/hostedjob/internal/steprunner"
	storememory "github.com/tombee/hostedjob/internal/store/memory"
)

// fakePublisher records every status transition published, so tests can
// assert the maintainer reports run completion without needing a real
// Kafka broker. The maintainer dispatches steps from worker goroutines, so
// appends are guarded.
type fakePublisher struct {
	mu        sync.Mutex
	published []jobmodel.RunStatus
}

func newFakePublisher() *fakePublisher { return &fakePublisher{} }

func (p *fakePublisher) PublishStatus(ctx context.Context, id jobmodel.RunId, status jobmodel.RunStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, status)
	return nil
}

func (p *fakePublisher) snapshot() []jobmodel.RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]jobmodel.RunStatus, len(p.published))
	copy(out, p.published)
	return out
}

func testApp() jobmodel.ApplicationId {
	return jobmodel.ApplicationId{Tenant: "tenant1", Application: "app1", Instance: "default"}
}

// newHarness wires a real Controller over in-memory stores, a real
// steprunner.Runner over fakes, and a Loop over both — the same
// composition production code builds, just with in-process collaborators
// instead of HTTP-backed ones.
func newHarness(t *testing.T, now func() time.Time, tickInterval time.Duration) (*jobrunner.Controller, *maintainer.Loop, *fakePublisher) {
	t.Helper()
	storeBackend := storememory.New()
	logs := logstorememory.New()

	controller := jobrunner.New(jobrunner.Collaborators{
		Store:        storeBackend,
		Locks:        lock.New(storeBackend),
		Logs:         logs,
		Artifacts:    &jobrunnertest.ArtifactStore{Pkg: []byte("pkg")},
		ConfigServer: &jobrunnertest.ConfigServer{},
		Timeouts:     config.DefaultTimeouts(),
		History:      config.DefaultHistory(),
		Now:          now,
	})

	runner := steprunner.New(steprunner.Collaborators{
		ConfigServer: &jobrunnertest.ConfigServer{},
		Routing: &jobrunnertest.Routing{
			ClusterEndpointsFunc: func(ctx context.Context, app jobmodel.ApplicationId, zones []jobmodel.Zone) (map[jobmodel.Zone]map[string]string, error) {
				out := make(map[jobmodel.Zone]map[string]string, len(zones))
				for _, z := range zones {
					out[z] = map[string]string{"default": "https://app.example"}
				}
				return out, nil
			},
			Endpoint: externals.Endpoint{ClusterID: "default", URL: "https://app.example"},
		},
		ArtifactStore: &jobrunnertest.ArtifactStore{Pkg: []byte("pkg")},
		Mailer:        &jobrunnertest.Mailer{},
		Logs:          logs,
		Timeouts:      config.DefaultTimeouts(),
		Now:           now,
	})

	publisher := newFakePublisher()
	loop := maintainer.New(maintainer.Collaborators{
		Controller: controller,
		Runner:     runner,
		Config:     config.MaintainerConfig{TickInterval: tickInterval, WorkerPoolSize: 8},
		Timeouts:   config.DefaultTimeouts(),
		Publisher:  publisher,
		Now:        now,
	})

	return controller, loop, publisher
}

// TestTickDrivesADevRunToSuccess exercises spec.md §4.5's steps 1-3 end to
// end: repeated ticks dispatch DeployReal, then InstallReal once it
// becomes ready, until the run's ordinary steps all succeed and it
// archives.
func TestTickDrivesADevRunToSuccess(t *testing.T) {
	controller, loop, publisher := newHarness(t, nil, time.Second)
	app := testApp()
	controller.CreateApplication(app, "proj1", externals.NotificationSpec{})

	id, err := controller.Deploy(context.Background(), app, jobmodel.JobDevUsEast1, "1.0", []byte("dev-pkg"))
	require.NoError(t, err)
	key := id.Of()

	var run jobmodel.Run
	for i := 0; i < 10; i++ {
		loop.Tick(context.Background())
		loop.Wait()
		run, err = controller.Last(context.Background(), key)
		require.NoError(t, err)
		if run.HasEnded() {
			break
		}
	}

	require.True(t, run.HasEnded(), "run must have finished within the tick budget")
	assert.Equal(t, jobmodel.Success, run.Status)
	assert.Equal(t, jobmodel.StepSucceeded, run.Steps[jobmodel.DeployReal])
	assert.Equal(t, jobmodel.StepSucceeded, run.Steps[jobmodel.InstallReal])
	assert.Contains(t, publisher.snapshot(), jobmodel.Success, "the maintainer must publish the run's terminal status")
}

// TestTickAbortsRunsThatExceedTheJobTimeout exercises spec.md §4.5 step 4.
func TestTickAbortsRunsThatExceedTheJobTimeout(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	controller, loop, publisher := newHarness(t, now, time.Second)
	app := testApp()
	controller.CreateApplication(app, "proj1", externals.NotificationSpec{})

	id, err := controller.Deploy(context.Background(), app, jobmodel.JobDevUsEast1, "1.0", []byte("dev-pkg"))
	require.NoError(t, err)
	key := id.Of()

	clock = start.Add(config.DefaultTimeouts().Job + time.Minute)
	loop.Tick(context.Background())
	loop.Wait()

	run, err := controller.Last(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, jobmodel.Aborted, run.Status)
	assert.Contains(t, publisher.snapshot(), jobmodel.Aborted)
}

// TestRunDispatchesDeployReadyStepViaKickWithoutWaitingForATick exercises
// deploy's out-of-band kick between ticks (spec.md §4.5's final sentence:
// "deploy may directly enqueue one worker so manually deployed jobs don't
// wait for the next tick"). The tick interval is set far longer than the
// test's deadline, so DeployReal can only be dispatched through
// Controller.Kicks() being drained and dispatched immediately by Run —
// never through a periodic Tick.
func TestRunDispatchesDeployReadyStepViaKickWithoutWaitingForATick(t *testing.T) {
	controller, loop, _ := newHarness(t, nil, time.Hour)
	app := testApp()
	controller.CreateApplication(app, "proj1", externals.NotificationSpec{})

	id, err := controller.Deploy(context.Background(), app, jobmodel.JobDevUsEast1, "1.0", []byte("dev-pkg"))
	require.NoError(t, err)
	key := id.Of()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	dispatched := false
	for !dispatched {
		run, err := controller.Last(context.Background(), key)
		require.NoError(t, err)
		dispatched = run.Steps[jobmodel.DeployReal] == jobmodel.StepSucceeded
		if dispatched {
			break
		}
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("deploy's kick never reached the maintainer's worker pool")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
