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

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/lock"
	"github.com/tombee/hostedjob/internal/store/memory"
)

func TestConfirmPrerequisitesIdleSucceedsWhenIdle(t *testing.T) {
	m := lock.New(memory.New())
	key := jobmodel.JobKey{Application: jobmodel.ApplicationId{Tenant: "t", Application: "a", Instance: "default"}, Type: jobmodel.JobSystemTest}

	err := m.ConfirmPrerequisitesIdle(context.Background(), key, []jobmodel.Step{jobmodel.DeployTester}, time.Second)
	assert.NoError(t, err)
}

func TestConfirmPrerequisitesIdleFailsWhileExecuting(t *testing.T) {
	m := lock.New(memory.New())
	key := jobmodel.JobKey{Application: jobmodel.ApplicationId{Tenant: "t", Application: "a", Instance: "default"}, Type: jobmodel.JobSystemTest}

	lease, err := m.LockStep(context.Background(), key, jobmodel.DeployTester, time.Second)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	err = m.ConfirmPrerequisitesIdle(context.Background(), key, []jobmodel.Step{jobmodel.DeployTester}, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestElectorSingleWinner(t *testing.T) {
	locker := memory.New()
	e1 := lock.NewElector(lock.Config{Locker: locker, InstanceID: "a", RetryInterval: 10 * time.Millisecond})
	e2 := lock.NewElector(lock.Config{Locker: locker, InstanceID: "b", RetryInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e1.Start(ctx)
	e2.Start(ctx)
	defer e1.Stop()
	defer e2.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if e1.IsLeader() != e2.IsLeader() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, e1.IsLeader() != e2.IsLeader(), "exactly one elector should hold leadership")
}
