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

// Package lock implements the job runner's three lock scopes on top of a
// store.Locker: application-and-job, run (interchangeable with the
// application-and-job scope — see §4.3), and step. Scopes are always
// acquired in that order, so a caller holding a step lock never attempts
// to acquire the application-and-job lock except in the narrow,
// timeout-bounded, read-style pattern used to confirm a prerequisite step
// is idle.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/store"
)

// Manager acquires the job runner's named lock scopes against a backing
// store.Locker.
type Manager struct {
	locker store.Locker
}

// New creates a Manager over the given Locker.
func New(locker store.Locker) *Manager {
	return &Manager{locker: locker}
}

func jobKeyString(key jobmodel.JobKey) string {
	return "job:" + key.String()
}

func stepKeyString(key jobmodel.JobKey, step jobmodel.Step) string {
	return fmt.Sprintf("step:%s:%s", key.String(), step.String())
}

// LockJob acquires the application-and-job lock scope: serialises writes
// to a (ApplicationId, JobType)'s last-run and history documents. The same
// key also stands in for the "run" lock scope, since a run never outlives
// its (ApplicationId, JobType) pair's active slot.
func (m *Manager) LockJob(ctx context.Context, key jobmodel.JobKey, timeout time.Duration) (store.Lease, error) {
	return m.locker.Lock(ctx, jobKeyString(key), timeout)
}

// LockStep acquires the step lock scope for one (JobKey, Step): held for
// the duration of that step's execution, including any external I/O.
func (m *Manager) LockStep(ctx context.Context, key jobmodel.JobKey, step jobmodel.Step, timeout time.Duration) (store.Lease, error) {
	return m.locker.Lock(ctx, stepKeyString(key, step), timeout)
}

// ConfirmPrerequisitesIdle briefly acquires and releases each prerequisite
// step's lock, in enumeration order, to verify none of them is currently
// executing before a step starts. This is the one permitted lock-order
// inversion: it happens while the caller already holds the step lock for
// the step about to run, but each acquisition here is momentary and
// read-style — it never overlaps with holding the application-and-job
// lock, and it releases immediately after observing the prerequisite idle.
func (m *Manager) ConfirmPrerequisitesIdle(ctx context.Context, key jobmodel.JobKey, prereqs []jobmodel.Step, timeout time.Duration) error {
	for _, p := range prereqs {
		lease, err := m.LockStep(ctx, key, p, timeout)
		if err != nil {
			return fmt.Errorf("lock: confirming prerequisite %s idle: %w", p, err)
		}
		if err := lease.Release(ctx); err != nil {
			return fmt.Errorf("lock: releasing prerequisite %s latch: %w", p, err)
		}
	}
	return nil
}
