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

// Package store defines the durable KV contract the job controller is
// built against (§6 of the spec): a versioned store with per-key leased
// locks, holding the "last run" and history documents per (ApplicationId,
// JobType) and the set of applications with persisted job data.
//
// Interface segregation mirrors the teacher's backend package: Locker is
// the minimal capability every backend provides; Store composes it with
// the run-document operations. Concrete backends (memory, postgres,
// sqlite) live in their own subpackages.
package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

// ErrLockTimeout is returned by Locker.Lock when the wall-clock timeout
// elapses before the lock is acquired. The maintainer loop treats this as
// "try again next tick"; it must never be allowed to escape as a run
// failure.
var ErrLockTimeout = errors.New("store: lock acquisition timed out")

// ErrNotFound is returned by the read operations below when no document
// exists for the given key.
var ErrNotFound = errors.New("store: not found")

// Lease is a held lock. The caller must Release it, typically via defer,
// as soon as the protected read-modify-write completes.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named, timeout-bounded locks. Implementations must be
// safe to call concurrently and must support re-acquisition by a different
// caller once a lease is released (locks are not sticky to a process).
type Locker interface {
	// Lock acquires the named key, blocking up to timeout. It returns
	// ErrLockTimeout if the timeout elapses first.
	Lock(ctx context.Context, key string, timeout time.Duration) (Lease, error)
}

// Store is the durable store contract consumed by the job controller.
// All operations are per (ApplicationId, JobType) unless noted.
type Store interface {
	Locker

	// ReadLastRun returns the active-or-most-recently-finished run for a
	// job key, or ErrNotFound if none has ever been written.
	ReadLastRun(ctx context.Context, key jobmodel.JobKey) (jobmodel.Run, error)

	// WriteLastRun persists the given run as the job key's "last" slot.
	WriteLastRun(ctx context.Context, key jobmodel.JobKey, run jobmodel.Run) error

	// ReadHistoricRuns returns every historic (finished, evicted-from-last)
	// run for a job key, keyed by RunId.Number.
	ReadHistoricRuns(ctx context.Context, key jobmodel.JobKey) (map[int64]jobmodel.Run, error)

	// WriteHistoricRuns replaces the full historic-runs map for a job key.
	// Callers read-modify-write: read, insert/evict, write back, all under
	// the job key's lock.
	WriteHistoricRuns(ctx context.Context, key jobmodel.JobKey, runs map[int64]jobmodel.Run) error

	// NextRunNumber allocates and returns the next RunId.Number for a job
	// key. Numbers are strictly increasing while the key's run data exists;
	// DeleteRunData removes the counter together with the runs, so numbering
	// for that key starts over afterwards.
	NextRunNumber(ctx context.Context, key jobmodel.JobKey) (int64, error)

	// DeleteRunData removes all persisted last-run/history state for an
	// application, optionally scoped to a single JobType (nil means all
	// job types for that application).
	DeleteRunData(ctx context.Context, app jobmodel.ApplicationId, jobType *jobmodel.JobType) error

	// ApplicationsWithJobs returns every ApplicationId that currently has
	// persisted job data (a last run or history entries for at least one
	// JobType), used by Controller.CollectGarbage to find unregistered
	// applications whose data has not yet been destroyed.
	ApplicationsWithJobs(ctx context.Context) ([]jobmodel.ApplicationId, error)

	io.Closer
}
