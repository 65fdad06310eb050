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

// Package memory provides an in-process store backend, used by the fast
// test suite and by single-node development deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/store"
)

var _ store.Store = (*Backend)(nil)

// Backend is an in-memory storage backend. It is safe for concurrent use.
type Backend struct {
	mu        sync.Mutex
	last      map[jobmodel.JobKey]jobmodel.Run
	history   map[jobmodel.JobKey]map[int64]jobmodel.Run
	nextNum   map[jobmodel.JobKey]int64
	locks     map[string]*sync.Mutex
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		last:    make(map[jobmodel.JobKey]jobmodel.Run),
		history: make(map[jobmodel.JobKey]map[int64]jobmodel.Run),
		nextNum: make(map[jobmodel.JobKey]int64),
		locks:   make(map[string]*sync.Mutex),
	}
}

type lease struct {
	mu *sync.Mutex
}

func (l *lease) Release(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}

func (b *Backend) lockFor(key string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.locks[key]
	if !ok {
		m = &sync.Mutex{}
		b.locks[key] = m
	}
	return m
}

// Lock acquires the named key with a wall-clock timeout, implemented by
// polling TryLock so a stuck holder cannot wedge the caller forever.
func (b *Backend) Lock(ctx context.Context, key string, timeout time.Duration) (store.Lease, error) {
	m := b.lockFor(key)
	deadline := time.Now().Add(timeout)
	for {
		if m.TryLock() {
			return &lease{mu: m}, nil
		}
		if time.Now().After(deadline) {
			return nil, store.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (b *Backend) ReadLastRun(ctx context.Context, key jobmodel.JobKey) (jobmodel.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.last[key]
	if !ok {
		return jobmodel.Run{}, store.ErrNotFound
	}
	return r, nil
}

func (b *Backend) WriteLastRun(ctx context.Context, key jobmodel.JobKey, run jobmodel.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[key] = run
	if run.ID.Number > b.nextNum[key] {
		b.nextNum[key] = run.ID.Number
	}
	return nil
}

func (b *Backend) ReadHistoricRuns(ctx context.Context, key jobmodel.JobKey) (map[int64]jobmodel.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]jobmodel.Run, len(b.history[key]))
	for k, v := range b.history[key] {
		out[k] = v
	}
	return out, nil
}

func (b *Backend) WriteHistoricRuns(ctx context.Context, key jobmodel.JobKey, runs map[int64]jobmodel.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(map[int64]jobmodel.Run, len(runs))
	for k, v := range runs {
		cp[k] = v
	}
	b.history[key] = cp
	return nil
}

func (b *Backend) NextRunNumber(ctx context.Context, key jobmodel.JobKey) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nextNum[key] + 1
	b.nextNum[key] = n
	return n, nil
}

func (b *Backend) DeleteRunData(ctx context.Context, app jobmodel.ApplicationId, jobType *jobmodel.JobType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.last {
		if key.Application != app {
			continue
		}
		if jobType != nil && key.Type != *jobType {
			continue
		}
		delete(b.last, key)
		delete(b.history, key)
		delete(b.nextNum, key)
	}
	return nil
}

func (b *Backend) ApplicationsWithJobs(ctx context.Context) ([]jobmodel.ApplicationId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[jobmodel.ApplicationId]bool)
	for key := range b.last {
		seen[key.Application] = true
	}
	for key := range b.history {
		seen[key.Application] = true
	}
	out := make([]jobmodel.ApplicationId, 0, len(seen))
	for app := range seen {
		out = append(out, app)
	}
	return out, nil
}

func (b *Backend) Close() error { return nil }
