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

package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/hostedjob/internal/store"
)

// maintainerLeaderKey is the well-known lock name multiple controller
// replicas contend for. Only the replica holding it runs the Maintainer
// Loop's tick, so a fleet of controller instances does not dispatch the
// same ready step twice.
const maintainerLeaderKey = "maintainer-leader"

// Elector decides which of potentially several controller replicas runs
// the Maintainer Loop, using the same store.Locker the job runner uses for
// its application-job/run/step scopes (a Postgres advisory lock under the
// postgres backend; a no-op single-winner mutex under memory/sqlite, which
// only ever run as a single replica anyway).
type Elector struct {
	locker     store.Locker
	instanceID string
	retry      time.Duration
	logger     *slog.Logger

	mu       sync.RWMutex
	lease    store.Lease
	isLeader bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config contains leader election configuration.
type Config struct {
	Locker     store.Locker
	InstanceID string
	// RetryInterval is how often to attempt acquiring leadership.
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// NewElector creates a new leader elector.
func NewElector(cfg Config) *Elector {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Elector{
		locker:     cfg.Locker,
		instanceID: cfg.InstanceID,
		retry:      cfg.RetryInterval,
		logger:     logger.With(slog.String("component", "lock.leader"), slog.String("instance_id", cfg.InstanceID)),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the leader election loop in a background goroutine.
func (e *Elector) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop releases leadership, if held, and waits for the loop to exit.
func (e *Elector) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// IsLeader returns whether this instance currently holds the maintainer
// lease.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

func (e *Elector) run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.retry)
	defer ticker.Stop()

	e.tryAcquire(ctx)
	for {
		select {
		case <-ctx.Done():
			e.release(ctx)
			return
		case <-e.stopCh:
			e.release(ctx)
			return
		case <-ticker.C:
			if !e.IsLeader() {
				e.tryAcquire(ctx)
			}
		}
	}
}

func (e *Elector) tryAcquire(ctx context.Context) {
	lease, err := e.locker.Lock(ctx, maintainerLeaderKey, 0)
	if err != nil {
		if err != store.ErrLockTimeout {
			e.logger.Error("failed to attempt leadership", slog.Any("error", err))
		}
		return
	}
	e.mu.Lock()
	e.lease = lease
	e.isLeader = true
	e.mu.Unlock()
	e.logger.Info("acquired maintainer leadership")
}

func (e *Elector) release(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isLeader {
		return
	}
	if err := e.lease.Release(ctx); err != nil {
		e.logger.Error("failed to release leadership", slog.Any("error", err))
	}
	e.isLeader = false
	e.lease = nil
	e.logger.Info("released maintainer leadership")
}
