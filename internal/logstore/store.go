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

// Package logstore defines the per-run log contract (§6): an append-only
// buffer while a run is active, archived once the run finishes. Backends
// live in their own subpackages, mirroring internal/store.
package logstore

import (
	"context"
	"errors"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

// ErrNotFound is returned by ReadFinished when id has no archived log.
var ErrNotFound = errors.New("logstore: not found")

// Store is the durable log contract the step runner and job controller
// use to persist a run's log output.
type Store interface {
	// Append adds entries to id's active buffer, assigning each a
	// monotonic ID starting after the current high-water mark, and
	// returns the new high-water mark.
	Append(ctx context.Context, id jobmodel.RunId, entries []jobmodel.LogEntry) (int64, error)

	// ReadActive returns every entry in id's active buffer with ID > after.
	ReadActive(ctx context.Context, id jobmodel.RunId, after int64) ([]jobmodel.LogEntry, error)

	// ReadFinished returns id's archived log, or ErrNotFound if id was
	// never flushed.
	ReadFinished(ctx context.Context, id jobmodel.RunId) ([]jobmodel.LogEntry, error)

	// Flush moves id's active buffer to the archive. Called once by
	// report, after which Append on id is no longer expected.
	Flush(ctx context.Context, id jobmodel.RunId) error

	// Delete removes both the active buffer and the archive for id, used
	// by Controller.CollectGarbage.
	Delete(ctx context.Context, id jobmodel.RunId) error
}
