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

// Package sqlite provides a single-node store backend. SQLite serialises
// writes at the connection-pool level (one writer), so the three lock
// scopes are implemented with an in-process mutex rather than database
// locks: this backend is not safe to share across processes, only across
// goroutines within one controller instance.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/store"
)

var _ store.Store = (*Backend)(nil)

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path ("" or ":memory:" for an ephemeral DB).
	Path string
}

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a new SQLite backend and runs its migrations.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serialises writes; one connection keeps reads consistent too.

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/sqlite: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/sqlite: pragma: %w", err)
	}

	b := &Backend{db: db, locks: make(map[string]*sync.Mutex)}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/sqlite: migrate: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS last_runs (
			app_key TEXT NOT NULL,
			job_type TEXT NOT NULL,
			run TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (app_key, job_type)
		)`,
		`CREATE TABLE IF NOT EXISTS historic_runs (
			app_key TEXT NOT NULL,
			job_type TEXT NOT NULL,
			run_number INTEGER NOT NULL,
			run TEXT NOT NULL,
			PRIMARY KEY (app_key, job_type, run_number)
		)`,
		`CREATE TABLE IF NOT EXISTS run_numbers (
			app_key TEXT NOT NULL,
			job_type TEXT NOT NULL,
			next_number INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (app_key, job_type)
		)`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func appKey(app jobmodel.ApplicationId) string { return app.String() }

type lease struct{ mu *sync.Mutex }

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
	var raw string
	err := b.db.QueryRowContext(ctx,
		`SELECT run FROM last_runs WHERE app_key=? AND job_type=?`,
		appKey(key.Application), string(key.Type),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return jobmodel.Run{}, store.ErrNotFound
	}
	if err != nil {
		return jobmodel.Run{}, err
	}
	var r jobmodel.Run
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return jobmodel.Run{}, err
	}
	return r, nil
}

func (b *Backend) WriteLastRun(ctx context.Context, key jobmodel.JobKey, run jobmodel.Run) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO last_runs (app_key, job_type, run, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (app_key, job_type) DO UPDATE SET run = excluded.run, updated_at = excluded.updated_at
	`, appKey(key.Application), string(key.Type), raw, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (b *Backend) ReadHistoricRuns(ctx context.Context, key jobmodel.JobKey) (map[int64]jobmodel.Run, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT run_number, run FROM historic_runs WHERE app_key=? AND job_type=?`,
		appKey(key.Application), string(key.Type),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]jobmodel.Run)
	for rows.Next() {
		var num int64
		var raw string
		if err := rows.Scan(&num, &raw); err != nil {
			return nil, err
		}
		var r jobmodel.Run
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		out[num] = r
	}
	return out, rows.Err()
}

func (b *Backend) WriteHistoricRuns(ctx context.Context, key jobmodel.JobKey, runs map[int64]jobmodel.Run) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM historic_runs WHERE app_key=? AND job_type=?`,
		appKey(key.Application), string(key.Type),
	); err != nil {
		return err
	}
	for num, run := range runs {
		raw, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO historic_runs (app_key, job_type, run_number, run) VALUES (?, ?, ?, ?)`,
			appKey(key.Application), string(key.Type), num, raw,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) NextRunNumber(ctx context.Context, key jobmodel.JobKey) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT next_number FROM run_numbers WHERE app_key=? AND job_type=?`,
		appKey(key.Application), string(key.Type),
	).Scan(&next)
	if err == sql.ErrNoRows {
		next = 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_numbers (app_key, job_type, next_number) VALUES (?, ?, ?)`,
			appKey(key.Application), string(key.Type), next+1,
		); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE run_numbers SET next_number=? WHERE app_key=? AND job_type=?`,
			next+1, appKey(key.Application), string(key.Type),
		); err != nil {
			return 0, err
		}
	}
	return next, tx.Commit()
}

func (b *Backend) DeleteRunData(ctx context.Context, app jobmodel.ApplicationId, jobType *jobmodel.JobType) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tables := []string{"last_runs", "historic_runs", "run_numbers"}
	for _, table := range tables {
		query := fmt.Sprintf(`DELETE FROM %s WHERE app_key=?`, table)
		args := []any{appKey(app)}
		if jobType != nil {
			query += " AND job_type=?"
			args = append(args, string(*jobType))
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) ApplicationsWithJobs(ctx context.Context) ([]jobmodel.ApplicationId, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT DISTINCT app_key FROM last_runs
		UNION
		SELECT DISTINCT app_key FROM historic_runs
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// app_key is opaque (ApplicationId.String()); callers that need the
	// structured form look it up via the last-run/historic-run documents,
	// which embed the full RunId. This mirrors ApplicationsWithJobs being
	// a discovery aid for collectGarbage, not a primary key lookup.
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]jobmodel.ApplicationId, 0, len(keys))
	for _, k := range keys {
		app, err := resolveAppFromRuns(ctx, b.db, k)
		if err != nil {
			return nil, err
		}
		if app != nil {
			out = append(out, *app)
		}
	}
	return out, nil
}

// resolveAppFromRuns recovers the structured ApplicationId for an opaque
// app_key by reading one run document that was stored under it.
func resolveAppFromRuns(ctx context.Context, db *sql.DB, key string) (*jobmodel.ApplicationId, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT run FROM last_runs WHERE app_key=? LIMIT 1`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		err = db.QueryRowContext(ctx, `SELECT run FROM historic_runs WHERE app_key=? LIMIT 1`, key).Scan(&raw)
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r jobmodel.Run
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r.ID.Application, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
