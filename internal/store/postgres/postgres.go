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

// Package postgres provides a PostgreSQL store backend for multi-node
// controller deployments. Locks are PostgreSQL session-level advisory
// locks held on a dedicated pooled connection for the lifetime of the
// lease, so a lock held across several external RPCs (a whole step
// execution) does not tie up a database transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/store"
)

var _ store.Store = (*Backend)(nil)

// Config contains PostgreSQL connection configuration.
type Config struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// Backend is a PostgreSQL storage backend.
type Backend struct {
	db *sql.DB
}

// New creates a new PostgreSQL backend and runs its migrations.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	db, err := sql.Open("pgx", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/postgres: ping: %w", err)
	}

	b := &Backend{db: db}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return b, nil
}

// DB exposes the underlying connection pool. internal/lock's leader
// elector does not use it; it locks through store.Locker.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS last_runs (
			tenant VARCHAR(255) NOT NULL,
			application VARCHAR(255) NOT NULL,
			instance VARCHAR(255) NOT NULL,
			job_type VARCHAR(64) NOT NULL,
			run JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant, application, instance, job_type)
		)`,
		`CREATE TABLE IF NOT EXISTS historic_runs (
			tenant VARCHAR(255) NOT NULL,
			application VARCHAR(255) NOT NULL,
			instance VARCHAR(255) NOT NULL,
			job_type VARCHAR(64) NOT NULL,
			run_number BIGINT NOT NULL,
			run JSONB NOT NULL,
			PRIMARY KEY (tenant, application, instance, job_type, run_number)
		)`,
		`CREATE TABLE IF NOT EXISTS run_numbers (
			tenant VARCHAR(255) NOT NULL,
			application VARCHAR(255) NOT NULL,
			instance VARCHAR(255) NOT NULL,
			job_type VARCHAR(64) NOT NULL,
			next_number BIGINT NOT NULL DEFAULT 1,
			PRIMARY KEY (tenant, application, instance, job_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_historic_runs_app ON historic_runs(tenant, application, instance)`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// lockKeyID hashes an arbitrary string lock key into the int64 space
// pg_advisory_lock expects.
func lockKeyID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

type pgLease struct {
	conn *sql.Conn
	id   int64
}

func (l *pgLease) Release(ctx context.Context) error {
	defer l.conn.Close()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
	return err
}

// Lock acquires a session-level advisory lock on a dedicated connection,
// polling pg_try_advisory_lock until it succeeds or timeout elapses.
func (b *Backend) Lock(ctx context.Context, key string, timeout time.Duration) (store.Lease, error) {
	id := lockKeyID(key)
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: checkout conn: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var acquired bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
			conn.Close()
			return nil, fmt.Errorf("store/postgres: try lock: %w", err)
		}
		if acquired {
			return &pgLease{conn: conn, id: id}, nil
		}
		if time.Now().After(deadline) {
			conn.Close()
			return nil, store.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (b *Backend) ReadLastRun(ctx context.Context, key jobmodel.JobKey) (jobmodel.Run, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, `
		SELECT run FROM last_runs WHERE tenant=$1 AND application=$2 AND instance=$3 AND job_type=$4
	`, key.Application.Tenant, key.Application.Application, key.Application.Instance, string(key.Type)).Scan(&raw)
	if err == sql.ErrNoRows {
		return jobmodel.Run{}, store.ErrNotFound
	}
	if err != nil {
		return jobmodel.Run{}, err
	}
	var r jobmodel.Run
	if err := json.Unmarshal(raw, &r); err != nil {
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
		INSERT INTO last_runs (tenant, application, instance, job_type, run, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant, application, instance, job_type)
		DO UPDATE SET run = EXCLUDED.run, updated_at = NOW()
	`, key.Application.Tenant, key.Application.Application, key.Application.Instance, string(key.Type), raw)
	return err
}

func (b *Backend) ReadHistoricRuns(ctx context.Context, key jobmodel.JobKey) (map[int64]jobmodel.Run, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT run_number, run FROM historic_runs
		WHERE tenant=$1 AND application=$2 AND instance=$3 AND job_type=$4
	`, key.Application.Tenant, key.Application.Application, key.Application.Instance, string(key.Type))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]jobmodel.Run)
	for rows.Next() {
		var num int64
		var raw []byte
		if err := rows.Scan(&num, &raw); err != nil {
			return nil, err
		}
		var r jobmodel.Run
		if err := json.Unmarshal(raw, &r); err != nil {
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

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM historic_runs WHERE tenant=$1 AND application=$2 AND instance=$3 AND job_type=$4
	`, key.Application.Tenant, key.Application.Application, key.Application.Instance, string(key.Type)); err != nil {
		return err
	}

	for num, run := range runs {
		raw, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO historic_runs (tenant, application, instance, job_type, run_number, run)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, key.Application.Tenant, key.Application.Application, key.Application.Instance, string(key.Type), num, raw); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) NextRunNumber(ctx context.Context, key jobmodel.JobKey) (int64, error) {
	var next int64
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO run_numbers (tenant, application, instance, job_type, next_number)
		VALUES ($1, $2, $3, $4, 2)
		ON CONFLICT (tenant, application, instance, job_type)
		DO UPDATE SET next_number = run_numbers.next_number + 1
		RETURNING next_number - 1
	`, key.Application.Tenant, key.Application.Application, key.Application.Instance, string(key.Type)).Scan(&next)
	return next, err
}

func (b *Backend) DeleteRunData(ctx context.Context, app jobmodel.ApplicationId, jobType *jobmodel.JobType) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tables := []string{"last_runs", "historic_runs", "run_numbers"}
	for _, table := range tables {
		query := fmt.Sprintf(`DELETE FROM %s WHERE tenant=$1 AND application=$2 AND instance=$3`, table)
		args := []any{app.Tenant, app.Application, app.Instance}
		if jobType != nil {
			query += " AND job_type=$4"
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
		SELECT DISTINCT tenant, application, instance FROM last_runs
		UNION
		SELECT DISTINCT tenant, application, instance FROM historic_runs
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobmodel.ApplicationId
	for rows.Next() {
		var app jobmodel.ApplicationId
		if err := rows.Scan(&app.Tenant, &app.Application, &app.Instance); err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func (b *Backend) Close() error {
	return b.db.Close()
}
