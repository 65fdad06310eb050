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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 256, cfg.History.Length)
}

func TestLoadWithoutPathReturnsDefault(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Store.Backend, cfg.Store.Backend)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostedjob.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: sqlite
  path: /var/lib/hostedjob/controller.db
maintainer:
  worker_pool_size: 8
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/hostedjob/controller.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Maintainer.WorkerPoolSize)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostedjob.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: memory\n"), 0o644))

	t.Setenv("HOSTEDJOB_STORE_BACKEND", "sqlite")
	t.Setenv("HOSTEDJOB_STORE_PATH", ":memory:")
	t.Setenv("HOSTEDJOB_JOB_TIMEOUT", "2h")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Timeouts.Job)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "dynamodb"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresConnectionStringForPostgres(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.Store.ConnectionString = "postgres://localhost/hostedjob"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveWorkerPool(t *testing.T) {
	cfg := config.Default()
	cfg.Maintainer.WorkerPoolSize = 0
	assert.Error(t, cfg.Validate())
}
