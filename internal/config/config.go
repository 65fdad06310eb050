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

// Package config loads the job runner's controller configuration: store
// backend selection, lock timeouts, step timeouts, the maintainer worker
// pool, history retention, and the zone table. Configuration is read from
// a YAML file and then overridden by HOSTEDJOB_* environment variables,
// following the same layering the rest of this codebase uses for logging
// configuration (see internal/log.FromEnv).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete controller configuration.
type Config struct {
	// Version indicates the config format version (1 = initial release).
	Version int `yaml:"version,omitempty"`

	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Maintainer MaintainerConfig `yaml:"maintainer"`
	History    HistoryConfig    `yaml:"history"`
	Zones      []ZoneConfig     `yaml:"zones,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// Format is the log output encoding (json, text).
	Format string `yaml:"format"`
}

// StoreConfig selects and configures the durable store backend.
type StoreConfig struct {
	// Backend is one of "memory", "postgres", "sqlite".
	Backend string `yaml:"backend"`

	// ConnectionString is the Postgres DSN, used when Backend == "postgres".
	ConnectionString string `yaml:"connection_string,omitempty"`
	// Path is the SQLite database file path, used when Backend == "sqlite".
	Path string `yaml:"path,omitempty"`

	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
	MaxIdleConns int `yaml:"max_idle_conns,omitempty"`
}

// TimeoutsConfig holds the job runner's named timeouts (spec §4.3/§6).
type TimeoutsConfig struct {
	// Job is the overall wall-clock budget for a run before the maintainer
	// aborts it.
	Job time.Duration `yaml:"job"`
	// Endpoint bounds how long startTests waits for routing endpoints to
	// become available.
	Endpoint time.Duration `yaml:"endpoint"`
	// Installation bounds installReal/installTester/installInitialReal.
	Installation time.Duration `yaml:"installation"`
	// Certificate bounds the validity window minted for a tester certificate.
	Certificate time.Duration `yaml:"certificate"`
	// Lock bounds how long a lock acquisition attempt waits before giving up.
	Lock time.Duration `yaml:"lock"`
}

// DefaultTimeouts returns the spec's named timeout defaults.
func DefaultTimeouts() TimeoutsConfig {
	return TimeoutsConfig{
		Job:          4 * time.Hour,
		Endpoint:     15 * time.Minute,
		Installation: 150 * time.Minute,
		Certificate:  300 * time.Minute,
		Lock:         30 * time.Second,
	}
}

// MaintainerConfig configures the periodic Maintainer Loop.
type MaintainerConfig struct {
	// TickInterval is how often the maintainer scans for ready steps.
	TickInterval time.Duration `yaml:"tick_interval"`
	// WorkerPoolSize bounds the number of steps dispatched concurrently.
	WorkerPoolSize int `yaml:"worker_pool_size"`
	// LeaderRetryInterval is how often a non-leader controller replica
	// retries acquiring the maintainer leadership lease.
	LeaderRetryInterval time.Duration `yaml:"leader_retry_interval"`
}

// DefaultMaintainer returns the maintainer loop's default tuning.
func DefaultMaintainer() MaintainerConfig {
	return MaintainerConfig{
		TickInterval:        time.Second,
		WorkerPoolSize:      32,
		LeaderRetryInterval: 5 * time.Second,
	}
}

// HistoryConfig bounds how much run history the controller keeps per job
// when it archives a finished run.
type HistoryConfig struct {
	// Length is the maximum number of historic runs kept per job.
	Length int `yaml:"length"`
	// MaxAge is the maximum age of a historic run before it is pruned,
	// regardless of Length.
	MaxAge time.Duration `yaml:"max_age"`
}

// DefaultHistory returns the spec's history retention defaults (256 runs,
// 60 days).
func DefaultHistory() HistoryConfig {
	return HistoryConfig{
		Length: 256,
		MaxAge: 60 * 24 * time.Hour,
	}
}

// ZoneConfig describes one deployment zone available to production jobs.
type ZoneConfig struct {
	// Environment is "prod", "staging", or "dev".
	Environment string `yaml:"environment"`
	// Region is the zone's region name (e.g. "us-east-3").
	Region string `yaml:"region"`
}

// Default returns a Config populated with sensible defaults for local
// development: an in-memory store and stock timeouts.
func Default() *Config {
	return &Config{
		Version: 1,
		Log:     LogConfig{Level: "info", Format: "json"},
		Store:   StoreConfig{Backend: "memory"},
		Timeouts:   DefaultTimeouts(),
		Maintainer: DefaultMaintainer(),
		History:    DefaultHistory(),
		Zones: []ZoneConfig{
			{Environment: "prod", Region: "us-east-3"},
			{Environment: "prod", Region: "us-west-1"},
			{Environment: "prod", Region: "eu-west-1"},
			{Environment: "dev", Region: "us-east-1"},
		},
	}
}

// Load reads a YAML config file from path, applies HOSTEDJOB_* environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, jobrunnererrors.Wrapf(err, "config: reading %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &jobrunnererrors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers HOSTEDJOB_* environment variables over the loaded config.
// Environment variables take precedence over file-provided values, matching
// internal/log.FromEnv's precedence.
func (c *Config) applyEnv() {
	if v := os.Getenv("HOSTEDJOB_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HOSTEDJOB_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("HOSTEDJOB_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("HOSTEDJOB_STORE_CONNECTION_STRING"); v != "" {
		c.Store.ConnectionString = v
	}
	if v := os.Getenv("HOSTEDJOB_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("HOSTEDJOB_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.Job = d
		}
	}
	if v := os.Getenv("HOSTEDJOB_MAINTAINER_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Maintainer.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("HOSTEDJOB_HISTORY_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.Length = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "postgres", "sqlite":
	default:
		return &jobrunnererrors.ConfigError{Key: "store.backend", Reason: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}
	if c.Store.Backend == "postgres" && c.Store.ConnectionString == "" {
		return &jobrunnererrors.ConfigError{Key: "store.connection_string", Reason: "required when store.backend is postgres"}
	}
	if c.Maintainer.WorkerPoolSize <= 0 {
		return &jobrunnererrors.ConfigError{Key: "maintainer.worker_pool_size", Reason: "must be positive"}
	}
	if c.History.Length <= 0 {
		return &jobrunnererrors.ConfigError{Key: "history.length", Reason: "must be positive"}
	}
	if c.Timeouts.Job <= 0 {
		return &jobrunnererrors.ConfigError{Key: "timeouts.job", Reason: "must be positive"}
	}
	return nil
}
