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

package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hlog "github.com/tombee/hostedjob/internal/log"
)

func TestFromEnvDefaultsToInfoJSON(t *testing.T) {
	cfg := hlog.FromEnv()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, hlog.FormatJSON, cfg.Format)
}

func TestFromEnvHonoursDebugOverride(t *testing.T) {
	t.Setenv("HOSTEDJOB_DEBUG", "1")
	cfg := hlog.FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestFromEnvHonoursLevelAndFormat(t *testing.T) {
	t.Setenv("HOSTEDJOB_LOG_LEVEL", "warn")
	t.Setenv("HOSTEDJOB_LOG_FORMAT", "text")
	cfg := hlog.FromEnv()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, hlog.FormatText, cfg.Format)
}

func TestNewEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := hlog.DefaultConfig()
	cfg.Output = &buf
	logger := hlog.New(cfg)

	logger.Info("run started", hlog.String(hlog.RunIDKey, "tenant.app.default:systemTest:1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run started", entry["msg"])
	assert.Equal(t, "tenant.app.default:systemTest:1", entry[hlog.RunIDKey])
}

func TestWithRunAndStepContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	scoped := hlog.WithStepContext(logger, "tenant.app.default:systemTest:1", "deployTester")
	scoped.Info("step dispatched")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "deployTester", entry[hlog.StepKey])
}

func TestSanitizeAPIKey(t *testing.T) {
	assert.Equal(t, "[REDACTED]", hlog.SanitizeAPIKey("ab"))
	assert.Equal(t, "...6789", hlog.SanitizeAPIKey("0123456789"))
}
