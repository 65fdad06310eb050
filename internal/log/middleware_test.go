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
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hlog "github.com/tombee/hostedjob/internal/log"
)

func TestCallMiddlewareHandlerLogsSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mw := hlog.NewCallMiddleware(logger)

	err := mw.Handler(&hlog.CallRequest{Collaborator: "config-server", Operation: "prepare", RunID: "t.a.default:systemTest:1"}, func() error {
		return nil
	})
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var completed map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &completed))
	assert.Equal(t, true, completed["success"])
	assert.Equal(t, "config-server", completed["collaborator"])
}

func TestCallMiddlewareHandlerLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mw := hlog.NewCallMiddleware(logger)

	wantErr := errors.New("tester cloud unreachable")
	err := mw.Handler(&hlog.CallRequest{Collaborator: "tester-cloud", Operation: "endTests"}, func() error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var completed map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &completed))
	assert.Equal(t, false, completed["success"])
	assert.Equal(t, wantErr.Error(), completed["error"])
}
