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

package jobmodel_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

func TestRunSerialisationRoundTrip(t *testing.T) {
	r := jobmodel.NewRun(testRunId(jobmodel.JobStagingTest, 12), jobmodel.Versions{
		TargetPlatform: "1.2.3", TargetApplication: "321",
		SourcePlatform: "1.2.2", SourceApplication: "320",
	}, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	r = r.With(jobmodel.Running, jobmodel.DeployTester)
	r = r.With(jobmodel.Running, jobmodel.DeployInitialReal)
	r, err := r.WithCertificate("-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----\n")
	require.NoError(t, err)
	r = r.WithTestLogEntry(3)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var restored jobmodel.Run
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, r, restored)
}

// TestRunSnapshotFixture exercises scenario 7 of the spec's testable
// properties: a fixed canonical JSON document for a 12-step run with mixed
// statuses deserialises correctly and round-trips after a further mutation.
func TestRunSnapshotFixture(t *testing.T) {
	const snapshot = `{
		"id": {
			"application": {"tenant": "tenant1", "application": "real", "instance": "default"},
			"type": "stagingTest",
			"number": 7
		},
		"profile": ["deployTester", "installTester", "deployInitialReal", "installInitialReal",
			"deployReal", "installReal", "startTests", "endTests", "copyVespaLogs",
			"deactivateReal", "deactivateTester", "report"],
		"always_run": ["copyVespaLogs", "deactivateReal", "deactivateTester", "report"],
		"versions": {
			"target_platform": "7.1.2",
			"target_application": "450",
			"source_platform": "7.1.1",
			"source_application": "449"
		},
		"start": "2026-01-01T00:00:00Z",
		"steps": {
			"deployTester": "succeeded",
			"installTester": "succeeded",
			"deployInitialReal": "succeeded",
			"installInitialReal": "succeeded",
			"deployReal": "succeeded",
			"installReal": "succeeded",
			"startTests": "succeeded",
			"endTests": "unfinished",
			"copyVespaLogs": "unfinished",
			"deactivateReal": "unfinished",
			"deactivateTester": "unfinished",
			"report": "unfinished"
		},
		"status": "running",
		"last_test_log_entry": 3
	}`

	var r jobmodel.Run
	require.NoError(t, json.Unmarshal([]byte(snapshot), &r))

	assert.Equal(t, jobmodel.StepSucceeded, r.Steps[jobmodel.StartTests])
	assert.Equal(t, jobmodel.StepUnfinished, r.Steps[jobmodel.EndTests])
	assert.Equal(t, "7.1.2", r.Versions.TargetPlatform)
	assert.Equal(t, "7.1.1", r.Versions.SourcePlatform)
	assert.Equal(t, int64(3), r.LastTestLogEntry)
	assert.Equal(t, jobmodel.Running, r.Status)
	assert.Empty(t, r.TesterCertPEM)

	mutated := r.With(jobmodel.Running, jobmodel.EndTests)
	data, err := json.Marshal(mutated)
	require.NoError(t, err)

	var restored jobmodel.Run
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, mutated, restored)
}
