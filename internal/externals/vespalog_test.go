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

package externals_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

func TestParseVespaLogLineWellFormed(t *testing.T) {
	line := "1700000000.500000\thost1\t1234\tcontainer\tSearchHandler\tinfo\tquery took 5ms"

	entry, ok := externals.ParseVespaLogLine(line)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000500), entry.Millis)
	assert.Equal(t, jobmodel.LogInfo, entry.Level)
	assert.Equal(t, "host1\tcontainer\tSearchHandler\nquery took 5ms", entry.Text)
	assert.Equal(t, int64(0), entry.ID)
}

func TestParseVespaLogLineUnescapesMessage(t *testing.T) {
	line := "1700000000.0\thost1\t1\tcontainer\tcomp\terror\tline one\\nline two\\tindented"

	entry, ok := externals.ParseVespaLogLine(line)
	require.True(t, ok)
	assert.Contains(t, entry.Text, "line one\nline two\tindented")
	assert.Equal(t, jobmodel.LogError, entry.Level)
}

func TestParseVespaLogLineSkipsWrongFieldCount(t *testing.T) {
	_, ok := externals.ParseVespaLogLine("too\tfew\tfields")
	assert.False(t, ok)
}

func TestParseVespaLogLineSkipsUnparseableEpoch(t *testing.T) {
	line := "not-a-number\thost1\t1\tcontainer\tcomp\tinfo\tmessage"
	_, ok := externals.ParseVespaLogLine(line)
	assert.False(t, ok)
}

func TestLevelMappingCoarsensUnknownToInfo(t *testing.T) {
	line := "1700000000.0\thost1\t1\tcontainer\tcomp\tconfig\tmessage"
	entry, ok := externals.ParseVespaLogLine(line)
	require.True(t, ok)
	assert.Equal(t, jobmodel.LogInfo, entry.Level)
}
