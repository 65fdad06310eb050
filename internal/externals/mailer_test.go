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

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

func TestNotificationSpecResolveAuthorRole(t *testing.T) {
	spec := externals.NotificationSpec{
		Recipients: []externals.NotificationRecipient{
			{When: externals.NotifyFailing, Email: "oncall@example.com"},
			{When: externals.NotifyFailing, Role: externals.RoleAuthor},
			{When: externals.NotifyFailingCommit, Email: "other@example.com"},
		},
	}

	got := spec.Resolve(externals.NotifyFailing, "author@example.com")
	assert.ElementsMatch(t, []string{"oncall@example.com", "author@example.com"}, got)
}

func TestNotificationSpecResolveEmptyWhenNoMatch(t *testing.T) {
	spec := externals.NotificationSpec{
		Recipients: []externals.NotificationRecipient{
			{When: externals.NotifyFailingCommit, Email: "other@example.com"},
		},
	}
	assert.Empty(t, spec.Resolve(externals.NotifyFailing, "author@example.com"))
}

func TestNotificationSpecResolveDeduplicates(t *testing.T) {
	spec := externals.NotificationSpec{
		Recipients: []externals.NotificationRecipient{
			{When: externals.NotifyFailing, Email: "a@example.com"},
			{When: externals.NotifyFailing, Email: "a@example.com"},
		},
	}
	assert.Equal(t, []string{"a@example.com"}, spec.Resolve(externals.NotifyFailing, ""))
}

func TestVariantForMapsRunStatus(t *testing.T) {
	cases := map[jobmodel.RunStatus]externals.MailVariant{
		jobmodel.OutOfCapacity:      externals.MailCapacity,
		jobmodel.DeploymentFailed:   externals.MailDeployment,
		jobmodel.InstallationFailed: externals.MailInstallation,
		jobmodel.TestFailure:        externals.MailTest,
		jobmodel.Error:              externals.MailSystemError,
	}
	for status, want := range cases {
		got, ok := externals.VariantFor(status)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := externals.VariantFor(jobmodel.Success)
	assert.False(t, ok)
}
