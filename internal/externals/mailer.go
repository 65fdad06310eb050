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

package externals

import (
	"context"
	"fmt"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

// NotificationWhen names the occasion a notification recipient subscribes
// to. Only "failing" and "failingCommit" are consumed by report (§6).
type NotificationWhen string

const (
	NotifyFailing       NotificationWhen = "failing"
	NotifyFailingCommit NotificationWhen = "failingCommit"
)

// NotificationRole marks a recipient entry as resolved to a fixed address
// or to the application version's author.
type NotificationRole string

const (
	RoleAuthor NotificationRole = "author"
)

// NotificationRecipient is one entry of an application's notification
// spec: either a literal email address or the "author" role, active for
// a given NotificationWhen.
type NotificationRecipient struct {
	When    NotificationWhen
	Email   string // set when this entry is a literal address
	Role    NotificationRole
}

// NotificationSpec is the application's full run-failure notification
// configuration, read by report when a run has failed.
type NotificationSpec struct {
	Recipients []NotificationRecipient
}

// Resolve returns the de-duplicated recipient address set for mail sent on
// the given NotificationWhen, folding in the author email when the spec
// names the author role for "failing"/"failingCommit".
func (s NotificationSpec) Resolve(when NotificationWhen, authorEmail string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		out = append(out, addr)
	}
	for _, r := range s.Recipients {
		if r.When != when {
			continue
		}
		if r.Role == RoleAuthor {
			add(authorEmail)
			continue
		}
		add(r.Email)
	}
	return out
}

// MailVariant selects the failure-mail template report chooses by
// RunStatus.
type MailVariant string

const (
	MailCapacity     MailVariant = "capacity"
	MailDeployment   MailVariant = "deployment"
	MailInstallation MailVariant = "installation"
	MailTest         MailVariant = "test"
	MailSystemError  MailVariant = "system-error"
)

// VariantFor maps a terminal RunStatus to the mail variant report sends,
// per §6. OutOfCapacity only produces a capacity mail in production;
// callers are expected to have already filtered on that.
func VariantFor(status jobmodel.RunStatus) (MailVariant, bool) {
	switch status {
	case jobmodel.OutOfCapacity:
		return MailCapacity, true
	case jobmodel.DeploymentFailed:
		return MailDeployment, true
	case jobmodel.InstallationFailed:
		return MailInstallation, true
	case jobmodel.TestFailure:
		return MailTest, true
	case jobmodel.Error:
		return MailSystemError, true
	default:
		return "", false
	}
}

// Mail is the message report hands to the mailer.
type Mail struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Mailer is the runner's only view of the outbound mail system.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// BuildFailureMail renders the subject/body for run's failure report. The
// body is intentionally terse; rendering richer mail content is explicitly
// out of scope (§1).
func BuildFailureMail(recipients []string, run jobmodel.Run, variant MailVariant) Mail {
	return Mail{
		To:      recipients,
		Subject: fmt.Sprintf("[%s] %s %s run %d failed: %s", run.ID.Application, run.ID.Type, variant, run.ID.Number, run.Status),
		Body:    fmt.Sprintf("Run %s of %s reached status %s.\nTarget platform: %s\nTarget application: %s", run.ID, run.ID.Application, run.Status, run.Versions.TargetPlatform, run.Versions.TargetApplication),
	}
}
