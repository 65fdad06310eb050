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

package steprunner

import (
	"context"
	"log/slog"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

// copyVespaLogs is best-effort: a vanished deployment just means there is
// nothing left to copy, not a failure. Any other collaborator error is
// the step's only failure mode.
func (r *Runner) copyVespaLogs(ctx context.Context, locked LockedStep, dep jobmodel.Deployment) (StepOutcome, error) {
	run := locked.Run

	lines, err := r.collab.ConfigServer.GetLogs(ctx, dep)
	if err != nil {
		if deploymentVanished(err) {
			running := jobmodel.Running
			return StepOutcome{Status: &running}, nil
		}
		return StepOutcome{}, err
	}

	var entries []jobmodel.LogEntry
	for _, line := range lines {
		entry, ok := externals.ParseVespaLogLine(line)
		if !ok {
			continue
		}
		entry.Step = jobmodel.CopyVespaLogs
		entries = append(entries, entry)
	}
	if len(entries) > 0 {
		if _, err := r.collab.Logs.Append(ctx, run.ID, entries); err != nil {
			return StepOutcome{}, err
		}
	}

	running := jobmodel.Running
	return StepOutcome{Status: &running}, nil
}

// deactivate backs both deactivateReal and deactivateTester: a vanished
// deployment is already the desired end state.
func (r *Runner) deactivate(ctx context.Context, dep jobmodel.Deployment) (StepOutcome, error) {
	if err := r.collab.ConfigServer.Deactivate(ctx, dep); err != nil && !deploymentVanished(err) {
		return StepOutcome{}, err
	}
	running := jobmodel.Running
	return StepOutcome{Status: &running}, nil
}

// report is idempotent: it flushes the run's log to the archive and, if
// the run ended in failure, resolves and sends exactly one failure mail.
// Mailer errors are logged, never folded into the run's status (§7).
func (r *Runner) report(ctx context.Context, locked LockedStep) (StepOutcome, error) {
	run := locked.Run

	if err := r.collab.Logs.Flush(ctx, run.ID); err != nil {
		r.collab.Logger.Warn("flushing run log failed", slog.String("run", run.ID.String()), slog.Any("error", err))
	}

	if run.HasFailed() {
		if variant, ok := externals.VariantFor(run.Status); ok {
			recipients := locked.Notifications.Resolve(externals.NotifyFailing, locked.AuthorEmail)
			if len(recipients) > 0 {
				mail := externals.BuildFailureMail(recipients, run, variant)
				if err := r.collab.Mailer.Send(ctx, mail); err != nil {
					r.collab.Logger.Warn("sending failure mail failed", slog.String("run", run.ID.String()), slog.Any("error", err))
				}
			}
		}
	}

	running := jobmodel.Running
	return StepOutcome{Status: &running}, nil
}
