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

package jobmodel

import (
	"errors"
	"time"
)

// ErrCertificateAlreadySet is returned by Run.WithCertificate when a
// tester certificate has already been recorded for this run.
var ErrCertificateAlreadySet = errors.New("tester certificate already set for this run")

// Run is an immutable value: every method below returns a new Run rather
// than mutating the receiver. Persistence is always a read-modify-write of
// a whole Run under the owning lock.
type Run struct {
	ID               RunId                `json:"id"`
	Profile          JobProfile           `json:"profile"`
	Versions         Versions             `json:"versions"`
	Start            time.Time            `json:"start"`
	End              *time.Time           `json:"end,omitempty"`
	Steps            map[Step]StepStatus  `json:"steps"`
	Status           RunStatus            `json:"status"`
	LastTestLogEntry int64                `json:"lastTestLogEntry"`
	TesterCertPEM    string               `json:"testerCertPEM,omitempty"` // empty means "no certificate minted"
}

// NewRun creates a fresh Run at the `initial` state: every step of the
// JobProfile is Unfinished, RunStatus is Running, no end instant.
func NewRun(id RunId, versions Versions, start time.Time) Run {
	profile := ProfileFor(id.Type)
	steps := make(map[Step]StepStatus, len(profile.Steps))
	for s := range profile.Steps {
		steps[s] = StepUnfinished
	}
	return Run{
		ID:       id,
		Profile:  profile,
		Versions: versions,
		Start:    start,
		Steps:    steps,
		Status:   Running,
	}
}

// clone makes a shallow copy with its own Steps map, so callers can mutate
// the copy's map without aliasing the receiver's.
func (r Run) clone() Run {
	steps := make(map[Step]StepStatus, len(r.Steps))
	for k, v := range r.Steps {
		steps[k] = v
	}
	r.Steps = steps
	return r
}

// With sets step's status — Succeeded if outcome is Running or Success,
// Failed otherwise — and, if the outcome is a terminal failure and the run
// is not already terminal (a failure or Aborted), transitions RunStatus too.
func (r Run) With(outcome RunStatus, step Step) Run {
	next := r.clone()

	if outcome == Running || outcome == Success {
		next.Steps[step] = StepSucceeded
	} else {
		next.Steps[step] = StepFailed
	}

	if outcome.IsFailure() && !next.Status.IsTerminal() {
		next.Status = outcome
	}
	return next
}

// WithTestLogEntry advances the log high-water mark. It never regresses:
// a lower id is ignored.
func (r Run) WithTestLogEntry(id int64) Run {
	if id <= r.LastTestLogEntry {
		return r
	}
	next := r.clone()
	next.LastTestLogEntry = id
	return next
}

// WithCertificate records the tester's self-signed X.509 certificate (PEM
// encoded). Fails if a certificate has already been set for this run.
func (r Run) WithCertificate(pem string) (Run, error) {
	if r.TesterCertPEM != "" {
		return r, ErrCertificateAlreadySet
	}
	next := r.clone()
	next.TesterCertPEM = pem
	return next, nil
}

// Aborted sets RunStatus to Aborted unless it is already a terminal
// failure (idempotent: aborting twice, or aborting an already-failed run,
// has no further effect on Status).
func (r Run) Aborted() Run {
	if r.Status.IsTerminal() {
		return r
	}
	next := r.clone()
	next.Status = Aborted
	return next
}

// Finished sets the end instant. It requires that no step is Unfinished
// among the profile's ordinary (non-always-run) steps; callers must verify
// this before calling (see ReadyToFinish). If the run never accumulated a
// failure or abort, its terminal RunStatus becomes Success.
func (r Run) Finished(at time.Time) Run {
	next := r.clone()
	end := at
	next.End = &end
	if next.Status == Running {
		next.Status = Success
	}
	return next
}

// HasEnded reports whether the run has an end instant recorded.
func (r Run) HasEnded() bool {
	return r.End != nil
}

// HasFailed reports whether the run's terminal status is a failure
// (Aborted does not count as a failure for this predicate; only the
// RunStatus.IsFailure() set does).
func (r Run) HasFailed() bool {
	return r.Status.IsFailure()
}

// IsActive reports whether the run has no end instant, i.e. it is the
// run a (ApplicationId, JobType) pair's "last" slot would hold.
func (r Run) IsActive() bool {
	return !r.HasEnded()
}

// ReadyToFinish reports whether every ordinary (non-always-run) step of
// the profile has a terminal status, which is the precondition for
// Finished.
func (r Run) ReadyToFinish() bool {
	for s := range r.Profile.Steps {
		if r.Profile.IsAlwaysRun(s) {
			continue
		}
		if r.Steps[s] == StepUnfinished {
			return false
		}
	}
	return true
}

// CleanupComplete reports whether every always-run step of the profile has
// reached a terminal status (Succeeded or Failed). Used to confirm
// testable property 5 (cleanup completeness).
func (r Run) CleanupComplete() bool {
	for s := range r.Profile.AlwaysRun {
		if r.Steps[s] == StepUnfinished {
			return false
		}
	}
	return true
}

// prereqSatisfied reports whether every prerequisite of s has succeeded.
// A prerequisite that is not part of this run's profile is treated as
// trivially satisfied: the profile simply does not gate on it. Once the
// run is no longer Running, an always-run step gates only on its
// always-run prerequisites, so cleanup is not blocked by ordinary steps
// that will never run.
func (r Run) prereqSatisfied(s Step) bool {
	for _, p := range Prerequisites(s) {
		if !r.Profile.Includes(p) {
			continue
		}
		if r.Status != Running && r.Profile.IsAlwaysRun(s) && !r.Profile.IsAlwaysRun(p) {
			continue
		}
		if r.Steps[p] != StepSucceeded {
			return false
		}
	}
	return true
}

// ReadySteps returns, in stable enumeration order, every step that is
// ready to dispatch: it belongs to the profile, is Unfinished, has its
// prerequisites satisfied (see prereqSatisfied), and either the run is
// still Running or the step is always-run.
func (r Run) ReadySteps() []Step {
	var ready []Step
	for _, s := range r.Profile.OrderedSteps() {
		if r.Steps[s] != StepUnfinished {
			continue
		}
		if !r.prereqSatisfied(s) {
			continue
		}
		if r.Status != Running && !r.Profile.IsAlwaysRun(s) {
			continue
		}
		ready = append(ready, s)
	}
	return ready
}
