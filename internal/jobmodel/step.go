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

import "fmt"

// Step is a unit of work within a run. The full set is fixed; it never
// grows at runtime. Prerequisites and always-run marking are looked up in
// the static tables below, never computed.
type Step int

const (
	DeployTester Step = iota
	InstallTester
	DeployInitialReal
	InstallInitialReal
	DeployReal
	InstallReal
	StartTests
	EndTests
	CopyVespaLogs
	DeactivateReal
	DeactivateTester
	Report

	stepCount
)

var stepNames = [stepCount]string{
	DeployTester:       "deployTester",
	InstallTester:      "installTester",
	DeployInitialReal:  "deployInitialReal",
	InstallInitialReal: "installInitialReal",
	DeployReal:         "deployReal",
	InstallReal:        "installReal",
	StartTests:         "startTests",
	EndTests:           "endTests",
	CopyVespaLogs:      "copyVespaLogs",
	DeactivateReal:     "deactivateReal",
	DeactivateTester:   "deactivateTester",
	Report:             "report",
}

func (s Step) String() string {
	if s < 0 || s >= stepCount {
		return "unknown"
	}
	return stepNames[s]
}

// MarshalText renders the step by name, so Run JSON (and log store keys)
// read "deployTester" rather than a bare enum ordinal.
func (s Step) MarshalText() ([]byte, error) {
	if s < 0 || s >= stepCount {
		return nil, fmt.Errorf("jobmodel: invalid step %d", int(s))
	}
	return []byte(stepNames[s]), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *Step) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range stepNames {
		if n == name {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("jobmodel: unknown step %q", name)
}

// allSteps is the stable enumeration order used as a presentation tie-break
// and as the iteration order for readySteps().
var allSteps = [...]Step{
	DeployTester, InstallTester,
	DeployInitialReal, InstallInitialReal,
	DeployReal, InstallReal,
	StartTests, EndTests,
	CopyVespaLogs, DeactivateReal, DeactivateTester,
	Report,
}

// prerequisites is the DAG edges from §4.1: a step is blocked until every
// step in its list has status Succeeded. Once a run has stopped Running,
// an always-run step is gated only by the always-run steps in its list
// (see Run.prereqSatisfied).
var prerequisites = map[Step][]Step{
	DeployTester:       nil,
	InstallTester:      {DeployTester},
	DeployInitialReal:  nil,
	InstallInitialReal: {DeployInitialReal},
	DeployReal:         {InstallInitialReal},
	InstallReal:        {DeployReal},
	StartTests:         {InstallTester, InstallReal},
	EndTests:           {StartTests},
	CopyVespaLogs:      {EndTests},
	DeactivateReal:     {CopyVespaLogs},
	DeactivateTester:   {CopyVespaLogs},
	Report:             {DeactivateReal, DeactivateTester},
}

// Prerequisites returns the (read-only) prerequisite list for a step.
func Prerequisites(s Step) []Step {
	return prerequisites[s]
}

// StepStatus is the state of one step within one run.
type StepStatus string

const (
	StepUnfinished StepStatus = "unfinished"
	StepSucceeded  StepStatus = "succeeded"
	StepFailed     StepStatus = "failed"
)

// JobProfile is the selection of steps a JobType runs, plus the subset
// that is always-run (cleanup steps that execute even after failure or
// abort, so long as their always-run prerequisites have succeeded).
type JobProfile struct {
	Steps      map[Step]bool
	AlwaysRun  map[Step]bool
}

// Includes reports whether the profile runs the given step.
func (p JobProfile) Includes(s Step) bool {
	return p.Steps[s]
}

// IsAlwaysRun reports whether the step runs regardless of prior failure.
func (p JobProfile) IsAlwaysRun(s Step) bool {
	return p.AlwaysRun[s]
}

// OrderedSteps returns the profile's steps in stable enumeration order.
func (p JobProfile) OrderedSteps() []Step {
	out := make([]Step, 0, len(p.Steps))
	for _, s := range allSteps {
		if p.Steps[s] {
			out = append(out, s)
		}
	}
	return out
}

func newProfile(steps []Step, alwaysRun []Step) JobProfile {
	p := JobProfile{Steps: make(map[Step]bool, len(steps)), AlwaysRun: make(map[Step]bool, len(alwaysRun))}
	for _, s := range steps {
		p.Steps[s] = true
	}
	for _, s := range alwaysRun {
		p.AlwaysRun[s] = true
	}
	return p
}

var cleanupSteps = []Step{CopyVespaLogs, DeactivateReal, DeactivateTester, Report}

// testProfile is the system-test profile: deploy the tester and the
// application under test directly (no staged upgrade), run tests, tear
// both down, report. DeployReal's prerequisite (InstallInitialReal) is not
// part of this profile, so it is treated as trivially satisfied.
var testProfile = newProfile(
	[]Step{
		DeployTester, InstallTester,
		DeployReal, InstallReal,
		StartTests, EndTests,
		CopyVespaLogs, DeactivateReal, DeactivateTester, Report,
	},
	cleanupSteps,
)

// stagingProfile additionally stages an upgrade: the initial-deployment
// pair deploys the source version before DeployReal lands the target.
var stagingProfile = newProfile(
	[]Step{
		DeployTester, InstallTester,
		DeployInitialReal, InstallInitialReal, DeployReal, InstallReal,
		StartTests, EndTests,
		CopyVespaLogs, DeactivateReal, DeactivateTester, Report,
	},
	cleanupSteps,
)

// productionProfile omits the test steps entirely: deploy, install, then
// copy logs, deactivate and report as cleanup.
var productionProfile = newProfile(
	[]Step{DeployReal, InstallReal, CopyVespaLogs, DeactivateReal, Report},
	[]Step{CopyVespaLogs, DeactivateReal, Report},
)

// devProfile is the manually-deployed profile: deploy, install and report
// only, no test harness, no deactivation (the dev deployment stays up).
var devProfile = newProfile(
	[]Step{DeployReal, InstallReal, Report},
	[]Step{Report},
)

// ProfileFor returns the JobProfile a JobType runs.
func ProfileFor(jt JobType) JobProfile {
	switch jt {
	case JobSystemTest:
		return testProfile
	case JobStagingTest:
		return stagingProfile
	case JobDevUsEast1:
		return devProfile
	default:
		return productionProfile
	}
}
