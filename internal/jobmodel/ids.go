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

// Package jobmodel holds the immutable-value types that describe a single
// continuous deployment job run: the identity of the application and job,
// the run itself, its steps, and its log entries. Nothing in this package
// talks to storage or to external systems; it is pure data plus the
// transformations spec'd for Run.
package jobmodel

import "fmt"

// ApplicationId identifies a tenant's application instance.
type ApplicationId struct {
	Tenant      string `json:"tenant"`
	Application string `json:"application"`
	Instance    string `json:"instance"`
}

// String renders the canonical "tenant.application.instance" form used in
// log lines and as a map/lock key component.
func (a ApplicationId) String() string {
	return fmt.Sprintf("%s.%s.%s", a.Tenant, a.Application, a.Instance)
}

// JobType is a symbolic, fixed-enumeration job name bound to an environment
// and zone. See the Step Registry for the profile each JobType runs.
type JobType string

const (
	JobSystemTest         JobType = "systemTest"
	JobStagingTest        JobType = "stagingTest"
	JobProductionUsEast3  JobType = "productionUsEast3"
	JobProductionUsWest1  JobType = "productionUsWest1"
	JobProductionEuWest1  JobType = "productionEuWest1"
	JobDevUsEast1         JobType = "devUsEast1"
)

// IsProduction reports whether the job type deploys to a production zone.
func (j JobType) IsProduction() bool {
	switch j {
	case JobProductionUsEast3, JobProductionUsWest1, JobProductionEuWest1:
		return true
	default:
		return false
	}
}

// IsManuallyDeployed reports whether Controller.Deploy is allowed to target
// this job type directly, bypassing the normal start() submission flow.
func (j JobType) IsManuallyDeployed() bool {
	return j == JobDevUsEast1
}

// RunId identifies one execution of a JobType for an ApplicationId. Number
// is strictly increasing per (ApplicationId, JobType) and never reused.
type RunId struct {
	Application ApplicationId `json:"application"`
	Type        JobType       `json:"type"`
	Number      int64         `json:"number"`
}

// String renders a stable identifier suitable for lock keys and log store
// keys: "tenant.application.instance-jobType-number".
func (r RunId) String() string {
	return fmt.Sprintf("%s-%s-%d", r.Application, r.Type, r.Number)
}

// JobKey identifies a (ApplicationId, JobType) pair: the unit the
// application-and-job lock scope serialises.
type JobKey struct {
	Application ApplicationId `json:"application"`
	Type        JobType       `json:"type"`
}

func (k JobKey) String() string {
	return fmt.Sprintf("%s-%s", k.Application, k.Type)
}

// Of returns the JobKey a RunId belongs to.
func (r RunId) Of() JobKey {
	return JobKey{Application: r.Application, Type: r.Type}
}
