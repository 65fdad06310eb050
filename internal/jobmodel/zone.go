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

// Zone is a named deployment target: an environment paired with a region.
type Zone struct {
	Environment string `json:"environment"`
	Region      string `json:"region"`
}

func (z Zone) String() string {
	return fmt.Sprintf("%s.%s", z.Environment, z.Region)
}

// zoneByJobType is the fixed JobType-to-Zone table. Production JobTypes
// name their zone directly; systemTest/stagingTest run in the "test" and
// "staging" environments of the default region, and the manually deployed
// dev JobType runs in its own region.
var zoneByJobType = map[JobType]Zone{
	JobSystemTest:        {Environment: "test", Region: "us-east-3"},
	JobStagingTest:       {Environment: "staging", Region: "us-east-3"},
	JobProductionUsEast3: {Environment: "prod", Region: "us-east-3"},
	JobProductionUsWest1: {Environment: "prod", Region: "us-west-1"},
	JobProductionEuWest1: {Environment: "prod", Region: "eu-west-1"},
	JobDevUsEast1:        {Environment: "dev", Region: "us-east-1"},
}

// ZoneFor returns the deployment zone a JobType targets.
func ZoneFor(jt JobType) Zone {
	return zoneByJobType[jt]
}

// Deployment identifies one application's deployment to one zone: the
// addressing unit the config server, routing layer and tester cloud all
// key off.
type Deployment struct {
	Application ApplicationId `json:"application"`
	Zone        Zone          `json:"zone"`
}

func (d Deployment) String() string {
	return fmt.Sprintf("%s@%s", d.Application, d.Zone)
}
