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

package errors

import "errors"

// Sentinel errors returned by the Job Controller's public contract
// (spec.md §4.3). Callers compare with errors.Is, since the controller
// wraps these with contextual detail before returning them.
var (
	// ErrAlreadyRunning is returned by Start when an active run already
	// exists for the target (ApplicationId, JobType).
	ErrAlreadyRunning = errors.New("jobrunner: an active run already exists for this job")

	// ErrInvalidVersions is returned by Start when targetApplication names
	// a build number the application registry has no record of, outside
	// manually deployed job types.
	ErrInvalidVersions = errors.New("jobrunner: target application version is unknown")

	// ErrApplicationUnknown is returned by Submit when the application has
	// no prior registration.
	ErrApplicationUnknown = errors.New("jobrunner: application is not registered")

	// ErrNotManuallyDeployed is returned by Deploy when the given JobType
	// does not permit direct deployment.
	ErrNotManuallyDeployed = errors.New("jobrunner: job type does not accept manual deployment")
)
