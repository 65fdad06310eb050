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

import "strconv"

// Versions pins the platform and application versions a Run deploys.
// Target* is fixed at start and never changes. Source* is only set when
// staging an upgrade from a previous deployment; a run without it deploys
// target directly.
type Versions struct {
	TargetPlatform    string `json:"target_platform"`
	TargetApplication string `json:"target_application"`
	SourcePlatform    string `json:"source_platform,omitempty"`
	SourceApplication string `json:"source_application,omitempty"`
}

// Staged reports whether this Versions value stages an upgrade from a
// previous deployment (both source fields set).
func (v Versions) Staged() bool {
	return v.SourcePlatform != "" && v.SourceApplication != ""
}

// SourceRevision identifies the VCS commit an ApplicationVersion was built
// from.
type SourceRevision struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
}

// ApplicationVersion is an immutable artifact created by Controller.Submit:
// one build of one application, addressable by build number.
type ApplicationVersion struct {
	SourceRevision SourceRevision `json:"source_revision"`
	BuildNumber    int64          `json:"build_number"`
	AuthorEmail    string         `json:"author_email,omitempty"`
	CompileVersion string         `json:"compile_version,omitempty"`
	BuildTime      int64          `json:"build_time,omitempty"` // unix millis
}

// String renders "buildNumber" as used in TargetApplication/SourceApplication
// fields of Versions.
func (v ApplicationVersion) String() string {
	return strconv.FormatInt(v.BuildNumber, 10)
}
