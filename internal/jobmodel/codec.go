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
	"encoding/json"
	"time"
)

// runDoc is the wire representation of Run. It exists so Run's exported
// field set can evolve independently of the persisted JSON shape, and so
// the zero-value handling of End/TesterCertPEM is explicit rather than
// relying on Go's json defaults.
type runDoc struct {
	ID               RunId                `json:"id"`
	Profile          []Step               `json:"profile"`
	AlwaysRun        []Step               `json:"always_run"`
	Versions         Versions             `json:"versions"`
	Start            time.Time            `json:"start"`
	End              *time.Time           `json:"end,omitempty"`
	Steps            map[Step]StepStatus  `json:"steps"`
	Status           RunStatus            `json:"status"`
	LastTestLogEntry int64                `json:"last_test_log_entry"`
	TesterCertPEM    string               `json:"tester_certificate,omitempty"`
}

// MarshalJSON implements json.Marshaler. The profile is flattened to its
// step/always-run sets so a restored Run reproduces the exact JobProfile
// it was created with, independent of the in-process profile tables
// (important for replaying archived runs after a profile changes).
func (r Run) MarshalJSON() ([]byte, error) {
	doc := runDoc{
		ID:               r.ID,
		Profile:          r.Profile.OrderedSteps(),
		Versions:         r.Versions,
		Start:            r.Start,
		End:              r.End,
		Steps:            r.Steps,
		Status:           r.Status,
		LastTestLogEntry: r.LastTestLogEntry,
		TesterCertPEM:    r.TesterCertPEM,
	}
	for s := range r.Profile.AlwaysRun {
		doc.AlwaysRun = append(doc.AlwaysRun, s)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Run) UnmarshalJSON(data []byte) error {
	var doc runDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	profile := JobProfile{Steps: make(map[Step]bool, len(doc.Profile)), AlwaysRun: make(map[Step]bool, len(doc.AlwaysRun))}
	for _, s := range doc.Profile {
		profile.Steps[s] = true
	}
	for _, s := range doc.AlwaysRun {
		profile.AlwaysRun[s] = true
	}
	*r = Run{
		ID:               doc.ID,
		Profile:          profile,
		Versions:         doc.Versions,
		Start:            doc.Start,
		End:              doc.End,
		Steps:            doc.Steps,
		Status:           doc.Status,
		LastTestLogEntry: doc.LastTestLogEntry,
		TesterCertPEM:    doc.TesterCertPEM,
	}
	return nil
}
