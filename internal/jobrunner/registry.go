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

package jobrunner

import (
	"sync"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// applicationRecord is everything the controller tracks about one
// application outside of its runs: whether submit has ever registered it,
// its notification spec, and every ApplicationVersion submit has minted,
// keyed by build number so a Run's Versions (which carry only the build
// number as a string) can be resolved back to an authorEmail at dispatch
// time.
type applicationRecord struct {
	projectID     string
	notifications externals.NotificationSpec

	nextBuildNumber int64
	versions        map[int64]jobmodel.ApplicationVersion

	// internallyDeployed tracks submit/unregister's "registered" bit
	// (spec.md §4.3): collectGarbage destroys data for any application
	// with persisted job data that is not internally deployed.
	internallyDeployed bool
}

// registry is the controller's in-process record of application metadata
// that spec.md's data model (§3) does not otherwise give a home: it is not
// a Run, a Version document keyed by RunId, or log data, so it does not
// belong in store.Store or logstore.Store. It is rebuilt from submit
// calls; unlike runs it carries no durability guarantee of its own, mirroring
// how the teacher's operation.Registry (internal/operation/registry.go)
// holds connector definitions in memory guarded by a single mutex rather
// than through the workflow store.
type registry struct {
	mu   sync.RWMutex
	apps map[jobmodel.ApplicationId]*applicationRecord
}

func newRegistry() *registry {
	return &registry{apps: make(map[jobmodel.ApplicationId]*applicationRecord)}
}

// ensure returns app's record, creating it (not yet deployed, empty
// version history) on first reference. Only register calls this; submit
// does not, so submit's "fails if application unknown" clause is enforced
// by its own lookup rather than by ensure.
func (r *registry) ensure(app jobmodel.ApplicationId) *applicationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.apps[app]
	if !ok {
		rec = &applicationRecord{versions: make(map[int64]jobmodel.ApplicationVersion)}
		r.apps[app] = rec
	}
	return rec
}

// register marks app known (created) with the given project id and
// notification spec. Re-registering an already-known application updates
// its notification spec without touching its version history.
func (r *registry) register(app jobmodel.ApplicationId, projectID string, notifications externals.NotificationSpec) {
	rec := r.ensure(app)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.projectID = projectID
	rec.notifications = notifications
}

// known reports whether app has ever been registered.
func (r *registry) known(app jobmodel.ApplicationId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apps[app]
	return ok
}

// submitVersion assigns the next build number for app, records the
// resulting ApplicationVersion, marks app internally deployed, and
// returns the new version. Returns ErrApplicationUnknown if app was never
// registered.
func (r *registry) submitVersion(app jobmodel.ApplicationId, rev jobmodel.SourceRevision, authorEmail string, buildTimeMillis int64) (jobmodel.ApplicationVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.apps[app]
	if !ok {
		return jobmodel.ApplicationVersion{}, jobrunnererrors.ErrApplicationUnknown
	}
	rec.nextBuildNumber++
	version := jobmodel.ApplicationVersion{
		SourceRevision: rev,
		BuildNumber:    rec.nextBuildNumber,
		AuthorEmail:    authorEmail,
		BuildTime:      buildTimeMillis,
	}
	rec.versions[version.BuildNumber] = version
	rec.internallyDeployed = true
	return version, nil
}

// version resolves a build number recorded by a prior submit.
func (r *registry) version(app jobmodel.ApplicationId, buildNumber int64) (jobmodel.ApplicationVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.apps[app]
	if !ok {
		return jobmodel.ApplicationVersion{}, false
	}
	v, ok := rec.versions[buildNumber]
	return v, ok
}

// notificationSpec returns app's notification spec, or a zero value
// (resolves to no recipients) if app is unknown.
func (r *registry) notificationSpec(app jobmodel.ApplicationId) externals.NotificationSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.apps[app]
	if !ok {
		return externals.NotificationSpec{}
	}
	return rec.notifications
}

// unregister clears app's internally-deployed bit. Its version history is
// kept, since Prune/Get on already-shipped packages must keep working
// until collectGarbage destroys the application's run data entirely.
func (r *registry) unregister(app jobmodel.ApplicationId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.apps[app]; ok {
		rec.internallyDeployed = false
	}
}

// internallyDeployedState reports app's current registered state.
func (r *registry) internallyDeployedState(app jobmodel.ApplicationId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.apps[app]
	return ok && rec.internallyDeployed
}

// oldestKept returns the lowest build number among versions still
// referenced by the given set of currently-deployed build numbers, used by
// Submit to decide the cutoff for ArtifactStore.Prune. If deployed is
// empty, the most recent version is kept and everything older is
// prunable.
func (r *registry) oldestKept(app jobmodel.ApplicationId, deployed []int64, latest int64) jobmodel.ApplicationVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.apps[app]
	if !ok {
		return jobmodel.ApplicationVersion{BuildNumber: latest}
	}
	oldest := latest
	for _, d := range deployed {
		if d < oldest {
			oldest = d
		}
	}
	if v, ok := rec.versions[oldest]; ok {
		return v
	}
	return jobmodel.ApplicationVersion{BuildNumber: oldest}
}
