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
	"time"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

// zoneBoundedTimeout shortens base to the zone's own TTL minus a minute,
// when that TTL is smaller, so logs can still be copied before the zone
// reclaims the deployment out from under a stuck install.
func (r *Runner) zoneBoundedTimeout(zone jobmodel.Zone, base time.Duration) time.Duration {
	ttl, ok := r.collab.ZoneTTL[zone]
	if ok && ttl > time.Minute && ttl-time.Minute < base {
		return ttl - time.Minute
	}
	return base
}

func allNodesConverged(nodes []externals.NodeInfo, wantedPlatform string) bool {
	for _, n := range nodes {
		if n.CurrentVersion != wantedPlatform {
			return false
		}
		if n.RestartGeneration < n.WantedRestartGeneration {
			return false
		}
		if n.RebootGeneration < n.WantedRebootGeneration {
			return false
		}
	}
	return true
}

// install implements installTester/installInitialReal/installReal: wait
// for convergence, bounded by the endpoint and installation timeouts
// measured from the run's start (§4.4).
func (r *Runner) install(ctx context.Context, locked LockedStep, dep jobmodel.Deployment, wantedPlatform string, isTester bool) (StepOutcome, error) {
	run := locked.Run
	age := r.now().Sub(run.Start)

	endpoints, err := r.collab.Routing.ClusterEndpoints(ctx, dep.Application, []jobmodel.Zone{locked.Zone})
	if err != nil {
		return StepOutcome{}, err
	}
	if len(endpoints[locked.Zone]) == 0 {
		if age >= r.zoneBoundedTimeout(locked.Zone, r.collab.Timeouts.Endpoint) {
			errStatus := jobmodel.Error
			return StepOutcome{Status: &errStatus}, nil
		}
		return StepOutcome{}, nil
	}

	report, err := r.collab.ConfigServer.ConvergeServices(ctx, dep, wantedPlatform)
	if err != nil {
		return StepOutcome{}, err
	}
	nodes, err := r.collab.ConfigServer.ListNodes(ctx, dep, externals.NodeFilter{Active: true})
	if err != nil {
		return StepOutcome{}, err
	}

	if report.Converged && allNodesConverged(nodes, wantedPlatform) {
		running := jobmodel.Running
		return StepOutcome{Status: &running}, nil
	}

	if age >= r.zoneBoundedTimeout(locked.Zone, r.collab.Timeouts.Installation) {
		if isTester {
			errStatus := jobmodel.Error
			return StepOutcome{Status: &errStatus}, nil
		}
		failed := jobmodel.InstallationFailed
		return StepOutcome{Status: &failed}, nil
	}
	return StepOutcome{}, nil
}
