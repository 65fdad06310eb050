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

// Package jobrunnertest collects the externals.* test doubles that
// internal/jobrunner, internal/steprunner, and internal/maintainer each
// declared on their own before this package existed. Every fake exposes
// its behavior as overridable func fields (a nil func falls back to the
// fake's plain data fields where it has them, otherwise to a fixed
// default such as a zero value) so one struct definition serves every test's
// particular scripting needs instead of three near-identical copies.
package jobrunnertest

import (
	"context"
	"sync"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
)

// ConfigServer is a scriptable externals.ConfigServer double.
type ConfigServer struct {
	mu sync.Mutex

	DeployFunc             func(ctx context.Context, dep jobmodel.Deployment, platformVersion string, pkg []byte, opts externals.DeployOptions) (externals.PrepareResponse, error)
	DeactivateFunc         func(ctx context.Context, dep jobmodel.Deployment) error
	ConvergeServicesFunc   func(ctx context.Context, dep jobmodel.Deployment, wantedPlatform string) (externals.ConvergenceReport, error)
	ListNodesFunc          func(ctx context.Context, dep jobmodel.Deployment, filter externals.NodeFilter) ([]externals.NodeInfo, error)
	RestartFunc            func(ctx context.Context, dep jobmodel.Deployment, host string) error
	GetLogsFunc            func(ctx context.Context, dep jobmodel.Deployment) ([]string, error)
	GetContentClustersFunc func(ctx context.Context, dep jobmodel.Deployment) ([]string, error)

	Deactivated []jobmodel.Deployment
}

var _ externals.ConfigServer = (*ConfigServer)(nil)

func (f *ConfigServer) Deploy(ctx context.Context, dep jobmodel.Deployment, platformVersion string, pkg []byte, opts externals.DeployOptions) (externals.PrepareResponse, error) {
	if f.DeployFunc != nil {
		return f.DeployFunc(ctx, dep, platformVersion, pkg, opts)
	}
	return externals.PrepareResponse{}, nil
}

func (f *ConfigServer) Deactivate(ctx context.Context, dep jobmodel.Deployment) error {
	f.mu.Lock()
	f.Deactivated = append(f.Deactivated, dep)
	f.mu.Unlock()
	if f.DeactivateFunc != nil {
		return f.DeactivateFunc(ctx, dep)
	}
	return nil
}

func (f *ConfigServer) ConvergeServices(ctx context.Context, dep jobmodel.Deployment, wantedPlatform string) (externals.ConvergenceReport, error) {
	if f.ConvergeServicesFunc != nil {
		return f.ConvergeServicesFunc(ctx, dep, wantedPlatform)
	}
	return externals.ConvergenceReport{Converged: true}, nil
}

func (f *ConfigServer) ListNodes(ctx context.Context, dep jobmodel.Deployment, filter externals.NodeFilter) ([]externals.NodeInfo, error) {
	if f.ListNodesFunc != nil {
		return f.ListNodesFunc(ctx, dep, filter)
	}
	return nil, nil
}

func (f *ConfigServer) Restart(ctx context.Context, dep jobmodel.Deployment, host string) error {
	if f.RestartFunc != nil {
		return f.RestartFunc(ctx, dep, host)
	}
	return nil
}

func (f *ConfigServer) GetLogs(ctx context.Context, dep jobmodel.Deployment) ([]string, error) {
	if f.GetLogsFunc != nil {
		return f.GetLogsFunc(ctx, dep)
	}
	return nil, nil
}

func (f *ConfigServer) GetContentClusters(ctx context.Context, dep jobmodel.Deployment) ([]string, error) {
	if f.GetContentClustersFunc != nil {
		return f.GetContentClustersFunc(ctx, dep)
	}
	return nil, nil
}

// ArtifactStore is a scriptable externals.ArtifactStore double. Pkg is
// returned from every Get*/GetApplication call unless the matching Func
// field is set.
type ArtifactStore struct {
	Pkg []byte

	PutFunc            func(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion, pkg []byte) error
	PutTesterFunc      func(ctx context.Context, tester externals.TesterId, version jobmodel.ApplicationVersion, pkg []byte) error
	PutDevFunc         func(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone, pkg []byte) error
	GetFunc            func(ctx context.Context, tester externals.TesterId, version jobmodel.ApplicationVersion) ([]byte, error)
	GetApplicationFunc func(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion) ([]byte, error)
	GetDevFunc         func(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone) ([]byte, error)
	PruneFunc          func(ctx context.Context, app jobmodel.ApplicationId, oldestKept jobmodel.ApplicationVersion) error
}

var _ externals.ArtifactStore = (*ArtifactStore)(nil)

func (f *ArtifactStore) Put(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion, pkg []byte) error {
	if f.PutFunc != nil {
		return f.PutFunc(ctx, app, version, pkg)
	}
	return nil
}

func (f *ArtifactStore) PutTester(ctx context.Context, tester externals.TesterId, version jobmodel.ApplicationVersion, pkg []byte) error {
	if f.PutTesterFunc != nil {
		return f.PutTesterFunc(ctx, tester, version, pkg)
	}
	return nil
}

func (f *ArtifactStore) PutDev(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone, pkg []byte) error {
	if f.PutDevFunc != nil {
		return f.PutDevFunc(ctx, app, zone, pkg)
	}
	return nil
}

func (f *ArtifactStore) Get(ctx context.Context, tester externals.TesterId, version jobmodel.ApplicationVersion) ([]byte, error) {
	if f.GetFunc != nil {
		return f.GetFunc(ctx, tester, version)
	}
	return f.Pkg, nil
}

func (f *ArtifactStore) GetApplication(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion) ([]byte, error) {
	if f.GetApplicationFunc != nil {
		return f.GetApplicationFunc(ctx, app, version)
	}
	return f.Pkg, nil
}

func (f *ArtifactStore) GetDev(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone) ([]byte, error) {
	if f.GetDevFunc != nil {
		return f.GetDevFunc(ctx, app, zone)
	}
	return f.Pkg, nil
}

func (f *ArtifactStore) Prune(ctx context.Context, app jobmodel.ApplicationId, oldestKept jobmodel.ApplicationVersion) error {
	if f.PruneFunc != nil {
		return f.PruneFunc(ctx, app, oldestKept)
	}
	return nil
}

// Routing is a scriptable externals.Routing double. EndpointsByZone feeds
// the default ClusterEndpoints response; Endpoint feeds the default
// Endpoints response.
type Routing struct {
	EndpointsByZone map[jobmodel.Zone]map[string]string
	Endpoint        externals.Endpoint

	ClusterEndpointsFunc func(ctx context.Context, app jobmodel.ApplicationId, zones []jobmodel.Zone) (map[jobmodel.Zone]map[string]string, error)
	EndpointsFunc        func(ctx context.Context, dep jobmodel.Deployment) ([]externals.Endpoint, error)
}

var _ externals.Routing = (*Routing)(nil)

func (f *Routing) ClusterEndpoints(ctx context.Context, app jobmodel.ApplicationId, zones []jobmodel.Zone) (map[jobmodel.Zone]map[string]string, error) {
	if f.ClusterEndpointsFunc != nil {
		return f.ClusterEndpointsFunc(ctx, app, zones)
	}
	return f.EndpointsByZone, nil
}

func (f *Routing) Endpoints(ctx context.Context, dep jobmodel.Deployment) ([]externals.Endpoint, error) {
	if f.EndpointsFunc != nil {
		return f.EndpointsFunc(ctx, dep)
	}
	endpoint := f.Endpoint
	if endpoint.URL == "" {
		endpoint = externals.Endpoint{ClusterID: "default", URL: "https://tester.example"}
	}
	return []externals.Endpoint{endpoint}, nil
}

// TesterCloud is a scriptable externals.TesterCloud double.
type TesterCloud struct {
	IsReady bool
	Status  externals.TestStatus
	Log     []jobmodel.LogEntry

	ReadyFunc      func(ctx context.Context, uri string) (bool, error)
	StartTestsFunc func(ctx context.Context, uri string, cfg externals.TestConfig) error
	GetStatusFunc  func(ctx context.Context, uri string) (externals.TestStatus, error)
	GetLogFunc     func(ctx context.Context, uri string, afterID int64) ([]jobmodel.LogEntry, error)
}

var _ externals.TesterCloud = (*TesterCloud)(nil)

func (f *TesterCloud) Ready(ctx context.Context, uri string) (bool, error) {
	if f.ReadyFunc != nil {
		return f.ReadyFunc(ctx, uri)
	}
	return f.IsReady, nil
}

func (f *TesterCloud) StartTests(ctx context.Context, uri string, cfg externals.TestConfig) error {
	if f.StartTestsFunc != nil {
		return f.StartTestsFunc(ctx, uri, cfg)
	}
	return nil
}

func (f *TesterCloud) GetStatus(ctx context.Context, uri string) (externals.TestStatus, error) {
	if f.GetStatusFunc != nil {
		return f.GetStatusFunc(ctx, uri)
	}
	return f.Status, nil
}

func (f *TesterCloud) GetLog(ctx context.Context, uri string, afterID int64) ([]jobmodel.LogEntry, error) {
	if f.GetLogFunc != nil {
		return f.GetLogFunc(ctx, uri, afterID)
	}
	return f.Log, nil
}

// Mailer is a scriptable externals.Mailer double recording every mail
// handed to Send.
type Mailer struct {
	mu   sync.Mutex
	Sent []externals.Mail

	SendFunc func(ctx context.Context, mail externals.Mail) error
}

var _ externals.Mailer = (*Mailer)(nil)

func (f *Mailer) Send(ctx context.Context, mail externals.Mail) error {
	f.mu.Lock()
	f.Sent = append(f.Sent, mail)
	f.mu.Unlock()
	if f.SendFunc != nil {
		return f.SendFunc(ctx, mail)
	}
	return nil
}
