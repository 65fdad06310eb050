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

// Package externals declares the Step Runner's and Job Controller's only
// view of the systems spec.md §6 puts out of scope: the config server, the
// tester cloud, the routing layer, the artifact store and the mailer.
// Everything here is an interface plus the value types its methods
// exchange; concrete HTTP clients live alongside in this package, and
// in-memory fakes for tests live in internal/jobrunner/jobrunnertest.
package externals

import (
	"context"
	"fmt"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

// TesterId identifies the tester container identity the config server
// deploys on the runner's behalf, distinct from the application itself.
type TesterId struct {
	Application jobmodel.ApplicationId
}

// FullForm renders the identity embedded in a minted tester certificate's
// CN: "tenant.application.instance-tester".
func (t TesterId) FullForm() string {
	return t.Application.String() + "-tester"
}

// ChangeActionType distinguishes the two config-change-action kinds a
// prepare response can carry.
type ChangeActionType string

const (
	ChangeActionRestart ChangeActionType = "restart"
	ChangeActionRefeed  ChangeActionType = "refeed"
)

// ConfigServerErrorCode enumerates the well-known condition codes the
// config server raises, consumed by the Step Runner's shared deploy-error
// policy (spec.md §4.4).
type ConfigServerErrorCode string

const (
	ErrOutOfCapacity          ConfigServerErrorCode = "OUT_OF_CAPACITY"
	ErrActivationConflict     ConfigServerErrorCode = "ACTIVATION_CONFLICT"
	ErrApplicationLockFailure ConfigServerErrorCode = "APPLICATION_LOCK_FAILURE"
	ErrParentHostNotReady     ConfigServerErrorCode = "PARENT_HOST_NOT_READY"
	ErrCertificateNotReady    ConfigServerErrorCode = "CERTIFICATE_NOT_READY"
	ErrLoadBalancerNotReady   ConfigServerErrorCode = "LOAD_BALANCER_NOT_READY"
	ErrInvalidApplicationPkg  ConfigServerErrorCode = "INVALID_APPLICATION_PACKAGE"
	ErrBadRequest             ConfigServerErrorCode = "BAD_REQUEST"
)

// DeployRejected wraps a config-server condition code surfaced from a
// deploy/prepare call. The Step Runner's shared deploy-error policy
// switches on Code to decide retry/deploymentFailed/outOfCapacity/rethrow.
type DeployRejected struct {
	Code    ConfigServerErrorCode
	Message string
}

func (e *DeployRejected) Error() string {
	return fmt.Sprintf("config server rejected deploy: %s: %s", e.Code, e.Message)
}

// ConfigChangeAction is one entry of a prepare response's change-action
// list: either a host that must be restarted, or a content change that may
// or may not be allowed without a refeed.
type ConfigChangeAction struct {
	Type    ChangeActionType
	Host    string // set for ChangeActionRestart
	Name    string // the change's symbolic name, e.g. a field type change
	Allowed bool   // for ChangeActionRefeed: whether the refeed is permitted
	Message string
}

// PrepareResponse is the config server's response to a deploy/prepare call.
type PrepareResponse struct {
	ChangeActions []ConfigChangeAction
	Log           []string
}

// DeployOptions modifies how an application package is submitted.
type DeployOptions struct {
	// DryRun validates the package without activating it.
	DryRun bool
	// Force bypasses the config server's validation of a downgrade.
	Force bool
}

// ServiceConvergence is one service's reported convergence state.
type ServiceConvergence struct {
	Host               string
	Port               int
	Type               string
	CurrentGeneration  int64
	WantedGeneration   int64
}

// ConvergenceReport is the config server's answer to convergeServices: per
// service, whether the application's config generation has rolled out.
type ConvergenceReport struct {
	Services  []ServiceConvergence
	Converged bool
}

// NodeFilter scopes a nodeRepository.list query.
type NodeFilter struct {
	Active   bool
	Reserved bool
}

// NodeInfo is one allocated node's convergence state, per §6.
type NodeInfo struct {
	Host                    string
	CurrentVersion          string
	WantedVersion           string
	RestartGeneration       int64
	WantedRestartGeneration int64
	RebootGeneration        int64
	WantedRebootGeneration  int64
	ServiceState            string
}

// ConfigServer is the runner's only view of the config server / node
// repository: deploy, activate, and query node and service convergence.
type ConfigServer interface {
	// Deploy submits pkg for deployment to the given Deployment at the
	// given platform version. Returns the prepare response describing
	// restart/refeed change actions.
	Deploy(ctx context.Context, dep jobmodel.Deployment, platformVersion string, pkg []byte, opts DeployOptions) (PrepareResponse, error)

	// Deactivate tears down a deployment.
	Deactivate(ctx context.Context, dep jobmodel.Deployment) error

	// ConvergeServices reports whether dep's services have rolled out to
	// wantedPlatform.
	ConvergeServices(ctx context.Context, dep jobmodel.Deployment, wantedPlatform string) (ConvergenceReport, error)

	// ListNodes reports every node allocated to dep matching filter.
	ListNodes(ctx context.Context, dep jobmodel.Deployment, filter NodeFilter) ([]NodeInfo, error)

	// Restart issues a restart of host within dep.
	Restart(ctx context.Context, dep jobmodel.Deployment, host string) error

	// GetLogs streams dep's raw Vespa log lines (§6 tab-separated format).
	GetLogs(ctx context.Context, dep jobmodel.Deployment) ([]string, error)

	// GetContentClusters lists dep's content cluster ids.
	GetContentClusters(ctx context.Context, dep jobmodel.Deployment) ([]string, error)
}

// TestStatus is the tester cloud's reported state for a test run.
type TestStatus string

const (
	TestNotStarted TestStatus = "NOT_STARTED"
	TestRunning    TestStatus = "RUNNING"
	TestSuccess    TestStatus = "SUCCESS"
	TestFailure    TestStatus = "FAILURE"
	TestError      TestStatus = "ERROR"
)

// TestConfig is the configJson body startTests sends: the suite under
// test plus each tested zone's per-cluster endpoints.
type TestConfig struct {
	Suite           string
	Application     jobmodel.ApplicationId
	System          string
	ZoneEndpoints   map[jobmodel.Zone]map[string]string // zone -> clusterId -> URL
}

// TesterCloud is the runner's only view of the external test harness.
type TesterCloud interface {
	// Ready reports whether the tester at uri has finished initialising.
	Ready(ctx context.Context, uri string) (bool, error)

	// StartTests kicks off suite against cfg via the tester at uri.
	StartTests(ctx context.Context, uri string, cfg TestConfig) error

	// GetStatus reports the tester's current run status.
	GetStatus(ctx context.Context, uri string) (TestStatus, error)

	// GetLog returns every log entry with id > afterID.
	GetLog(ctx context.Context, uri string, afterID int64) ([]jobmodel.LogEntry, error)
}

// Endpoint is one discoverable cluster endpoint.
type Endpoint struct {
	ClusterID string
	URL       string
	Scope     string // "zone" or "global"
}

// Routing is the runner's only view of the endpoint-discovery layer.
type Routing interface {
	// ClusterEndpoints reports, for each zone in zones, the per-cluster
	// endpoint URLs app has deployed.
	ClusterEndpoints(ctx context.Context, app jobmodel.ApplicationId, zones []jobmodel.Zone) (map[jobmodel.Zone]map[string]string, error)

	// Endpoints lists every discoverable endpoint for a single deployment.
	Endpoints(ctx context.Context, dep jobmodel.Deployment) ([]Endpoint, error)
}

// ArtifactStore is the runner's only view of the package/certificate blob
// store.
type ArtifactStore interface {
	// Put stores an application package under its permanent version key.
	Put(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion, pkg []byte) error

	// PutTester stores a tester container package under its permanent
	// version key, addressed by the tester identity rather than the
	// application it tests.
	PutTester(ctx context.Context, tester TesterId, version jobmodel.ApplicationVersion, pkg []byte) error

	// PutDev stores a manually-deployed package under a dev key scoped to
	// zone, overwriting any previous dev package for that zone.
	PutDev(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone, pkg []byte) error

	// Get fetches the tester package bytes for a tester identity and
	// application version.
	Get(ctx context.Context, tester TesterId, version jobmodel.ApplicationVersion) ([]byte, error)

	// GetApplication fetches the application package bytes Put stored
	// under app/version, the counterpart the job controller reads to
	// populate a deploy step's locked package (§4.4's deployReal,
	// deployInitialReal).
	GetApplication(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion) ([]byte, error)

	// GetDev fetches the package bytes PutDev stored for app's manually
	// deployed zone.
	GetDev(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone) ([]byte, error)

	// Prune deletes every stored package for app older than oldestKept.
	Prune(ctx context.Context, app jobmodel.ApplicationId, oldestKept jobmodel.ApplicationVersion) error
}
