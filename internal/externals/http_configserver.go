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

package externals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tombee/hostedjob/internal/jobmodel"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// HTTPConfigServer is a thin net/http client for the config server / node
// repository described in spec.md §6.
type HTTPConfigServer struct {
	BaseURL string
	Client  *http.Client
	Signer  *ServiceTokenSigner
	limiter *pollLimiter
}

// NewHTTPConfigServer builds a client rate-limited to pollsPerSecond
// convergence/list polls across the whole worker pool.
func NewHTTPConfigServer(baseURL string, client *http.Client, signer *ServiceTokenSigner, pollsPerSecond float64) *HTTPConfigServer {
	return &HTTPConfigServer{BaseURL: baseURL, Client: client, Signer: signer, limiter: newPollLimiter(pollsPerSecond)}
}

func (c *HTTPConfigServer) authorize(req *http.Request) error {
	if c.Signer == nil {
		return nil
	}
	token, err := c.Signer.Token("config-server")
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

type prepareWireResponse struct {
	ChangeActions []struct {
		Type    string `json:"type"`
		Host    string `json:"host,omitempty"`
		Name    string `json:"name,omitempty"`
		Allowed bool   `json:"allowed,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"configChangeActions"`
	Log       []string               `json:"log"`
	ErrorCode string                 `json:"errorCode,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

func (c *HTTPConfigServer) Deploy(ctx context.Context, dep jobmodel.Deployment, platformVersion string, pkg []byte, opts DeployOptions) (PrepareResponse, error) {
	u := fmt.Sprintf("%s/application/v2/tenant/%s/application/%s/environment/%s/region/%s/instance/%s/prepareandactivate",
		c.BaseURL, url.PathEscape(dep.Application.Tenant), url.PathEscape(dep.Application.Application),
		url.PathEscape(dep.Zone.Environment), url.PathEscape(dep.Zone.Region), url.PathEscape(dep.Application.Instance))
	if platformVersion != "" {
		u += "?vespaVersion=" + url.QueryEscape(platformVersion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(pkg))
	if err != nil {
		return PrepareResponse{}, err
	}
	req.Header.Set("Content-Type", "application/zip")
	if err := c.authorize(req); err != nil {
		return PrepareResponse{}, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return PrepareResponse{}, &jobrunnererrors.ConfigServerError{Operation: "deploy", Cause: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var wire prepareWireResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &wire)
	}

	if resp.StatusCode >= 400 {
		if wire.ErrorCode != "" {
			return PrepareResponse{}, &DeployRejected{Code: ConfigServerErrorCode(wire.ErrorCode), Message: wire.Message}
		}
		return PrepareResponse{}, &jobrunnererrors.ConfigServerError{
			Operation: "deploy", StatusCode: resp.StatusCode, Message: string(body),
		}
	}

	out := PrepareResponse{Log: wire.Log}
	for _, a := range wire.ChangeActions {
		out.ChangeActions = append(out.ChangeActions, ConfigChangeAction{
			Type: ChangeActionType(a.Type), Host: a.Host, Name: a.Name, Allowed: a.Allowed, Message: a.Message,
		})
	}
	return out, nil
}

func (c *HTTPConfigServer) Deactivate(ctx context.Context, dep jobmodel.Deployment) error {
	u := fmt.Sprintf("%s/application/v2/tenant/%s/application/%s/environment/%s/region/%s/instance/%s",
		c.BaseURL, dep.Application.Tenant, dep.Application.Application, dep.Zone.Environment, dep.Zone.Region, dep.Application.Instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	if err := c.authorize(req); err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return &jobrunnererrors.ConfigServerError{Operation: "deactivate", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return &jobrunnererrors.ConfigServerError{Operation: "deactivate", StatusCode: resp.StatusCode}
	}
	return nil
}

type convergeWireResponse struct {
	Converged bool `json:"converged"`
	Services  []struct {
		Host              string `json:"host"`
		Port              int    `json:"port"`
		Type              string `json:"type"`
		CurrentGeneration int64  `json:"currentGeneration"`
		WantedGeneration  int64  `json:"wantedGeneration"`
	} `json:"services"`
}

func (c *HTTPConfigServer) ConvergeServices(ctx context.Context, dep jobmodel.Deployment, wantedPlatform string) (ConvergenceReport, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return ConvergenceReport{}, err
	}

	u := fmt.Sprintf("%s/application/v2/tenant/%s/application/%s/environment/%s/region/%s/instance/%s/serviceconverge?wantedVespaVersion=%s",
		c.BaseURL, dep.Application.Tenant, dep.Application.Application, dep.Zone.Environment, dep.Zone.Region, dep.Application.Instance, url.QueryEscape(wantedPlatform))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ConvergenceReport{}, err
	}
	if err := c.authorize(req); err != nil {
		return ConvergenceReport{}, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return ConvergenceReport{}, &jobrunnererrors.ConfigServerError{Operation: "convergeServices", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ConvergenceReport{}, &jobrunnererrors.ConfigServerError{Operation: "convergeServices", StatusCode: resp.StatusCode}
	}

	var wire convergeWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return ConvergenceReport{}, &jobrunnererrors.ConfigServerError{Operation: "convergeServices", Cause: err}
	}

	report := ConvergenceReport{Converged: wire.Converged}
	for _, s := range wire.Services {
		report.Services = append(report.Services, ServiceConvergence{
			Host: s.Host, Port: s.Port, Type: s.Type,
			CurrentGeneration: s.CurrentGeneration, WantedGeneration: s.WantedGeneration,
		})
	}
	return report, nil
}

func (c *HTTPConfigServer) ListNodes(ctx context.Context, dep jobmodel.Deployment, filter NodeFilter) ([]NodeInfo, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/nodes/v2/node?application=%s.%s&recursive=true", c.BaseURL,
		url.QueryEscape(dep.Application.Tenant), url.QueryEscape(dep.Application.Application))
	if filter.Active {
		u += "&state=active"
	}
	if filter.Reserved {
		u += "&state=reserved"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "nodeRepository.list", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "nodeRepository.list", StatusCode: resp.StatusCode}
	}

	var wire struct {
		Nodes []struct {
			Hostname                string `json:"hostname"`
			CurrentVersion          string `json:"currentVersion"`
			WantedVersion           string `json:"wantedVersion"`
			RestartGeneration       int64  `json:"restartGeneration"`
			WantedRestartGeneration int64  `json:"wantedRestartGeneration"`
			RebootGeneration        int64  `json:"rebootGeneration"`
			WantedRebootGeneration  int64  `json:"wantedRebootGeneration"`
			ServiceState            string `json:"serviceState"`
		} `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "nodeRepository.list", Cause: err}
	}

	out := make([]NodeInfo, 0, len(wire.Nodes))
	for _, n := range wire.Nodes {
		out = append(out, NodeInfo{
			Host: n.Hostname, CurrentVersion: n.CurrentVersion, WantedVersion: n.WantedVersion,
			RestartGeneration: n.RestartGeneration, WantedRestartGeneration: n.WantedRestartGeneration,
			RebootGeneration: n.RebootGeneration, WantedRebootGeneration: n.WantedRebootGeneration,
			ServiceState: n.ServiceState,
		})
	}
	return out, nil
}

func (c *HTTPConfigServer) Restart(ctx context.Context, dep jobmodel.Deployment, host string) error {
	u := fmt.Sprintf("%s/application/v2/tenant/%s/application/%s/environment/%s/region/%s/instance/%s/restart?hostname=%s",
		c.BaseURL, dep.Application.Tenant, dep.Application.Application, dep.Zone.Environment, dep.Zone.Region, dep.Application.Instance, url.QueryEscape(host))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	if err := c.authorize(req); err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return &jobrunnererrors.ConfigServerError{Operation: "restart", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &jobrunnererrors.ConfigServerError{Operation: "restart", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *HTTPConfigServer) GetLogs(ctx context.Context, dep jobmodel.Deployment) ([]string, error) {
	u := fmt.Sprintf("%s/application/v2/tenant/%s/application/%s/environment/%s/region/%s/instance/%s/logs",
		c.BaseURL, dep.Application.Tenant, dep.Application.Application, dep.Zone.Environment, dep.Zone.Region, dep.Application.Instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "getLogs", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "getLogs", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	lines := bytes.Split(bytes.TrimRight(body, "\n"), []byte("\n"))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) > 0 {
			out = append(out, string(l))
		}
	}
	return out, nil
}

func (c *HTTPConfigServer) GetContentClusters(ctx context.Context, dep jobmodel.Deployment) ([]string, error) {
	u := fmt.Sprintf("%s/application/v2/tenant/%s/application/%s/environment/%s/region/%s/instance/%s/content",
		c.BaseURL, dep.Application.Tenant, dep.Application.Application, dep.Zone.Environment, dep.Zone.Region, dep.Application.Instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "getContentClusters", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "getContentClusters", StatusCode: resp.StatusCode}
	}

	var wire struct {
		Clusters []string `json:"clusters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "getContentClusters", Cause: err}
	}
	return wire.Clusters, nil
}

var _ ConfigServer = (*HTTPConfigServer)(nil)
