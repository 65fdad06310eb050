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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tombee/hostedjob/internal/jobmodel"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// HTTPRouting is a thin net/http client for the routing/endpoint-discovery
// layer described in spec.md §6.
type HTTPRouting struct {
	BaseURL string
	Client  *http.Client
	Signer  *ServiceTokenSigner
}

func NewHTTPRouting(baseURL string, client *http.Client, signer *ServiceTokenSigner) *HTTPRouting {
	return &HTTPRouting{BaseURL: baseURL, Client: client, Signer: signer}
}

func (r *HTTPRouting) authorize(req *http.Request) error {
	if r.Signer == nil {
		return nil
	}
	token, err := r.Signer.Token("routing")
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (r *HTTPRouting) ClusterEndpoints(ctx context.Context, app jobmodel.ApplicationId, zones []jobmodel.Zone) (map[jobmodel.Zone]map[string]string, error) {
	u := fmt.Sprintf("%s/routing/v1/tenant/%s/application/%s/instance/%s", r.BaseURL,
		url.PathEscape(app.Tenant), url.PathEscape(app.Application), url.PathEscape(app.Instance))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(req); err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "clusterEndpoints", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "clusterEndpoints", StatusCode: resp.StatusCode}
	}

	var wire struct {
		Zones map[string]map[string]string `json:"zones"` // "environment.region" -> clusterId -> URL
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "clusterEndpoints", Cause: err}
	}

	wanted := make(map[string]jobmodel.Zone, len(zones))
	for _, z := range zones {
		wanted[z.String()] = z
	}

	out := make(map[jobmodel.Zone]map[string]string, len(zones))
	for key, clusters := range wire.Zones {
		if z, ok := wanted[key]; ok {
			out[z] = clusters
		}
	}
	return out, nil
}

func (r *HTTPRouting) Endpoints(ctx context.Context, dep jobmodel.Deployment) ([]Endpoint, error) {
	u := fmt.Sprintf("%s/routing/v1/tenant/%s/application/%s/environment/%s/region/%s/instance/%s",
		r.BaseURL, dep.Application.Tenant, dep.Application.Application, dep.Zone.Environment, dep.Zone.Region, dep.Application.Instance)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if err := r.authorize(req); err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "endpoints", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "endpoints", StatusCode: resp.StatusCode}
	}

	var wire struct {
		Endpoints []struct {
			ClusterID string `json:"clusterId"`
			URL       string `json:"url"`
			Scope     string `json:"scope"`
		} `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "endpoints", Cause: err}
	}

	out := make([]Endpoint, 0, len(wire.Endpoints))
	for _, e := range wire.Endpoints {
		out = append(out, Endpoint{ClusterID: e.ClusterID, URL: e.URL, Scope: e.Scope})
	}
	return out, nil
}

var _ Routing = (*HTTPRouting)(nil)
