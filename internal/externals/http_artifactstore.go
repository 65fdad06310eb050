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
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tombee/hostedjob/internal/jobmodel"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// HTTPArtifactStore is a thin net/http client for the application/tester
// package and certificate blob store described in spec.md §6.
type HTTPArtifactStore struct {
	BaseURL string
	Client  *http.Client
	Signer  *ServiceTokenSigner
}

func NewHTTPArtifactStore(baseURL string, client *http.Client, signer *ServiceTokenSigner) *HTTPArtifactStore {
	return &HTTPArtifactStore{BaseURL: baseURL, Client: client, Signer: signer}
}

func (s *HTTPArtifactStore) authorize(req *http.Request) error {
	if s.Signer == nil {
		return nil
	}
	token, err := s.Signer.Token("artifact-store")
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (s *HTTPArtifactStore) put(ctx context.Context, key string, pkg []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.BaseURL+"/artifacts/v1/"+key, bytes.NewReader(pkg))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/zip")
	if err := s.authorize(req); err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return &jobrunnererrors.ConfigServerError{Operation: "artifactStore.put", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &jobrunnererrors.ConfigServerError{Operation: "artifactStore.put", StatusCode: resp.StatusCode}
	}
	return nil
}

func (s *HTTPArtifactStore) Put(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion, pkg []byte) error {
	key := fmt.Sprintf("%s/%s/build-%d.zip", app.Tenant, app.Application, version.BuildNumber)
	return s.put(ctx, key, pkg)
}

func (s *HTTPArtifactStore) PutTester(ctx context.Context, tester TesterId, version jobmodel.ApplicationVersion, pkg []byte) error {
	key := fmt.Sprintf("tester/%s/build-%d.zip", tester.FullForm(), version.BuildNumber)
	return s.put(ctx, key, pkg)
}

func (s *HTTPArtifactStore) PutDev(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone, pkg []byte) error {
	key := fmt.Sprintf("dev/%s/%s.zip", app.String(), zone.String())
	return s.put(ctx, key, pkg)
}

func (s *HTTPArtifactStore) Get(ctx context.Context, tester TesterId, version jobmodel.ApplicationVersion) ([]byte, error) {
	key := fmt.Sprintf("tester/%s/build-%d.zip", tester.FullForm(), version.BuildNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/artifacts/v1/"+key, nil)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(req); err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "artifactStore.get", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "artifactStore.get", StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (s *HTTPArtifactStore) get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/artifacts/v1/"+key, nil)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(req); err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "artifactStore.get", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.ConfigServerError{Operation: "artifactStore.get", StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (s *HTTPArtifactStore) GetApplication(ctx context.Context, app jobmodel.ApplicationId, version jobmodel.ApplicationVersion) ([]byte, error) {
	key := fmt.Sprintf("%s/%s/build-%d.zip", app.Tenant, app.Application, version.BuildNumber)
	return s.get(ctx, key)
}

func (s *HTTPArtifactStore) GetDev(ctx context.Context, app jobmodel.ApplicationId, zone jobmodel.Zone) ([]byte, error) {
	key := fmt.Sprintf("dev/%s/%s.zip", app.String(), zone.String())
	return s.get(ctx, key)
}

func (s *HTTPArtifactStore) Prune(ctx context.Context, app jobmodel.ApplicationId, oldestKept jobmodel.ApplicationVersion) error {
	u := fmt.Sprintf("%s/artifacts/v1/%s/%s/prune?oldestKept=%d", s.BaseURL,
		url.PathEscape(app.Tenant), url.PathEscape(app.Application), oldestKept.BuildNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	if err := s.authorize(req); err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return &jobrunnererrors.ConfigServerError{Operation: "artifactStore.prune", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &jobrunnererrors.ConfigServerError{Operation: "artifactStore.prune", StatusCode: resp.StatusCode}
	}
	return nil
}

var _ ArtifactStore = (*HTTPArtifactStore)(nil)
