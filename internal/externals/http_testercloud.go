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
	"net/http"

	"github.com/tombee/hostedjob/internal/jobmodel"
	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

// HTTPTesterCloud is a thin net/http client for the tester cloud described
// in spec.md §6.
type HTTPTesterCloud struct {
	Client  *http.Client
	Signer  *ServiceTokenSigner
	limiter *pollLimiter
}

// NewHTTPTesterCloud builds a client rate-limited to pollsPerSecond
// ready/status polls across the whole worker pool.
func NewHTTPTesterCloud(client *http.Client, signer *ServiceTokenSigner, pollsPerSecond float64) *HTTPTesterCloud {
	return &HTTPTesterCloud{Client: client, Signer: signer, limiter: newPollLimiter(pollsPerSecond)}
}

func (c *HTTPTesterCloud) authorize(req *http.Request) error {
	if c.Signer == nil {
		return nil
	}
	token, err := c.Signer.Token("tester-cloud")
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (c *HTTPTesterCloud) Ready(ctx context.Context, uri string) (bool, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri+"/tester/v1/ready", nil)
	if err != nil {
		return false, err
	}
	if err := c.authorize(req); err != nil {
		return false, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false, &jobrunnererrors.TesterCloudError{Operation: "ready", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, &jobrunnererrors.TesterCloudError{Operation: "ready", StatusCode: resp.StatusCode}
	}
	return resp.StatusCode == http.StatusOK, nil
}

type testConfigWire struct {
	Suite       string                       `json:"suite"`
	Application string                       `json:"application"`
	System      string                       `json:"system"`
	Zones       map[string]map[string]string `json:"zoneEndpoints"`
}

func (c *HTTPTesterCloud) StartTests(ctx context.Context, uri string, cfg TestConfig) error {
	wire := testConfigWire{
		Suite:       cfg.Suite,
		Application: cfg.Application.String(),
		System:      cfg.System,
		Zones:       make(map[string]map[string]string, len(cfg.ZoneEndpoints)),
	}
	for zone, endpoints := range cfg.ZoneEndpoints {
		wire.Zones[zone.String()] = endpoints
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri+"/tester/v1/tests", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return &jobrunnererrors.TesterCloudError{Operation: "startTests", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &jobrunnererrors.TesterCloudError{Operation: "startTests", StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *HTTPTesterCloud) GetStatus(ctx context.Context, uri string) (TestStatus, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri+"/tester/v1/status", nil)
	if err != nil {
		return "", err
	}
	if err := c.authorize(req); err != nil {
		return "", err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", &jobrunnererrors.TesterCloudError{Operation: "getStatus", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &jobrunnererrors.TesterCloudError{Operation: "getStatus", StatusCode: resp.StatusCode}
	}

	var wire struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", &jobrunnererrors.TesterCloudError{Operation: "getStatus", Cause: err}
	}
	return TestStatus(wire.Status), nil
}

func (c *HTTPTesterCloud) GetLog(ctx context.Context, uri string, afterID int64) ([]jobmodel.LogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/tester/v1/log?after=%d", uri, afterID), nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &jobrunnererrors.TesterCloudError{Operation: "getLog", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &jobrunnererrors.TesterCloudError{Operation: "getLog", StatusCode: resp.StatusCode}
	}

	var wire struct {
		Entries []struct {
			ID     int64  `json:"id"`
			Millis int64  `json:"at"`
			Level  string `json:"level"`
			Text   string `json:"message"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &jobrunnererrors.TesterCloudError{Operation: "getLog", Cause: err}
	}

	out := make([]jobmodel.LogEntry, 0, len(wire.Entries))
	for _, e := range wire.Entries {
		out = append(out, jobmodel.LogEntry{ID: e.ID, Millis: e.Millis, Level: jobmodel.LogLevel(e.Level), Text: e.Text})
	}
	return out, nil
}

var _ TesterCloud = (*HTTPTesterCloud)(nil)
