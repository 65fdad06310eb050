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

// Package cliclient is hostedjobctl's HTTP client for
// internal/jobrunner/api, grounded on the teacher's internal/client
// package: the same functional-option constructor, the same
// status-code-is-an-error convention, and the same bearer-token
// authentication header.
package cliclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Environment variables hostedjobctl reads to locate and authenticate
// against the controller's HTTP API.
const (
	APIURLEnv   = "HOSTEDJOB_API_URL"
	APITokenEnv = "HOSTEDJOB_API_TOKEN"
)

// Client talks to internal/jobrunner/api over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the controller base URL (default
// http://localhost:8080).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithAPIToken sets the bearer token sent with every request.
func WithAPIToken(token string) Option {
	return func(c *Client) { c.apiToken = token }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client from the given options.
func New(opts ...Option) *Client {
	c := &Client{baseURL: "http://localhost:8080"}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// FromEnvironment builds a Client from HOSTEDJOB_API_URL and
// HOSTEDJOB_API_TOKEN, the way the teacher's client.FromEnvironment reads
// CONDUCTOR_HOST and CONDUCTOR_API_KEY.
func FromEnvironment() *Client {
	var opts []Option
	if url := os.Getenv(APIURLEnv); url != "" {
		opts = append(opts, WithBaseURL(url))
	}
	if token := os.Getenv(APITokenEnv); token != "" {
		opts = append(opts, WithAPIToken(token))
	}
	return New(opts...)
}

func (c *Client) addAuth(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
}

// Get performs a GET request and decodes the JSON response into dst.
func (c *Client) Get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.addAuth(req)
	return c.do(req, dst)
}

// Post performs a POST request with a JSON body and decodes the JSON
// response into dst (which may be nil to discard the body).
func (c *Client) Post(ctx context.Context, path string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAuth(req)
	return c.do(req, dst)
}

// Delete performs a DELETE request with a JSON body.
func (c *Client) Delete(ctx context.Context, path string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuth(req)
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("controller returned error %d: %s", resp.StatusCode, string(respBody))
	}

	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
