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

package log

import (
	"log/slog"
	"time"
)

// CallRequest represents an outbound call to an external collaborator
// (config server, tester cloud, routing layer, artifact store, mailer)
// for logging purposes.
type CallRequest struct {
	// Collaborator names the remote system ("config-server", "tester-cloud", ...).
	Collaborator string

	// Operation names the call (e.g. "prepare", "endTests").
	Operation string

	// RunID is the run the call was made on behalf of, if any.
	RunID string

	// Metadata contains additional request metadata.
	Metadata map[string]interface{}
}

// CallResponse represents the outcome of a CallRequest for logging purposes.
type CallResponse struct {
	// Success indicates whether the call succeeded.
	Success bool

	// Error is the error message if the call failed.
	Error string

	// DurationMs is the duration of the call in milliseconds.
	DurationMs int64

	// Metadata contains additional response metadata.
	Metadata map[string]interface{}
}

// LogCallRequest logs an outbound collaborator call.
func LogCallRequest(logger *slog.Logger, req *CallRequest) {
	attrs := []any{
		"event", "collaborator_call",
		"collaborator", req.Collaborator,
		"operation", req.Operation,
	}

	if req.RunID != "" {
		attrs = append(attrs, RunIDKey, req.RunID)
	}

	for k, v := range req.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Debug("collaborator call started", attrs...)
}

// LogCallResponse logs the outcome of a collaborator call.
func LogCallResponse(logger *slog.Logger, req *CallRequest, resp *CallResponse) {
	attrs := []any{
		"event", "collaborator_call",
		"collaborator", req.Collaborator,
		"operation", req.Operation,
		"success", resp.Success,
		DurationKey, resp.DurationMs,
	}

	if req.RunID != "" {
		attrs = append(attrs, RunIDKey, req.RunID)
	}

	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	for k, v := range resp.Metadata {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	message := "collaborator call completed"

	if !resp.Success {
		level = slog.LevelWarn
		message = "collaborator call failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// CallMiddleware wraps calls to an external collaborator with logging. It
// logs the call when it starts and its outcome when it completes.
type CallMiddleware struct {
	logger *slog.Logger
}

// NewCallMiddleware creates a new collaborator-call logging middleware.
func NewCallMiddleware(logger *slog.Logger) *CallMiddleware {
	return &CallMiddleware{logger: logger}
}

// Handler wraps a function that performs a collaborator call, logging its
// request and outcome automatically.
func (m *CallMiddleware) Handler(req *CallRequest, handler func() error) error {
	start := time.Now()

	LogCallRequest(m.logger, req)
	err := handler()
	duration := time.Since(start).Milliseconds()

	resp := &CallResponse{
		Success:    err == nil,
		DurationMs: duration,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	LogCallResponse(m.logger, req, resp)
	return err
}

// HandlerWithMetadata wraps a function that performs a collaborator call
// and returns metadata, logging its request and outcome automatically.
func (m *CallMiddleware) HandlerWithMetadata(req *CallRequest, handler func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	start := time.Now()

	LogCallRequest(m.logger, req)
	metadata, err := handler()
	duration := time.Since(start).Milliseconds()

	resp := &CallResponse{
		Success:    err == nil,
		DurationMs: duration,
		Metadata:   metadata,
	}
	if err != nil {
		resp.Error = err.Error()
	}

	LogCallResponse(m.logger, req, resp)
	return metadata, err
}
