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

package api

import (
	"net/http"

	"github.com/tombee/hostedjob/internal/externals"
	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/jobrunner"
)

type applicationsHandler struct {
	controller *jobrunner.Controller
}

func (h *applicationsHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/applications", h.handleCreate)
	mux.HandleFunc("DELETE /v1/applications", h.handleUnregister)
	mux.HandleFunc("POST /v1/applications/submit", h.handleSubmit)
}

type createApplicationRequest struct {
	Application   jobmodel.ApplicationId     `json:"application"`
	ProjectID     string                     `json:"projectId"`
	Notifications externals.NotificationSpec `json:"notifications"`
}

// handleCreate handles POST /v1/applications (spec.md §4.3's
// CreateApplication supplement).
func (h *applicationsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.controller.CreateApplication(req.Application, req.ProjectID, req.Notifications)
	writeJSON(w, http.StatusCreated, map[string]any{"application": req.Application})
}

type unregisterRequest struct {
	Application jobmodel.ApplicationId `json:"application"`
}

// handleUnregister handles DELETE /v1/applications.
func (h *applicationsHandler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.controller.Unregister(r.Context(), req.Application); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

type submitRequest struct {
	Application  jobmodel.ApplicationId `json:"application"`
	Revision     jobmodel.SourceRevision `json:"revision"`
	AuthorEmail  string                 `json:"authorEmail"`
	AppPackage   []byte                 `json:"appPackage"`
	TestPackage  []byte                 `json:"testPackage"`
}

// handleSubmit handles POST /v1/applications/submit. Package bytes travel
// as base64 inside the JSON body (encoding/json does this for []byte
// automatically), which is adequate for the package sizes this job runner
// deals with; a multipart upload path is not needed at this scale.
func (h *applicationsHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	version, err := h.controller.Submit(r.Context(), req.Application, req.Revision, req.AuthorEmail, req.AppPackage, req.TestPackage)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}
