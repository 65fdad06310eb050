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
	"strconv"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/jobrunner"
)

type runsHandler struct {
	controller *jobrunner.Controller
}

func (h *runsHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/runs/start", h.handleStart)
	mux.HandleFunc("POST /v1/runs/deploy", h.handleDeploy)
	mux.HandleFunc("POST /v1/runs/abort", h.handleAbort)
	mux.HandleFunc("GET /v1/runs", h.handleRuns)
	mux.HandleFunc("GET /v1/runs/active", h.handleActiveRuns)
	mux.HandleFunc("GET /v1/runs/last", h.handleLast)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleDetails)
	mux.HandleFunc("GET /v1/runs/{id}/log", h.handleLog)
}

type startRunRequest struct {
	Application jobmodel.ApplicationId `json:"application"`
	Type        jobmodel.JobType       `json:"type"`
	Versions    jobmodel.Versions      `json:"versions"`
}

// handleStart handles POST /v1/runs/start.
func (h *runsHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := h.controller.Start(r.Context(), req.Application, req.Type, req.Versions)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, id)
}

type deployRunRequest struct {
	Application     jobmodel.ApplicationId `json:"application"`
	Type            jobmodel.JobType       `json:"type"`
	PlatformVersion string                 `json:"platformVersion"`
	Package         []byte                 `json:"package"`
}

// handleDeploy handles POST /v1/runs/deploy, the manual-deploy path that
// bypasses the usual submit-then-promote pipeline.
func (h *runsHandler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := h.controller.Deploy(r.Context(), req.Application, req.Type, req.PlatformVersion, req.Package)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, id)
}

type abortRunRequest struct {
	Run jobmodel.RunId `json:"run"`
}

// handleAbort handles POST /v1/runs/abort.
func (h *runsHandler) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req abortRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.controller.Abort(r.Context(), req.Run); err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// jobKeyFromQuery parses the application/type query parameters shared by
// the read endpoints into a jobmodel.JobKey.
func jobKeyFromQuery(r *http.Request) (jobmodel.JobKey, bool) {
	q := r.URL.Query()
	tenant, application, instance := q.Get("tenant"), q.Get("application"), q.Get("instance")
	jobType := q.Get("type")
	if tenant == "" || application == "" || instance == "" || jobType == "" {
		return jobmodel.JobKey{}, false
	}
	return jobmodel.JobKey{
		Application: jobmodel.ApplicationId{Tenant: tenant, Application: application, Instance: instance},
		Type:        jobmodel.JobType(jobType),
	}, true
}

// handleRuns handles GET /v1/runs?tenant=&application=&instance=&type=.
func (h *runsHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	key, ok := jobKeyFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant, application, instance, and type query parameters are required")
		return
	}
	runs, err := h.controller.Runs(r.Context(), key)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleLast handles GET /v1/runs/last?tenant=&application=&instance=&type=.
func (h *runsHandler) handleLast(w http.ResponseWriter, r *http.Request) {
	key, ok := jobKeyFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant, application, instance, and type query parameters are required")
		return
	}
	run, err := h.controller.Last(r.Context(), key)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleActiveRuns handles GET /v1/runs/active, listing every run currently
// in flight across all applications.
func (h *runsHandler) handleActiveRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.controller.ActiveRuns(r.Context())
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleDetails handles GET /v1/runs/{id}?tenant=&application=&instance=&type=,
// where {id} is the run number. A run is addressed by job key plus number
// because jobmodel.RunId has no string form that parses back into a RunId.
func (h *runsHandler) handleDetails(w http.ResponseWriter, r *http.Request) {
	key, ok := jobKeyFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant, application, instance, and type query parameters are required")
		return
	}
	number, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a run number")
		return
	}
	id := jobmodel.RunId{Application: key.Application, Type: key.Type, Number: number}
	run, err := h.controller.Details(r.Context(), id)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleLog handles GET /v1/runs/{id}/log?tenant=&application=&instance=&type=&after=,
// returning entries with ID greater than after (default 0) for a live tail.
func (h *runsHandler) handleLog(w http.ResponseWriter, r *http.Request) {
	key, ok := jobKeyFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant, application, instance, and type query parameters are required")
		return
	}
	number, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a run number")
		return
	}
	var after int64
	if a := r.URL.Query().Get("after"); a != "" {
		after, err = strconv.ParseInt(a, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a log entry ID")
			return
		}
	}
	id := jobmodel.RunId{Application: key.Application, Type: key.Type, Number: number}
	entries, err := h.controller.ReadLog(r.Context(), id, after)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
