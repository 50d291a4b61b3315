// Copyright 2026 The audittrail authors. All Rights Reserved.
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

// Package http exposes the pipeline's read-only status endpoints: the
// manifest listing and on-demand verification reports. Verification never
// mutates persisted state.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/audittrail-dev/audittrail/api"
	"github.com/audittrail-dev/audittrail/internal/archive"
	"github.com/audittrail-dev/audittrail/internal/pipeline"
	"github.com/gorilla/mux"
	"k8s.io/klog/v2"
)

// Server is the handler implementation of the status endpoints.
type Server struct {
	p *pipeline.Pipeline
}

// NewServer creates a new server.
func NewServer(p *pipeline.Pipeline) *Server {
	return &Server{
		p: p,
	}
}

// listWindows returns the ids of all archived windows.
func (s *Server) listWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.p.Manifest().Windows(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list windows: %v", err), http.StatusInternalServerError)
		return
	}
	sort.Strings(windows)
	body, err := json.Marshal(windows)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to convert window list to JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		klog.Warningf("Error writing response: %v", err)
	}
}

// verifyWindow retrieves and verifies the artifact for a window, returning
// the report. An invalid artifact is still a 200: the report is the answer,
// not an error.
func (s *Server) verifyWindow(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	windowID := v["windowid"]
	report, err := s.p.Verify(r.Context(), windowID)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNotArchived):
			http.Error(w, "unknown window", http.StatusNotFound)
		case errors.Is(err, archive.ErrIncompleteArtifact):
			http.Error(w, fmt.Sprintf("artifact incomplete: %v", err), http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("failed to verify window: %v", err), http.StatusInternalServerError)
		}
		return
	}
	body, err := json.Marshal(report)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to convert report to JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		klog.Warningf("Error writing response: %v", err)
	}
}

// RegisterHandlers registers HTTP handlers for the status endpoints.
func (s *Server) RegisterHandlers(r *mux.Router) {
	windowStr := "{windowid:[a-zA-Z0-9_.-]+}"
	r.HandleFunc(api.HTTPListWindows, s.listWindows).Methods(http.MethodGet)
	r.HandleFunc(fmt.Sprintf(api.HTTPVerifyWindow, windowStr), s.verifyWindow).Methods(http.MethodGet)
}
