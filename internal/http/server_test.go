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

package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/mux"

	"github.com/audittrail-dev/audittrail/api"
	"github.com/audittrail-dev/audittrail/internal/archive"
	"github.com/audittrail-dev/audittrail/internal/audit"
	"github.com/audittrail-dev/audittrail/internal/keys"
	minmemory "github.com/audittrail-dev/audittrail/internal/manifest/inmemory"
	"github.com/audittrail-dev/audittrail/internal/pipeline"
	"github.com/audittrail-dev/audittrail/internal/seal"
	"github.com/audittrail-dev/audittrail/internal/storage/inmemory"
	"github.com/audittrail-dev/audittrail/monitoring"
)

func init() {
	monitoring.SetMetricFactory(monitoring.InertMetricFactory{})
}

// newTestServer spins up the status endpoints over a pipeline with one
// archived window and returns the server together with that window's id and
// the storage backend behind it.
func newTestServer(t *testing.T) (*httptest.Server, string, *inmemory.Backend) {
	t.Helper()
	ctx := context.Background()

	store, err := keys.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore(): %v", err)
	}
	if err := store.Generate(keys.MinBits, false); err != nil {
		t.Fatalf("Generate(): %v", err)
	}
	km := keys.NewManager(store)

	backend := inmemory.NewBackend()
	mStore := minmemory.NewStore()
	logger := audit.NewLogger(audit.Opts{
		Now: func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) },
	})

	p, err := pipeline.New(ctx, pipeline.Opts{
		Logger: logger,
		Keys:   km,
		Signer: seal.NewSigner(km),
		Archiver: archive.New(archive.Opts{
			Backend:  backend,
			Manifest: mStore,
			Prefix:   "audit-logs/",
		}),
		Manifest: mStore,
	})
	if err != nil {
		t.Fatalf("pipeline.New(): %v", err)
	}

	if _, err := p.LogAPIEvent("/api/users/1", "user_1", map[string]any{"action": "update"}, map[string]any{"status": "success"}, 200); err != nil {
		t.Fatalf("LogAPIEvent(): %v", err)
	}
	ref, err := p.ProcessCurrent(ctx)
	if err != nil {
		t.Fatalf("ProcessCurrent(): %v", err)
	}

	r := mux.NewRouter()
	NewServer(p).RegisterHandlers(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, ref.WindowID, backend
}

func TestListWindows(t *testing.T) {
	ts, windowID, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + api.HTTPListWindows)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}

	var windows []string
	if err := json.NewDecoder(resp.Body).Decode(&windows); err != nil {
		t.Fatalf("failed to decode window list: %v", err)
	}
	if diff := cmp.Diff([]string{windowID}, windows); diff != "" {
		t.Errorf("window list diff (-want +got):\n%s", diff)
	}
}

func TestVerifyWindowValid(t *testing.T) {
	ts, windowID, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + fmt.Sprintf(api.HTTPVerifyWindow, windowID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %q)", got, want, body)
	}

	var report seal.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if !report.Valid {
		t.Errorf("report = invalid (%s), want valid", report.Reason)
	}
	if got, want := report.WindowID, windowID; got != want {
		t.Errorf("report window id = %q, want %q", got, want)
	}
}

func TestVerifyWindowTampered(t *testing.T) {
	ts, windowID, backend := newTestServer(t)

	if err := backend.Corrupt("audit-logs/"+windowID+"/"+windowID+".log", func(d []byte) []byte {
		d[0] ^= 0x01
		return d
	}); err != nil {
		t.Fatalf("Corrupt(): %v", err)
	}

	resp, err := http.Get(ts.URL + fmt.Sprintf(api.HTTPVerifyWindow, windowID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	// An invalid artifact is a report, not a transport error.
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}

	var report seal.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Valid {
		t.Error("report = valid for tampered artifact, want invalid")
	}
	if got, want := report.Reason, seal.ReasonDigestMismatch; got != want {
		t.Errorf("reason = %q, want %q", got, want)
	}
}

func TestVerifyWindowUnknown(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + fmt.Sprintf(api.HTTPVerifyWindow, "no_such_window"))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got, want := resp.StatusCode, http.StatusNotFound; got != want {
		t.Errorf("status = %d, want %d", got, want)
	}
}

func TestVerifyWindowIncomplete(t *testing.T) {
	ts, windowID, backend := newTestServer(t)

	backend.Delete("audit-logs/" + windowID + "/" + windowID + ".sig")
	resp, err := http.Get(ts.URL + fmt.Sprintf(api.HTTPVerifyWindow, windowID))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if got, want := resp.StatusCode, http.StatusConflict; got != want {
		t.Errorf("status = %d, want %d", got, want)
	}
}
