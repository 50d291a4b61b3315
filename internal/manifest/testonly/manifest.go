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

// Package testonly holds a conformance test invoked by the tests of each
// manifest.Store implementation.
package testonly

import (
	"errors"
	"testing"

	"github.com/audittrail-dev/audittrail/internal/manifest"
	"github.com/google/go-cmp/cmp"
)

// TestStore exercises the Store contract against the implementation built
// by storeFactory: commit visibility, nil-for-missing, atomic update, and
// propagation of update-fn errors.
func TestStore(t *testing.T, storeFactory func() (manifest.Store, func() error)) {
	t.Helper()
	const windowID = "api_log_2026-08-29"

	st, close := storeFactory()
	defer func() {
		if err := close(); err != nil {
			t.Fatalf("close(): %v", err)
		}
	}()
	if err := st.Init(t.Context()); err != nil {
		t.Fatalf("Init(): %v", err)
	}

	// A window with no committed entry reads as nil.
	{
		got, err := st.Get(t.Context(), windowID)
		if err != nil {
			t.Fatalf("Get(): %v", err)
		}
		if got != nil {
			t.Fatalf("Get() = %+v, want nil for uncommitted window", got)
		}
	}

	// A committed entry is visible to Get and Windows.
	want := &manifest.Entry{
		WindowID:   windowID,
		Digest:     "8d4e77", // abbreviated, opaque to the store
		KeyID:      "4b825dc642cb6eb9",
		EntryCount: 5,
		LogKey:     "audit-logs/" + windowID + "/api_log.log",
		DigestKey:  "audit-logs/" + windowID + "/api_log.sha256",
		SigKey:     "audit-logs/" + windowID + "/api_log.sig",
	}
	{
		if err := st.Update(t.Context(), windowID, func(current *manifest.Entry) (*manifest.Entry, error) {
			if current != nil {
				t.Fatalf("update fn saw %+v, want nil", current)
			}
			return want, nil
		}); err != nil {
			t.Fatalf("Update(): %v", err)
		}

		got, err := st.Get(t.Context(), windowID)
		if err != nil {
			t.Fatalf("Get(): %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("committed entry diff (-want +got):\n%s", diff)
		}

		windows, err := st.Windows(t.Context())
		if err != nil {
			t.Fatalf("Windows(): %v", err)
		}
		if diff := cmp.Diff([]string{windowID}, windows); diff != "" {
			t.Errorf("Windows() diff (-want +got):\n%s", diff)
		}
	}

	// Update-fn errors abort the update and surface to errors.Is.
	{
		wantErr := errors.New("window content changed after archival")
		err := st.Update(t.Context(), windowID, func(current *manifest.Entry) (*manifest.Entry, error) {
			if current == nil {
				t.Fatal("update fn saw nil, want committed entry")
			}
			return nil, wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("Got %[1]v (%[1]T), want %[2]v (%[2]T)", err, wantErr)
		}

		got, err := st.Get(t.Context(), windowID)
		if err != nil {
			t.Fatalf("Get(): %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("entry changed by failed update (-want +got):\n%s", diff)
		}
	}
}
