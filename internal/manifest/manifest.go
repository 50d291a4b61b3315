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

// Package manifest defines the durable record mapping windows to their
// committed artifact locations. Writing a manifest entry is the single
// atomic commit step of archival: readers only ever discover artifacts
// through the manifest, so an artifact without an entry does not exist to
// them.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry records where a window's signed artifact lives and what was signed.
// It doubles as the artifact reference handed back to callers.
type Entry struct {
	WindowID string `json:"window_id"`
	// Digest is the hex SHA-256 of the archived window bytes, recorded
	// at commit time for idempotent re-processing checks.
	Digest string `json:"digest"`
	KeyID  string `json:"key_id"`
	// MerkleRoot is the hex RFC 6962 root over the window's entry lines.
	MerkleRoot string `json:"merkle_root,omitempty"`
	EntryCount int    `json:"entry_count"`
	// Storage keys of the three artifact pieces plus metadata.
	LogKey    string `json:"log_key"`
	DigestKey string `json:"digest_key"`
	SigKey    string `json:"sig_key"`
	MetaKey   string `json:"meta_key,omitempty"`
	// LockApplied is true only if the backend enforced retention locks
	// on every piece.
	LockApplied bool      `json:"lock_applied"`
	CreatedAt   time.Time `json:"created_at"`
}

// Marshal serializes an entry for storage.
func (e *Entry) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest entry %q: %w", e.WindowID, err)
	}
	return b, nil
}

// Unmarshal parses a stored entry.
func Unmarshal(raw []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest entry: %w", err)
	}
	return &e, nil
}

// UpdateFn takes the currently committed entry for a window (nil if none)
// and returns the entry that should replace it.
type UpdateFn func(current *Entry) (*Entry, error)

// Store is a handle on persistent manifest storage.
type Store interface {
	// Init sets up the store. Idempotent; called once per process
	// startup.
	Init(ctx context.Context) error

	// Windows returns the ids of all windows with committed entries.
	Windows(ctx context.Context) ([]string, error)

	// Get returns the committed entry for the window, or nil.
	Get(ctx context.Context, windowID string) (*Entry, error)

	// Update atomically replaces the entry for windowID. The provided
	// function sees the currently committed entry (nil if none); its
	// error aborts the update and is returned wrapped or as-is, so
	// callers can errors.Is against it.
	Update(ctx context.Context, windowID string, f UpdateFn) error
}
