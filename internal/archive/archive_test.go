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

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/audittrail-dev/audittrail/internal/manifest"
	minmemory "github.com/audittrail-dev/audittrail/internal/manifest/inmemory"
	"github.com/audittrail-dev/audittrail/internal/seal"
	"github.com/audittrail-dev/audittrail/internal/storage"
	"github.com/audittrail-dev/audittrail/internal/storage/inmemory"
	"github.com/audittrail-dev/audittrail/monitoring"
)

func init() {
	monitoring.SetMetricFactory(monitoring.InertMetricFactory{})
}

func testArtifact(windowID string) Artifact {
	windowBytes := []byte("{\"event_id\":\"a\"}\n{\"event_id\":\"b\"}\n")
	return Artifact{
		WindowID:    windowID,
		WindowBytes: windowBytes,
		Digest:      seal.DigestBytes(windowBytes),
		Signature:   []byte("not-a-real-signature"),
		KeyID:       "4b825dc642cb6eb9",
		MerkleRoot:  []byte{0x01, 0x02},
		SealedAt:    time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
}

func newTestArchiver(backend storage.Backend, mStore manifest.Store) *Archiver {
	return New(Opts{
		Backend:       backend,
		Manifest:      mStore,
		Prefix:        "audit-logs/",
		RetentionLock: true,
	})
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.NewBackend()
	mStore := minmemory.NewStore()
	a := newTestArchiver(backend, mStore)

	art := testArtifact("w1")
	entry, err := a.Archive(ctx, art)
	if err != nil {
		t.Fatalf("Archive(): %v", err)
	}
	if got, want := entry.EntryCount, 2; got != want {
		t.Errorf("EntryCount = %d, want %d", got, want)
	}
	if got, want := entry.LogKey, "audit-logs/w1/w1.log"; got != want {
		t.Errorf("LogKey = %q, want %q", got, want)
	}
	if !entry.LockApplied {
		t.Error("LockApplied = false, want true for the write-once backend")
	}

	windowBytes, digest, sig, err := a.Retrieve(ctx, entry)
	if err != nil {
		t.Fatalf("Retrieve(): %v", err)
	}
	if !bytes.Equal(windowBytes, art.WindowBytes) {
		t.Error("retrieved window bytes differ from archived bytes")
	}
	if !bytes.Equal(digest, art.Digest[:]) {
		t.Error("retrieved digest differs from archived digest")
	}
	if !bytes.Equal(sig, art.Signature) {
		t.Error("retrieved signature differs from archived signature")
	}
}

func TestArchiveIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newTestArchiver(inmemory.NewBackend(), minmemory.NewStore())

	art := testArtifact("w1")
	first, err := a.Archive(ctx, art)
	if err != nil {
		t.Fatalf("Archive(): %v", err)
	}
	second, err := a.Archive(ctx, art)
	if err != nil {
		t.Fatalf("re-Archive(): %v", err)
	}
	if first.Digest != second.Digest || first.CreatedAt != second.CreatedAt {
		t.Error("re-archiving an unchanged window did not return the committed entry")
	}
}

func TestArchiveDetectsMutation(t *testing.T) {
	ctx := context.Background()
	a := newTestArchiver(inmemory.NewBackend(), minmemory.NewStore())

	if _, err := a.Archive(ctx, testArtifact("w1")); err != nil {
		t.Fatalf("Archive(): %v", err)
	}

	mutated := testArtifact("w1")
	mutated.WindowBytes = append([]byte{}, mutated.WindowBytes...)
	mutated.WindowBytes[0] ^= 0x01
	mutated.Digest = seal.DigestBytes(mutated.WindowBytes)
	// The mutated bytes collide with already-staged immutable objects and
	// never reach the manifest.
	if _, err := a.Archive(ctx, mutated); !errors.Is(err, ErrUpload) && !errors.Is(err, ErrWindowMutated) {
		t.Errorf("Archive() of mutated window = %v, want ErrUpload or ErrWindowMutated", err)
	}
}

func TestArchiveRejectsDigestMismatch(t *testing.T) {
	ctx := context.Background()
	a := newTestArchiver(inmemory.NewBackend(), minmemory.NewStore())

	art := testArtifact("w1")
	art.Digest[0] ^= 0x01
	if _, err := a.Archive(ctx, art); !errors.Is(err, ErrWindowMutated) {
		t.Errorf("Archive() with stale digest = %v, want ErrWindowMutated", err)
	}
}

// flakyBackend fails the first failures Puts with a transient error.
type flakyBackend struct {
	*inmemory.Backend
	failures int
}

func (f *flakyBackend) Put(ctx context.Context, key string, data []byte, opts storage.PutOptions) (storage.PutResult, error) {
	if f.failures > 0 {
		f.failures--
		return storage.PutResult{}, fmt.Errorf("transient backend error")
	}
	return f.Backend.Put(ctx, key, data, opts)
}

func TestArchiveRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{Backend: inmemory.NewBackend(), failures: 2}
	a := newTestArchiver(backend, minmemory.NewStore())

	entry, err := a.Archive(ctx, testArtifact("w1"))
	if err != nil {
		t.Fatalf("Archive() with transient failures: %v", err)
	}
	if entry == nil {
		t.Fatal("Archive() returned nil entry")
	}
}

// deniedBackend refuses every write.
type deniedBackend struct {
	*inmemory.Backend
}

func (d *deniedBackend) Put(context.Context, string, []byte, storage.PutOptions) (storage.PutResult, error) {
	return storage.PutResult{}, fmt.Errorf("%w: access denied", storage.ErrUnauthorized)
}

func TestArchiveFailureLeavesNoManifestEntry(t *testing.T) {
	ctx := context.Background()
	mStore := minmemory.NewStore()
	a := newTestArchiver(&deniedBackend{Backend: inmemory.NewBackend()}, mStore)

	if _, err := a.Archive(ctx, testArtifact("w1")); !errors.Is(err, ErrUpload) {
		t.Fatalf("Archive() = %v, want ErrUpload", err)
	}
	entry, err := mStore.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if entry != nil {
		t.Errorf("failed archive committed a manifest entry: %+v", entry)
	}
}

func TestArchiveResumesAfterCrash(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.NewBackend()
	a := newTestArchiver(backend, minmemory.NewStore())

	// Simulate a crash between staging and commit: the pieces exist but no
	// manifest entry does.
	art := testArtifact("w1")
	firstTry := newTestArchiver(backend, minmemory.NewStore())
	if _, err := firstTry.Archive(ctx, art); err != nil {
		t.Fatalf("Archive(): %v", err)
	}

	// A retry against a fresh manifest finds identical staged objects and
	// still commits.
	entry, err := a.Archive(ctx, art)
	if err != nil {
		t.Fatalf("re-Archive() after crash: %v", err)
	}
	if entry == nil {
		t.Fatal("re-Archive() returned nil entry")
	}
}

func TestRetrieveIncompleteArtifact(t *testing.T) {
	ctx := context.Background()
	backend := inmemory.NewBackend()
	a := newTestArchiver(backend, minmemory.NewStore())

	entry, err := a.Archive(ctx, testArtifact("w1"))
	if err != nil {
		t.Fatalf("Archive(): %v", err)
	}

	backend.Delete(entry.SigKey)
	if _, _, _, err := a.Retrieve(ctx, entry); !errors.Is(err, ErrIncompleteArtifact) {
		t.Errorf("Retrieve() with deleted piece = %v, want ErrIncompleteArtifact", err)
	}

	if _, _, _, err := a.Retrieve(ctx, nil); !errors.Is(err, ErrIncompleteArtifact) {
		t.Errorf("Retrieve(nil) = %v, want ErrIncompleteArtifact", err)
	}
}
