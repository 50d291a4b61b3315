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

// Package archive stores and retrieves signed artifact sets against
// immutable storage using a two-phase protocol: all pieces are staged under
// a shared key prefix, then a single manifest write commits them. A failure
// before the commit leaves nothing a reader can discover, so partial
// uploads are invisible rather than half-valid.
package archive

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/audittrail-dev/audittrail/internal/manifest"
	"github.com/audittrail-dev/audittrail/internal/seal"
	"github.com/audittrail-dev/audittrail/internal/storage"
	"github.com/audittrail-dev/audittrail/monitoring"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	// ErrUpload is returned when staging an artifact piece failed after
	// retries, or failed permanently.
	ErrUpload = errors.New("artifact upload failed")
	// ErrIncompleteArtifact is returned when retrieval found only part
	// of an artifact set. Treated as tamper/corruption by callers.
	ErrIncompleteArtifact = errors.New("artifact set is incomplete")
	// ErrWindowMutated is returned when a window's content no longer
	// matches what the manifest recorded for it. A sealed window must
	// never change, so this is fatal.
	ErrWindowMutated = errors.New("sealed window content differs from committed artifact")
)

var (
	doOnce               sync.Once
	counterUploadAttempt monitoring.Counter
	counterUploadFailure monitoring.Counter
	counterCommit        monitoring.Counter
)

func initMetrics() {
	doOnce.Do(func() {
		mf := monitoring.GetMetricFactory()
		counterUploadAttempt = mf.NewCounter("archive_upload_attempt", "Number of attempted artifact piece uploads")
		counterUploadFailure = mf.NewCounter("archive_upload_failure", "Number of artifact piece uploads that failed permanently")
		counterCommit = mf.NewCounter("archive_commit", "Number of committed artifact sets")
	})
}

// SignatureScheme names the fixed signature scheme recorded in artifact
// metadata.
const SignatureScheme = "rsa-pkcs1v15-sha256"

// Opts holds the collaborators and settings for an Archiver.
type Opts struct {
	Backend  storage.Backend
	Manifest manifest.Store
	// Prefix is prepended to every object key, e.g. "audit-logs/".
	Prefix string
	// Class is the storage tier requested for archived objects.
	Class storage.Class
	// RetentionLock requests write-once protection for every object.
	RetentionLock bool
	// MaxTries bounds upload retries per object. Defaults to 3.
	MaxTries uint
}

// Archiver uploads signed artifact sets and retrieves them for
// verification.
type Archiver struct {
	backend  storage.Backend
	manifest manifest.Store
	prefix   string
	class    storage.Class
	lock     bool
	maxTries uint
}

// New creates an Archiver.
func New(opts Opts) *Archiver {
	initMetrics()
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.Class == "" {
		opts.Class = storage.ClassArchive
	}
	return &Archiver{
		backend:  opts.Backend,
		manifest: opts.Manifest,
		prefix:   opts.Prefix,
		class:    opts.Class,
		lock:     opts.RetentionLock,
		maxTries: opts.MaxTries,
	}
}

// Artifact is the unit handed to Archive: a sealed window's exact bytes
// together with its digest, signature and signing metadata.
type Artifact struct {
	WindowID    string
	WindowBytes []byte
	Digest      [seal.DigestSize]byte
	Signature   []byte
	KeyID       string
	MerkleRoot  []byte
	SealedAt    time.Time
}

// meta is the sidecar object describing an archived artifact.
type meta struct {
	WindowID   string    `json:"window_id"`
	KeyID      string    `json:"key_id"`
	Scheme     string    `json:"signature_scheme"`
	EntryCount int       `json:"entry_count"`
	MerkleRoot string    `json:"merkle_root,omitempty"`
	SealedAt   time.Time `json:"sealed_at"`
}

func (a *Archiver) keyBase(windowID string) string {
	return fmt.Sprintf("%s%s/%s", a.prefix, windowID, windowID)
}

// Archive stages the artifact pieces in parallel, then commits the manifest
// entry as the single atomic pointer making them visible. Re-archiving an
// unchanged window is idempotent and returns the committed entry;
// re-archiving a window whose bytes changed fails with ErrWindowMutated.
func (a *Archiver) Archive(ctx context.Context, art Artifact) (*manifest.Entry, error) {
	if got := seal.DigestBytes(art.WindowBytes); !bytes.Equal(got[:], art.Digest[:]) {
		// The digest must cover the exact bytes being archived.
		return nil, fmt.Errorf("%w: digest does not match window bytes", ErrWindowMutated)
	}

	base := a.keyBase(art.WindowID)
	entry := &manifest.Entry{
		WindowID:   art.WindowID,
		Digest:     hex.EncodeToString(art.Digest[:]),
		KeyID:      art.KeyID,
		MerkleRoot: hex.EncodeToString(art.MerkleRoot),
		EntryCount: seal.CountEntries(art.WindowBytes),
		LogKey:     base + ".log",
		DigestKey:  base + ".sha256",
		SigKey:     base + ".sig",
		MetaKey:    base + ".meta.json",
	}

	metaBytes, err := json.Marshal(meta{
		WindowID:   art.WindowID,
		KeyID:      art.KeyID,
		Scheme:     SignatureScheme,
		EntryCount: entry.EntryCount,
		MerkleRoot: entry.MerkleRoot,
		SealedAt:   art.SealedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact metadata: %w", err)
	}

	// Phase one: stage every piece. The digest object holds the hex
	// digest as text, matching the .sha256 sidecar convention.
	pieces := []struct {
		key  string
		data []byte
	}{
		{entry.LogKey, art.WindowBytes},
		{entry.DigestKey, []byte(entry.Digest)},
		{entry.SigKey, art.Signature},
		{entry.MetaKey, metaBytes},
	}
	var mu sync.Mutex
	lockApplied := true
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pieces {
		g.Go(func() error {
			res, err := a.putWithRetry(gctx, p.key, p.data)
			if err != nil {
				return err
			}
			mu.Lock()
			lockApplied = lockApplied && res.LockApplied
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	entry.LockApplied = lockApplied
	if a.lock && !lockApplied {
		klog.Warningf("Window %q archived without an enforced retention lock; immutability is advisory only", art.WindowID)
	}

	// Phase two: commit the manifest pointer.
	var committed *manifest.Entry
	err = a.manifest.Update(ctx, art.WindowID, func(current *manifest.Entry) (*manifest.Entry, error) {
		if current != nil {
			if current.Digest != entry.Digest {
				return nil, fmt.Errorf("%w: window %q committed with digest %s, got %s",
					ErrWindowMutated, art.WindowID, current.Digest, entry.Digest)
			}
			committed = current
			return current, nil
		}
		entry.CreatedAt = time.Now().UTC()
		committed = entry
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	counterCommit.Inc()
	klog.Infof("Committed artifact for window %q (%d entries, key %s, lock=%t)",
		art.WindowID, committed.EntryCount, committed.KeyID, committed.LockApplied)
	return committed, nil
}

// putWithRetry stages one object, retrying transient failures with bounded
// exponential backoff. Authorization failures are permanent. An immutable
// collision is tolerated only when the existing object already holds the
// same bytes, which happens when a previous archive attempt crashed between
// staging and commit.
func (a *Archiver) putWithRetry(ctx context.Context, key string, data []byte) (storage.PutResult, error) {
	opts := storage.PutOptions{Class: a.class, RetentionLock: a.lock}
	op := func() (storage.PutResult, error) {
		counterUploadAttempt.Inc()
		res, err := a.backend.Put(ctx, key, data, opts)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, storage.ErrImmutable):
			existing, gerr := a.backend.Get(ctx, key)
			if gerr == nil && bytes.Equal(existing, data) {
				klog.V(1).Infof("Object %q already staged with identical content", key)
				return storage.PutResult{LockApplied: a.backend.Retention().Enforced && a.lock}, nil
			}
			return res, backoff.Permanent(fmt.Errorf("%w: %q: %v", ErrUpload, key, err))
		case errors.Is(err, storage.ErrUnauthorized):
			return res, backoff.Permanent(fmt.Errorf("%w: %q: %v", ErrUpload, key, err))
		default:
			klog.Warningf("Transient failure uploading %q, will retry: %v", key, err)
			return res, fmt.Errorf("%w: %q: %v", ErrUpload, key, err)
		}
	}
	res, err := backoff.Retry(ctx, op, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(a.maxTries))
	if err != nil {
		counterUploadFailure.Inc()
		return storage.PutResult{}, err
	}
	return res, nil
}

// Retrieve fetches the artifact set referenced by a committed manifest
// entry. If any piece is missing it returns ErrIncompleteArtifact and no
// partial data.
func (a *Archiver) Retrieve(ctx context.Context, ref *manifest.Entry) (windowBytes, digest, sig []byte, err error) {
	if ref == nil {
		return nil, nil, nil, fmt.Errorf("%w: nil artifact reference", ErrIncompleteArtifact)
	}
	get := func(key string) ([]byte, error) {
		data, err := a.backend.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: missing %q", ErrIncompleteArtifact, key)
			}
			return nil, err
		}
		return data, nil
	}

	if windowBytes, err = get(ref.LogKey); err != nil {
		return nil, nil, nil, err
	}
	digestHex, err := get(ref.DigestKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if sig, err = get(ref.SigKey); err != nil {
		return nil, nil, nil, err
	}

	digest, err = hex.DecodeString(string(bytes.TrimSpace(digestHex)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: stored digest is not hex: %v", ErrIncompleteArtifact, err)
	}
	return windowBytes, digest, sig, nil
}

// Retention reports the backend's immutability guarantee, so callers can
// surface whether write-once protection is enforced or advisory.
func (a *Archiver) Retention() storage.RetentionInfo {
	return a.backend.Retention()
}
