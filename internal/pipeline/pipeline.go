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

// Package pipeline drives the window lifecycle: open windows collect
// entries, sealing freezes their bytes, signing covers the digest of those
// exact bytes, and archival commits the signed artifact set behind a
// manifest pointer. Transitions only move forward; a window that cannot
// progress stays where it is and the failure surfaces, since a skipped
// audit window is a security regression.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/audittrail-dev/audittrail/internal/archive"
	"github.com/audittrail-dev/audittrail/internal/audit"
	"github.com/audittrail-dev/audittrail/internal/keys"
	"github.com/audittrail-dev/audittrail/internal/manifest"
	"github.com/audittrail-dev/audittrail/internal/seal"
	"k8s.io/klog/v2"
)

// ErrNotArchived is returned when verification is requested for a window
// with no committed artifact.
var ErrNotArchived = errors.New("window has no committed artifact")

// Opts is the options passed to a pipeline: all collaborators are
// constructor-injected so independent pipelines can coexist and tests can
// substitute backends.
type Opts struct {
	Logger   *audit.Logger
	Keys     *keys.Manager
	Signer   *seal.Signer
	Archiver *archive.Archiver
	Manifest manifest.Store
}

// Pipeline owns the window lifecycle for one logger instance.
type Pipeline struct {
	logger   *audit.Logger
	keys     *keys.Manager
	signer   *seal.Signer
	archiver *archive.Archiver
	manifest manifest.Store

	// mu guards signed, the per-window signing results awaiting
	// archival. Signing window N may overlap logging into window N+1;
	// no state here crosses a window boundary.
	mu     sync.Mutex
	signed map[string]*archive.Artifact
}

// New creates a pipeline and initializes its manifest store.
func New(ctx context.Context, opts Opts) (*Pipeline, error) {
	if err := opts.Manifest.Init(ctx); err != nil {
		return nil, fmt.Errorf("Manifest.Init(): %v", err)
	}
	return &Pipeline{
		logger:   opts.Logger,
		keys:     opts.Keys,
		signer:   opts.Signer,
		archiver: opts.Archiver,
		manifest: opts.Manifest,
		signed:   make(map[string]*archive.Artifact),
	}, nil
}

// Logger returns the audit logger feeding this pipeline.
func (p *Pipeline) Logger() *audit.Logger { return p.logger }

// Manifest returns the manifest store, for read-only inspection.
func (p *Pipeline) Manifest() manifest.Store { return p.manifest }

// LogAPIEvent records an API request/response pair as an audit event,
// sanitizing both payloads.
func (p *Pipeline) LogAPIEvent(endpoint, userID string, request, response map[string]any, statusCode int) (string, error) {
	sev := audit.SeverityInfo
	if statusCode >= 500 {
		sev = audit.SeverityError
	} else if statusCode >= 400 {
		sev = audit.SeverityWarning
	}
	payload := map[string]any{
		"api_endpoint":    endpoint,
		"user_id":         userID,
		"request_data":    request,
		"response_status": statusCode,
		"response_data":   response,
	}
	return p.logger.LogEventSeverity("api_request", payload, sev)
}

// ProcessWindow advances the named window one step: seal if open, sign if
// sealed, archive if signed. For a window already archived it is a no-op
// returning the committed reference, unless the window's bytes no longer
// match the committed digest, which is fatal (archive.ErrWindowMutated).
func (p *Pipeline) ProcessWindow(ctx context.Context, windowID string) (*manifest.Entry, error) {
	w, err := p.logger.Window(windowID)
	if err != nil {
		return nil, err
	}

	switch w.State() {
	case audit.StateOpen:
		if p.logger.CurrentWindowID() != windowID {
			return nil, fmt.Errorf("window %q is open but not current", windowID)
		}
		if _, err := p.logger.Seal(); err != nil {
			return nil, err
		}
		return nil, nil

	case audit.StateSealed:
		return nil, p.sign(ctx, w)

	case audit.StateSigned:
		return p.archive(ctx, w)

	case audit.StateArchived:
		return p.checkArchived(ctx, w)

	default:
		return nil, fmt.Errorf("window %q in unexpected state %v", windowID, w.State())
	}
}

// ProcessCurrent seals the currently open window and drives it through
// signing and archival, returning the committed artifact reference.
func (p *Pipeline) ProcessCurrent(ctx context.Context) (*manifest.Entry, error) {
	w, err := p.logger.Seal()
	if err != nil {
		return nil, err
	}
	return p.Drive(ctx, w.ID())
}

// Drive advances the named window until it is archived.
func (p *Pipeline) Drive(ctx context.Context, windowID string) (*manifest.Entry, error) {
	for {
		ref, err := p.ProcessWindow(ctx, windowID)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			return ref, nil
		}
	}
}

// sign digests the sealed window's frozen bytes and signs the digest,
// keeping the result for the archive step. Signing is atomic: on any
// failure the window stays SEALED and the whole operation reruns.
func (p *Pipeline) sign(ctx context.Context, w *audit.Window) error {
	windowBytes, err := w.Bytes()
	if err != nil {
		return err
	}
	lines, err := w.Lines()
	if err != nil {
		return err
	}
	root, err := seal.EntryRoot(lines)
	if err != nil {
		return err
	}

	digest := seal.DigestBytes(windowBytes)
	sig, keyID, err := p.signer.Sign(ctx, digest)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.signed[w.ID()] = &archive.Artifact{
		WindowID:    w.ID(),
		WindowBytes: windowBytes,
		Digest:      digest,
		Signature:   sig,
		KeyID:       keyID,
		MerkleRoot:  root,
		SealedAt:    w.SealedAt(),
	}
	p.mu.Unlock()

	if err := w.Advance(audit.StateSigned); err != nil {
		return err
	}
	klog.V(1).Infof("Window %q signed with key %s", w.ID(), keyID)
	return nil
}

// archive uploads the signed artifact set and commits the manifest entry.
// On failure the window stays SIGNED, never falsely ARCHIVED.
func (p *Pipeline) archive(ctx context.Context, w *audit.Window) (*manifest.Entry, error) {
	p.mu.Lock()
	art := p.signed[w.ID()]
	p.mu.Unlock()
	if art == nil {
		return nil, fmt.Errorf("window %q is SIGNED but its signature is gone", w.ID())
	}

	ref, err := p.archiver.Archive(ctx, *art)
	if err != nil {
		return nil, err
	}
	if err := w.Advance(audit.StateArchived); err != nil {
		return nil, err
	}
	p.mu.Lock()
	delete(p.signed, w.ID())
	p.mu.Unlock()

	// Immediate verification confirms the committed artifact before
	// anyone relies on it. The artifact is already durable, so a failure
	// here is loud but does not unwind the archive.
	if report, err := p.Verify(ctx, w.ID()); err != nil {
		klog.Errorf("Post-archive verification of window %q errored: %v", w.ID(), err)
	} else if !report.Valid {
		klog.Errorf("Post-archive verification of window %q FAILED: %s", w.ID(), report.Reason)
	} else {
		klog.V(1).Infof("Post-archive verification of window %q succeeded", w.ID())
	}
	return ref, nil
}

// checkArchived re-checks an already archived window: same digest means
// no-op idempotence, a different digest means the sealed window was
// mutated.
func (p *Pipeline) checkArchived(ctx context.Context, w *audit.Window) (*manifest.Entry, error) {
	ref, err := p.manifest.Get(ctx, w.ID())
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("window %q is ARCHIVED but has no manifest entry", w.ID())
	}
	windowBytes, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	digest := seal.DigestBytes(windowBytes)
	if got := fmt.Sprintf("%x", digest); got != ref.Digest {
		return nil, fmt.Errorf("%w: window %q committed with digest %s, got %s",
			archive.ErrWindowMutated, w.ID(), ref.Digest, got)
	}
	return ref, nil
}

// Verify retrieves the window's committed artifact set and verifies the
// signature over it, returning a structured report. Retrieval of a partial
// artifact set fails with archive.ErrIncompleteArtifact; verification
// itself fails closed into the report.
func (p *Pipeline) Verify(ctx context.Context, windowID string) (seal.Report, error) {
	ref, err := p.manifest.Get(ctx, windowID)
	if err != nil {
		return seal.Report{}, err
	}
	if ref == nil {
		return seal.Report{}, fmt.Errorf("%w: %q", ErrNotArchived, windowID)
	}

	windowBytes, digest, sig, err := p.archiver.Retrieve(ctx, ref)
	if err != nil {
		return seal.Report{}, err
	}

	pub, err := p.keys.PublicKey(ctx)
	if err != nil && !errors.Is(err, keys.ErrKeyMissing) {
		return seal.Report{}, err
	}

	report := seal.Verify(windowBytes, digest, sig, pub)
	report.WindowID = windowID
	report.KeyID = ref.KeyID
	if !report.Valid {
		klog.Warningf("Verification of window %q failed: %s", windowID, report.Reason)
	}
	return report, nil
}
