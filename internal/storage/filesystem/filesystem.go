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

// Package filesystem provides a storage backend keeping one object per file
// under a root directory. Its immutability is advisory: the backend never
// overwrites an object, but nothing stops the OS from doing so, and it
// reports exactly that.
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/audittrail-dev/audittrail/internal/storage"
	"k8s.io/klog/v2"
)

// NewBackend returns a backend rooted at dir, creating it if needed.
func NewBackend(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %q: %w", dir, err)
	}
	return &Backend{root: dir}, nil
}

// Backend stores objects as files, mapping key path separators to
// directories.
type Backend struct {
	root string
}

func (b *Backend) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

// Put implements storage.Backend. Existing objects are never overwritten.
// Requested retention locks are not enforceable here, so LockApplied is
// always false.
func (b *Backend) Put(_ context.Context, key string, data []byte, opts storage.PutOptions) (storage.PutResult, error) {
	p, err := b.path(key)
	if err != nil {
		return storage.PutResult{}, fmt.Errorf("%w: %v", storage.ErrUnauthorized, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		if os.IsPermission(err) {
			return storage.PutResult{}, fmt.Errorf("%w: %v", storage.ErrUnauthorized, err)
		}
		return storage.PutResult{}, fmt.Errorf("failed to create object directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return storage.PutResult{}, fmt.Errorf("%w: %q", storage.ErrImmutable, key)
		}
		if os.IsPermission(err) {
			return storage.PutResult{}, fmt.Errorf("%w: %v", storage.ErrUnauthorized, err)
		}
		return storage.PutResult{}, fmt.Errorf("failed to create object %q: %w", key, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return storage.PutResult{}, fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return storage.PutResult{}, fmt.Errorf("failed to close object %q: %w", key, err)
	}
	if opts.RetentionLock {
		klog.V(1).Infof("Retention lock requested for %q but the filesystem backend cannot enforce one", key)
	}
	return storage.PutResult{LockApplied: false}, nil
}

// Get implements storage.Backend.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnauthorized, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return data, nil
}

// Retention implements storage.Backend.
func (b *Backend) Retention() storage.RetentionInfo {
	return storage.RetentionInfo{
		Enforced:    false,
		Description: "filesystem store; application never overwrites, OS-level writes remain possible",
	}
}
