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

// Package inmemory provides a storage backend that lives only in memory.
// It enforces write-once semantics, making it the reference for the hard
// retention guarantee and the default test double.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/audittrail-dev/audittrail/internal/storage"
)

// NewBackend returns an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		objects: make(map[string][]byte),
	}
}

// Backend is an in-memory write-once object store.
type Backend struct {
	// mu allows objects to be read concurrently, but exclusively locked
	// for writing.
	mu      sync.RWMutex
	objects map[string][]byte
}

// Put implements storage.Backend. A second Put of the same key fails with
// storage.ErrImmutable regardless of content.
func (b *Backend) Put(_ context.Context, key string, data []byte, opts storage.PutOptions) (storage.PutResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; ok {
		return storage.PutResult{}, fmt.Errorf("%w: %q", storage.ErrImmutable, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = cp
	return storage.PutResult{LockApplied: opts.RetentionLock}, nil
}

// Get implements storage.Backend.
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Retention implements storage.Backend.
func (b *Backend) Retention() storage.RetentionInfo {
	return storage.RetentionInfo{
		Enforced:    true,
		Description: "in-memory write-once store",
	}
}

// Corrupt overwrites stored object bytes, bypassing the write-once check.
// It exists so tamper scenarios can be tested; production code has no path
// to it.
func (b *Backend) Corrupt(key string, mutate func([]byte) []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrNotFound, key)
	}
	b.objects[key] = mutate(data)
	return nil
}

// Delete removes an object, bypassing the write-once check. Test use only.
func (b *Backend) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
}
