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

// Package inmemory provides a manifest store that lives only in memory.
package inmemory

import (
	"context"
	"sync"

	"github.com/audittrail-dev/audittrail/internal/manifest"
)

// NewStore returns a manifest store that lives only in memory.
func NewStore() manifest.Store {
	return &inMemoryStore{
		entries: make(map[string][]byte),
	}
}

type inMemoryStore struct {
	// mu allows entries to be read concurrently, but exclusively locked
	// for writing.
	mu      sync.RWMutex
	entries map[string][]byte
}

func (s *inMemoryStore) Init(_ context.Context) error {
	return nil
}

func (s *inMemoryStore) Windows(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.entries))
	for k := range s.entries {
		res = append(res, k)
	}
	return res, nil
}

func (s *inMemoryStore) Get(_ context.Context, windowID string) (*manifest.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.entries[windowID]
	if !ok {
		return nil, nil
	}
	return manifest.Unmarshal(raw)
}

func (s *inMemoryStore) Update(_ context.Context, windowID string, f manifest.UpdateFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *manifest.Entry
	if raw, ok := s.entries[windowID]; ok {
		e, err := manifest.Unmarshal(raw)
		if err != nil {
			return err
		}
		current = e
	}
	next, err := f(current)
	if err != nil {
		return err
	}
	raw, err := next.Marshal()
	if err != nil {
		return err
	}
	s.entries[windowID] = raw
	return nil
}
