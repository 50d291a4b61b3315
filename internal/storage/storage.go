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

// Package storage defines the object storage contract the archiver writes
// against. Backends are external collaborators; the contract makes them say
// which immutability guarantee is actually in effect rather than letting
// callers silently assume the strong one.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get for a key with no object.
	ErrNotFound = errors.New("object not found")
	// ErrImmutable is returned by Put for a key that already holds an
	// object on a write-once backend. Never retried.
	ErrImmutable = errors.New("object already exists and is immutable")
	// ErrUnauthorized is returned for failures that retrying cannot fix
	// (missing bucket, denied policy). Surfaced, not retried.
	ErrUnauthorized = errors.New("storage operation not authorized")
)

// Class selects a storage tier for archived objects.
type Class string

// Storage classes understood by backends. Backends without tiering accept
// and ignore them.
const (
	ClassStandard    Class = "STANDARD"
	ClassArchive     Class = "ARCHIVE"
	ClassDeepArchive Class = "DEEP_ARCHIVE"
)

// PutOptions carries per-object storage options.
type PutOptions struct {
	// Class requests a storage tier.
	Class Class
	// RetentionLock requests write-once/retention-lock protection for
	// the object. Whether it was actually applied comes back in the
	// PutResult.
	RetentionLock bool
}

// PutResult reports what the backend actually did.
type PutResult struct {
	// LockApplied is true only if the backend enforced a retention lock
	// for this object. A backend that merely promises not to overwrite
	// reports false here.
	LockApplied bool
}

// RetentionInfo describes a backend's immutability guarantee level.
type RetentionInfo struct {
	// Enforced is true when the backend rejects modification of stored
	// objects (hard guarantee), false when immutability is convention
	// only (advisory).
	Enforced bool
	// Description names the mechanism, for operators.
	Description string
}

// Backend is the object storage interface consumed by the archiver.
type Backend interface {
	// Put stores data under key. Keys are write-once from the archiver's
	// point of view; backends that can enforce that return ErrImmutable
	// on a second Put.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error)
	// Get returns the object stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Retention reports the backend's immutability guarantee.
	Retention() RetentionInfo
}
