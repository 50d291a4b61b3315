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

package inmemory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/audittrail-dev/audittrail/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	want := []byte("window bytes")
	res, err := b.Put(ctx, "audit-logs/w1/w1.log", want, storage.PutOptions{RetentionLock: true})
	if err != nil {
		t.Fatalf("Put(): %v", err)
	}
	if !res.LockApplied {
		t.Error("LockApplied = false, want true")
	}

	got, err := b.Get(ctx, "audit-logs/w1/w1.log")
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Get() = %q, want %q", got, want)
	}
}

func TestPutIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	if _, err := b.Put(ctx, "k", []byte("first"), storage.PutOptions{}); err != nil {
		t.Fatalf("Put(): %v", err)
	}
	if _, err := b.Put(ctx, "k", []byte("first"), storage.PutOptions{}); !errors.Is(err, storage.ErrImmutable) {
		t.Errorf("second Put() = %v, want ErrImmutable", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if !bytes.Equal(got, []byte("first")) {
		t.Errorf("Get() after rejected overwrite = %q, want %q", got, "first")
	}
}

func TestGetUnknownKey(t *testing.T) {
	b := NewBackend()
	if _, err := b.Get(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() = %v, want ErrNotFound", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	if _, err := b.Put(ctx, "k", []byte("data"), storage.PutOptions{}); err != nil {
		t.Fatalf("Put(): %v", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	got[0] = 'X'
	again, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if !bytes.Equal(again, []byte("data")) {
		t.Error("mutating a Get() result changed the stored object")
	}
}

func TestRetentionEnforced(t *testing.T) {
	if !NewBackend().Retention().Enforced {
		t.Error("Retention().Enforced = false, want true")
	}
}

func TestCorruptAndDeleteHooks(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	if _, err := b.Put(ctx, "k", []byte("data"), storage.PutOptions{}); err != nil {
		t.Fatalf("Put(): %v", err)
	}
	if err := b.Corrupt("k", func(d []byte) []byte {
		d[0] ^= 0x01
		return d
	}); err != nil {
		t.Fatalf("Corrupt(): %v", err)
	}
	got, err := b.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if bytes.Equal(got, []byte("data")) {
		t.Error("Corrupt() did not change the stored object")
	}

	b.Delete("k")
	if _, err := b.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after Delete() = %v, want ErrNotFound", err)
	}
}
