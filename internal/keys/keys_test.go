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

package keys

import (
	"context"
	"crypto/rsa"
	"errors"
	"testing"
)

func TestFSStoreGenerateAndLoad(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore(): %v", err)
	}
	if err := store.Generate(MinBits, false); err != nil {
		t.Fatalf("Generate(): %v", err)
	}

	priv, err := store.PrivateKey(ctx)
	if err != nil {
		t.Fatalf("PrivateKey(): %v", err)
	}
	pub, err := store.PublicKey(ctx)
	if err != nil {
		t.Fatalf("PublicKey(): %v", err)
	}
	if priv.PublicKey.N.Cmp(pub.N) != 0 || priv.PublicKey.E != pub.E {
		t.Error("loaded public key does not match the private key")
	}
	if got, want := priv.N.BitLen(), MinBits; got != want {
		t.Errorf("modulus size = %d, want %d", got, want)
	}
}

func TestFSStoreRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore(): %v", err)
	}
	if err := store.Generate(MinBits, false); err != nil {
		t.Fatalf("Generate(): %v", err)
	}
	first, err := store.PublicKey(ctx)
	if err != nil {
		t.Fatalf("PublicKey(): %v", err)
	}

	if err := store.Generate(MinBits, false); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("Generate() without force = %v, want ErrKeyExists", err)
	}
	same, err := store.PublicKey(ctx)
	if err != nil {
		t.Fatalf("PublicKey(): %v", err)
	}
	if first.N.Cmp(same.N) != 0 {
		t.Error("refused overwrite still replaced the keypair")
	}

	if err := store.Generate(MinBits, true); err != nil {
		t.Fatalf("Generate() with force: %v", err)
	}
	replaced, err := store.PublicKey(ctx)
	if err != nil {
		t.Fatalf("PublicKey(): %v", err)
	}
	if first.N.Cmp(replaced.N) == 0 {
		t.Error("forced regeneration did not replace the keypair")
	}
}

func TestFSStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore(): %v", err)
	}
	if _, err := store.PrivateKey(ctx); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("PrivateKey() = %v, want ErrKeyMissing", err)
	}
	if _, err := store.PublicKey(ctx); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("PublicKey() = %v, want ErrKeyMissing", err)
	}
}

func TestGenerateRejectsSmallModulus(t *testing.T) {
	if _, err := Generate(1024); err == nil {
		t.Error("Generate(1024) succeeded, want error")
	}
}

func TestPEMRoundTrip(t *testing.T) {
	key, err := Generate(MinBits)
	if err != nil {
		t.Fatalf("Generate(): %v", err)
	}

	privPEM, err := EncodePrivate(key)
	if err != nil {
		t.Fatalf("EncodePrivate(): %v", err)
	}
	gotPriv, err := DecodePrivate(privPEM)
	if err != nil {
		t.Fatalf("DecodePrivate(): %v", err)
	}
	if gotPriv.N.Cmp(key.N) != 0 {
		t.Error("private key round trip changed the key")
	}

	pubPEM, err := EncodePublic(&key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublic(): %v", err)
	}
	gotPub, err := DecodePublic(pubPEM)
	if err != nil {
		t.Fatalf("DecodePublic(): %v", err)
	}
	if gotPub.N.Cmp(key.N) != 0 {
		t.Error("public key round trip changed the key")
	}

	if _, err := DecodePrivate(pubPEM); err == nil {
		t.Error("DecodePrivate() accepted a public key PEM")
	}
	if _, err := DecodePublic([]byte("not pem")); err == nil {
		t.Error("DecodePublic() accepted garbage")
	}
}

func TestKeyIDStable(t *testing.T) {
	key, err := Generate(MinBits)
	if err != nil {
		t.Fatalf("Generate(): %v", err)
	}
	a, err := KeyID(&key.PublicKey)
	if err != nil {
		t.Fatalf("KeyID(): %v", err)
	}
	b, err := KeyID(&key.PublicKey)
	if err != nil {
		t.Fatalf("KeyID(): %v", err)
	}
	if a != b {
		t.Errorf("KeyID() not stable: %q vs %q", a, b)
	}
	if got, want := len(a), 16; got != want {
		t.Errorf("KeyID() length = %d, want %d", got, want)
	}

	other, err := Generate(MinBits)
	if err != nil {
		t.Fatalf("Generate(): %v", err)
	}
	c, err := KeyID(&other.PublicKey)
	if err != nil {
		t.Fatalf("KeyID(): %v", err)
	}
	if a == c {
		t.Error("distinct keys produced the same KeyID")
	}
}

func TestWithSigningKeyScopesAccess(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore(): %v", err)
	}
	if err := store.Generate(MinBits, false); err != nil {
		t.Fatalf("Generate(): %v", err)
	}
	m := NewManager(store)

	var seen bool
	if err := m.WithSigningKey(ctx, func(key *rsa.PrivateKey) error {
		if key == nil {
			t.Error("WithSigningKey passed a nil key")
		}
		seen = true
		return nil
	}); err != nil {
		t.Fatalf("WithSigningKey(): %v", err)
	}
	if !seen {
		t.Error("WithSigningKey never invoked fn")
	}

	wantErr := errors.New("signing failed")
	if err := m.WithSigningKey(ctx, func(*rsa.PrivateKey) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("WithSigningKey() = %v, want %v", err, wantErr)
	}
}

func TestManagerMissingKey(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore(): %v", err)
	}
	m := NewManager(store)
	if err := m.WithSigningKey(ctx, func(*rsa.PrivateKey) error { return nil }); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("WithSigningKey() = %v, want ErrKeyMissing", err)
	}
	if _, err := m.KeyID(ctx); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("KeyID() = %v, want ErrKeyMissing", err)
	}
}
