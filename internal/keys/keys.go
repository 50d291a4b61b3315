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

// Package keys manages the RSA signing keypair: generation, protected
// storage, and scoped access to private key material.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	// ErrKeyMissing is returned when the key store holds no key.
	ErrKeyMissing = errors.New("key not found in store")
	// ErrKeyExists is returned when generation would overwrite an
	// existing keypair without force.
	ErrKeyExists = errors.New("keypair already exists")
)

// MinBits is the smallest accepted RSA modulus size.
const MinBits = 2048

// Store is a protected key store. Private key material obtained from a
// Store must not be retained beyond the operation that needed it; use
// Manager.WithSigningKey for that.
type Store interface {
	// PrivateKey loads the private key, or ErrKeyMissing.
	PrivateKey(ctx context.Context) (*rsa.PrivateKey, error)
	// PublicKey loads the public key, or ErrKeyMissing.
	PublicKey(ctx context.Context) (*rsa.PublicKey, error)
}

// Manager scopes access to key material from a Store.
type Manager struct {
	store Store
}

// NewManager returns a Manager backed by the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// WithSigningKey loads the private key and hands it to fn for the duration
// of one call. The reference is not retained by the Manager on any exit
// path; fn must not store it either.
func (m *Manager) WithSigningKey(ctx context.Context, fn func(*rsa.PrivateKey) error) error {
	key, err := m.store.PrivateKey(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// Drop our reference before returning. Go can't scrub the
		// memory, but nothing long-lived points at the key anymore.
		key = nil
		_ = key
	}()
	return fn(key)
}

// PublicKey loads the public verification key.
func (m *Manager) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	return m.store.PublicKey(ctx)
}

// KeyID returns the identifier of the stored keypair: the first 8 bytes of
// the SHA-256 of the PKIX-encoded public key, hex encoded.
func (m *Manager) KeyID(ctx context.Context) (string, error) {
	pub, err := m.store.PublicKey(ctx)
	if err != nil {
		return "", err
	}
	return KeyID(pub)
}

// KeyID computes the key identifier for a public key.
func KeyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}

// Generate creates a new RSA private key of the given modulus size.
func Generate(bits int) (*rsa.PrivateKey, error) {
	if bits < MinBits {
		return nil, fmt.Errorf("key size %d below minimum %d", bits, MinBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA-%d key: %w", bits, err)
	}
	return key, nil
}

// PEM block types for the on-disk key formats (PKCS#8 private key,
// PKIX/SubjectPublicKeyInfo public key).
const (
	privatePEMType = "PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

// EncodePrivate serializes a private key as a PKCS#8 PEM block.
func EncodePrivate(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: privatePEMType, Bytes: der}), nil
}

// EncodePublic serializes a public key as a PKIX PEM block.
func EncodePublic(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: der}), nil
}

// DecodePrivate parses a PKCS#8 PEM private key.
func DecodePrivate(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != privatePEMType {
		return nil, errors.New("no PKCS#8 private key PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want *rsa.PrivateKey", key)
	}
	return rsaKey, nil
}

// DecodePublic parses a PKIX PEM public key.
func DecodePublic(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != publicPEMType {
		return nil, errors.New("no PKIX public key PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want *rsa.PublicKey", pub)
	}
	return rsaPub, nil
}
