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
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// Key file names inside the protected key directory.
const (
	privateKeyFile = "private_key.pem"
	publicKeyFile  = "public_key.pem"
)

// PublicKeyPath returns the path of the public key PEM file inside a key
// directory.
func PublicKeyPath(dir string) string {
	return filepath.Join(dir, publicKeyFile)
}

// FSStore is a Store backed by a protected directory holding PEM key files.
type FSStore struct {
	dir string
}

// NewFSStore returns a store rooted at dir. The directory is created with
// owner-only permissions if it does not exist.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory %q: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) privatePath() string { return filepath.Join(s.dir, privateKeyFile) }
func (s *FSStore) publicPath() string  { return filepath.Join(s.dir, publicKeyFile) }

// Generate creates a new keypair and writes both PEM files. It refuses to
// overwrite an existing keypair unless force is set, to prevent silent key
// loss.
func (s *FSStore) Generate(bits int, force bool) error {
	if !force {
		if _, err := os.Stat(s.privatePath()); err == nil {
			return fmt.Errorf("%w at %q (use force to replace)", ErrKeyExists, s.privatePath())
		}
	}
	key, err := Generate(bits)
	if err != nil {
		return err
	}
	privPEM, err := EncodePrivate(key)
	if err != nil {
		return err
	}
	pubPEM, err := EncodePublic(&key.PublicKey)
	if err != nil {
		return err
	}
	if err := writeKeyFile(s.privatePath(), privPEM, 0600, force); err != nil {
		return err
	}
	if err := writeKeyFile(s.publicPath(), pubPEM, 0644, force); err != nil {
		return err
	}
	id, err := KeyID(&key.PublicKey)
	if err != nil {
		return err
	}
	klog.Infof("Generated RSA-%d keypair %s in %q", bits, id, s.dir)
	return nil
}

// writeKeyFile writes key material, refusing to clobber an existing file
// unless force is set.
func writeKeyFile(path string, data []byte, mode os.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w at %q", ErrKeyExists, path)
		}
		return fmt.Errorf("unable to create key file %q: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("unable to write key file %q: %w", path, err)
	}
	return f.Close()
}

// PrivateKey implements Store.
func (s *FSStore) PrivateKey(_ context.Context) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(s.privatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrKeyMissing, s.privatePath())
		}
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return DecodePrivate(raw)
}

// PublicKey implements Store.
func (s *FSStore) PublicKey(_ context.Context) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(s.publicPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrKeyMissing, s.publicPath())
		}
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return DecodePublic(raw)
}
