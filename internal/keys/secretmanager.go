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
	"fmt"
	"hash/crc32"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"k8s.io/klog/v2"
)

// SecretManagerStore is a Store whose private key lives in Google Cloud
// Secret Manager. The public half is an ordinary PEM file on disk since it
// is freely distributed anyway.
type SecretManagerStore struct {
	// secretName is the fully qualified secret version resource name,
	// e.g. projects/p/secrets/audit-signing-key/versions/latest.
	secretName string
	// publicKeyPath is the PEM file holding the verification key.
	publicKeyPath string
}

// NewSecretManagerStore returns a store reading the private key from the
// named Secret Manager secret version and the public key from a local file.
func NewSecretManagerStore(secretName, publicKeyPath string) *SecretManagerStore {
	return &SecretManagerStore{
		secretName:    secretName,
		publicKeyPath: publicKeyPath,
	}
}

// PrivateKey implements Store. The Secret Manager client only lives for the
// duration of this call.
func (s *SecretManagerStore) PrivateKey(ctx context.Context) (*rsa.PrivateKey, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			klog.Warningf("Failed to close secret manager client: %v", err)
		}
	}()

	raw, err := secret(ctx, client, s.secretName)
	if err != nil {
		return nil, fmt.Errorf("failed to access %q: %w", s.secretName, err)
	}
	return DecodePrivate(raw)
}

// PublicKey implements Store.
func (s *SecretManagerStore) PublicKey(_ context.Context) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrKeyMissing, s.publicKeyPath)
		}
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return DecodePublic(raw)
}

func secret(ctx context.Context, client *secretmanager.Client, secretName string) ([]byte, error) {
	resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to access secret version: %v", ErrKeyMissing, err)
	}
	if resp.Name != secretName {
		return nil, errors.New("request corrupted in-transit")
	}
	// Verify the data checksum.
	crc32c := crc32.MakeTable(crc32.Castagnoli)
	checksum := int64(crc32.Checksum(resp.Payload.Data, crc32c))
	if checksum != *resp.Payload.DataCrc32C {
		return nil, errors.New("data corruption detected")
	}

	return resp.Payload.Data, nil
}
