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

// Package seal implements the cryptographic operations of the pipeline:
// digesting sealed window bytes, signing the digest, and verifying archived
// artifacts.
//
// The signature scheme is RSA PKCS#1 v1.5 over the SHA-256 digest of the
// window bytes (hash-then-sign). Verification recomputes the digest from the
// presented bytes and fails closed: every malformed input, missing key or
// crypto error yields an invalid report, never a silent pass.
package seal

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/audittrail-dev/audittrail/internal/keys"
	"github.com/audittrail-dev/audittrail/monitoring"
	"k8s.io/klog/v2"
)

// ErrSigning is returned when a signature could not be produced.
var ErrSigning = errors.New("signing failed")

var (
	doOnce             sync.Once
	counterSignAttempt monitoring.Counter
	counterSignFailure monitoring.Counter
	counterVerify      monitoring.Counter
)

func initMetrics() {
	doOnce.Do(func() {
		mf := monitoring.GetMetricFactory()
		counterSignAttempt = mf.NewCounter("seal_sign_attempt", "Number of attempted signing operations")
		counterSignFailure = mf.NewCounter("seal_sign_failure", "Number of failed signing operations")
		counterVerify = mf.NewCounter("seal_verify", "Number of verification operations by outcome", "outcome")
	})
}

// DigestSize is the size of a window digest in bytes.
const DigestSize = sha256.Size

// digestChunkSize is the read granularity for streamed digesting. The
// resulting digest does not depend on it.
const digestChunkSize = 4096

// DigestBytes computes the SHA-256 digest of the window bytes.
func DigestBytes(b []byte) [DigestSize]byte {
	d, _ := DigestReader(bytes.NewReader(b))
	return d
}

// DigestReader computes the SHA-256 digest of everything readable from r.
// The digest is a pure function of the byte sequence, independent of how it
// was chunked on the way in.
func DigestReader(r io.Reader) ([DigestSize]byte, error) {
	var d [DigestSize]byte
	h := sha256.New()
	buf := make([]byte, digestChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return d, fmt.Errorf("failed to read bytes for digest: %w", err)
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Signer produces RSA PKCS#1 v1.5 signatures over window digests. Signing
// is serialized: one operation holds the private key at a time, and a
// signature is produced atomically or not at all.
type Signer struct {
	mu   sync.Mutex
	keys *keys.Manager
}

// NewSigner returns a Signer drawing key material from km.
func NewSigner(km *keys.Manager) *Signer {
	initMetrics()
	return &Signer{keys: km}
}

// Sign signs the given window digest, returning the signature and the id of
// the key that produced it.
func (s *Signer) Sign(ctx context.Context, digest [DigestSize]byte) (sig []byte, keyID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counterSignAttempt.Inc()

	err = s.keys.WithSigningKey(ctx, func(key *rsa.PrivateKey) error {
		raw, serr := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		if serr != nil {
			return fmt.Errorf("%w: %v", ErrSigning, serr)
		}
		id, serr := keys.KeyID(&key.PublicKey)
		if serr != nil {
			return fmt.Errorf("%w: %v", ErrSigning, serr)
		}
		sig, keyID = raw, id
		return nil
	})
	if err != nil {
		counterSignFailure.Inc()
		if errors.Is(err, keys.ErrKeyMissing) {
			return nil, "", fmt.Errorf("%w: %v", ErrSigning, err)
		}
		return nil, "", err
	}
	klog.V(1).Infof("Signed digest %x with key %s (%d byte signature)", digest[:8], keyID, len(sig))
	return sig, keyID, nil
}

// Report is the outcome of verifying an archived artifact.
type Report struct {
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
	WindowID   string `json:"window_id,omitempty"`
	EntryCount int    `json:"entry_count"`
	KeyID      string `json:"key_id,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// Verification failure reasons.
const (
	ReasonDigestMismatch    = "digest_mismatch"
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonMissingPublicKey  = "missing_public_key"
	ReasonMalformedInput    = "malformed_input"
)

// Verify recomputes the digest of windowBytes, checks it against the digest
// stored alongside the artifact, and verifies the signature under pub.
//
// It fails closed: a nil key, empty signature or malformed stored digest is
// an invalid report, not an error the caller might drop.
func Verify(windowBytes, storedDigest, sig []byte, pub *rsa.PublicKey) Report {
	initMetrics()
	r := Report{EntryCount: CountEntries(windowBytes)}

	if pub == nil {
		r.Reason = ReasonMissingPublicKey
		counterVerify.Inc(r.Reason)
		return r
	}
	if len(storedDigest) != DigestSize || len(sig) == 0 {
		r.Reason = ReasonMalformedInput
		counterVerify.Inc(r.Reason)
		return r
	}

	computed := DigestBytes(windowBytes)
	r.Digest = fmt.Sprintf("%x", computed)
	if !bytes.Equal(computed[:], storedDigest) {
		r.Reason = ReasonDigestMismatch
		counterVerify.Inc(r.Reason)
		return r
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, computed[:], sig); err != nil {
		r.Reason = ReasonSignatureMismatch
		counterVerify.Inc(r.Reason)
		return r
	}

	r.Valid = true
	counterVerify.Inc("valid")
	return r
}

// CountEntries returns the number of entry lines in serialized window bytes.
func CountEntries(windowBytes []byte) int {
	trimmed := bytes.TrimSuffix(windowBytes, []byte("\n"))
	if len(trimmed) == 0 {
		return 0
	}
	return bytes.Count(trimmed, []byte("\n")) + 1
}
