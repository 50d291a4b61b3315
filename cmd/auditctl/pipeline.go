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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // Load drivers for sqlite3
	"k8s.io/klog/v2"

	"github.com/audittrail-dev/audittrail/internal/archive"
	"github.com/audittrail-dev/audittrail/internal/audit"
	"github.com/audittrail-dev/audittrail/internal/config"
	"github.com/audittrail-dev/audittrail/internal/keys"
	"github.com/audittrail-dev/audittrail/internal/manifest"
	msql "github.com/audittrail-dev/audittrail/internal/manifest/sql"
	"github.com/audittrail-dev/audittrail/internal/pipeline"
	"github.com/audittrail-dev/audittrail/internal/seal"
	"github.com/audittrail-dev/audittrail/internal/storage"
	"github.com/audittrail-dev/audittrail/internal/storage/filesystem"
)

// instance bundles a wired pipeline with the resources behind it.
type instance struct {
	pipeline *pipeline.Pipeline
	cfg      config.Config
	journal  *os.File
	db       *sql.DB
}

func (i *instance) Close() error {
	var first error
	if i.journal != nil {
		if err := i.journal.Close(); err != nil && first == nil {
			first = err
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// journalPath is the append journal for today's window.
func journalPath(cfg config.Config) string {
	name := fmt.Sprintf("%s_%s.log", cfg.WindowPrefix, time.Now().UTC().Format("2006-01-02"))
	return filepath.Join(cfg.LogDir, name)
}

// keyStore picks the configured key store: Secret Manager when a secret is
// named, the protected key directory otherwise.
func keyStore(cfg config.Config) (keys.Store, error) {
	if cfg.SigningKeySecret != "" {
		return keys.NewSecretManagerStore(cfg.SigningKeySecret, keys.PublicKeyPath(cfg.KeysDir)), nil
	}
	return keys.NewFSStore(cfg.KeysDir)
}

// buildPipeline wires a pipeline instance from the config: filesystem
// storage backend, sqlite manifest, file journal for appends.
func buildPipeline(ctx context.Context, cfg config.Config, withJournal bool) (*instance, error) {
	inst := &instance{cfg: cfg}

	var journal *os.File
	if withJournal {
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %q: %w", cfg.LogDir, err)
		}
		f, err := os.OpenFile(journalPath(cfg), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		journal = f
		inst.journal = f
	}

	logger := audit.NewLogger(audit.Opts{
		DenyList:     cfg.DenyList,
		Journal:      journal,
		WindowPrefix: cfg.WindowPrefix,
	})

	store, err := keyStore(cfg)
	if err != nil {
		inst.Close()
		return nil, err
	}
	km := keys.NewManager(store)

	backend, err := filesystem.NewBackend(cfg.ArchiveDir)
	if err != nil {
		inst.Close()
		return nil, err
	}

	klog.V(1).Infof("Connecting to manifest DB at %q", cfg.ManifestDB)
	db, err := sql.Open("sqlite3", cfg.ManifestDB)
	if err != nil {
		inst.Close()
		return nil, fmt.Errorf("failed to connect to manifest DB: %w", err)
	}
	// Avoid "database locked" issues with multiple concurrent updates.
	db.SetMaxOpenConns(1)
	inst.db = db
	var mStore manifest.Store = msql.NewStore(db)

	archiver := archive.New(archive.Opts{
		Backend:       backend,
		Manifest:      mStore,
		Prefix:        cfg.Prefix,
		Class:         storage.Class(cfg.StorageClass),
		RetentionLock: cfg.RetentionLock,
		MaxTries:      cfg.MaxUploadTries,
	})

	p, err := pipeline.New(ctx, pipeline.Opts{
		Logger:   logger,
		Keys:     km,
		Signer:   seal.NewSigner(km),
		Archiver: archiver,
		Manifest: mStore,
	})
	if err != nil {
		inst.Close()
		return nil, err
	}
	inst.pipeline = p

	ret := backend.Retention()
	klog.V(1).Infof("Storage retention: enforced=%t (%s)", ret.Enforced, ret.Description)
	return inst, nil
}
