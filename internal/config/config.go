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

// Package config describes the pipeline's filesystem layout and archival
// settings. Values come from an optional YAML file with environment
// variable overrides on top.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the settings for one pipeline instance.
type Config struct {
	// LogDir holds the append journal for open windows.
	LogDir string `yaml:"log_dir" env:"AUDIT_LOG_DIR"`
	// KeysDir is the protected directory holding the PEM keypair.
	KeysDir string `yaml:"keys_dir" env:"AUDIT_KEYS_DIR"`
	// ArchiveDir is the root of the filesystem storage backend.
	ArchiveDir string `yaml:"archive_dir" env:"AUDIT_ARCHIVE_DIR"`
	// ManifestDB is the sqlite3 file holding the manifest.
	ManifestDB string `yaml:"manifest_db" env:"AUDIT_MANIFEST_DB"`

	// Prefix is prepended to every archived object key.
	Prefix string `yaml:"prefix" env:"AUDIT_PREFIX"`
	// StorageClass is the storage tier requested for archived objects.
	StorageClass string `yaml:"storage_class" env:"AUDIT_STORAGE_CLASS"`
	// RetentionLock requests write-once protection for archived objects.
	RetentionLock bool `yaml:"retention_lock" env:"AUDIT_RETENTION_LOCK"`
	// MaxUploadTries bounds upload retries per object.
	MaxUploadTries uint `yaml:"max_upload_tries" env:"AUDIT_MAX_UPLOAD_TRIES"`

	// WindowPrefix names date-derived windows, e.g. "api_log".
	WindowPrefix string `yaml:"window_prefix" env:"AUDIT_WINDOW_PREFIX"`
	// DenyList overrides the sensitive-key deny-list.
	DenyList []string `yaml:"deny_list" env:"AUDIT_DENY_LIST" envSeparator:","`

	// SigningKeySecret, if set, names a GCP Secret Manager secret version
	// holding the private key; the local key directory then only needs
	// the public half.
	SigningKeySecret string `yaml:"signing_key_secret" env:"AUDIT_SIGNING_KEY_SECRET"`

	// ListenAddr is the status server address.
	ListenAddr string `yaml:"listen" env:"AUDIT_LISTEN"`
	// MetricsAddr is the prometheus listener, empty to disable.
	MetricsAddr string `yaml:"metrics_listen" env:"AUDIT_METRICS_LISTEN"`
}

// Default returns the configuration used when no file or environment
// overrides are present. The directory layout mirrors the classic
// logs/keys/archive split.
func Default() Config {
	return Config{
		LogDir:         "logs",
		KeysDir:        "keys",
		ArchiveDir:     "archive",
		ManifestDB:     "manifest.db",
		Prefix:         "audit-logs/",
		StorageClass:   "ARCHIVE",
		RetentionLock:  true,
		MaxUploadTries: 3,
		WindowPrefix:   "api_log",
		ListenAddr:     ":8080",
		MetricsAddr:    ":8081",
	}
}

// Load builds a Config from defaults, then the YAML file at path (if path
// is non-empty), then environment variables.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config %q: %w", path, err)
		}
	}
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return c, nil
}
