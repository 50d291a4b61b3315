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

// Package sql provides a manifest store backed by a SQL database.
package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/audittrail-dev/audittrail/internal/manifest"
	"k8s.io/klog/v2"
)

// NewStore returns a manifest store backed by the given database.
func NewStore(db *sql.DB) manifest.Store {
	return &sqlStore{
		db: db,
	}
}

type sqlStore struct {
	db *sql.DB
}

func (s *sqlStore) Init(_ context.Context) error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS manifest (
		windowID TEXT PRIMARY KEY,
		entry BLOB
		)`)
	return err
}

func (s *sqlStore) Windows(_ context.Context) ([]string, error) {
	rows, err := s.db.Query("SELECT windowID FROM manifest")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			klog.Errorf("Failed to close rows: %v", err)
		}
	}()

	var windows []string
	for rows.Next() {
		var windowID string
		if err := rows.Scan(&windowID); err != nil {
			return nil, err
		}
		windows = append(windows, windowID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

func (s *sqlStore) Get(_ context.Context, windowID string) (*manifest.Entry, error) {
	raw, err := getEntry(s.db.QueryRow, windowID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return manifest.Unmarshal(raw)
}

func (s *sqlStore) Update(_ context.Context, windowID string, f manifest.UpdateFn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	raw, err := getEntry(tx.QueryRow, windowID)
	if err != nil {
		return err
	}
	var current *manifest.Entry
	if raw != nil {
		if current, err = manifest.Unmarshal(raw); err != nil {
			return err
		}
	}

	next, err := f(current)
	if err != nil {
		return err
	}
	updated, err := next.Marshal()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO manifest (windowID, entry) VALUES (?, ?)`, windowID, updated); err != nil {
		return fmt.Errorf("Exec(): %v", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	tx = nil
	return nil
}

func getEntry(queryRow func(query string, args ...interface{}) *sql.Row, windowID string) ([]byte, error) {
	row := queryRow("SELECT entry FROM manifest WHERE windowID = ?", windowID)
	if err := row.Err(); err != nil {
		return nil, err
	}
	var entry []byte
	if err := row.Scan(&entry); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}
