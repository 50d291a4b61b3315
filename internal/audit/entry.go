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

// Package audit provides the append-only audit log: sanitized entries
// collected into windows which are sealed into a fixed byte stream for
// signing and archival.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity classifies an audit entry.
type Severity string

// Severity levels for audit entries.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry is a single audit event. It is immutable once created; the payload
// has already been sanitized by the time an Entry exists.
type Entry struct {
	ID        string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
	Severity  Severity       `json:"severity"`
	Payload   map[string]any `json:"payload"`
	// Sanitized is set when redaction altered or replaced part of the
	// payload, so readers know the stored payload is not verbatim.
	Sanitized bool `json:"sanitized,omitempty"`
}

// MarshalLine returns the canonical single-line serialization of the entry.
// This is the exact byte form that contributes to a window's sealed content,
// so it must be deterministic: struct field order fixes the JSON key order,
// and the trailing newline is part of the line.
func (e Entry) MarshalLine() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry %q: %w", e.ID, err)
	}
	return append(b, '\n'), nil
}

// timestampFormat is the wire format for entry timestamps (UTC, RFC 3339).
const timestampFormat = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampFormat)
}
