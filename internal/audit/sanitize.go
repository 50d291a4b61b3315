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

package audit

import (
	"encoding/json"
	"math"
	"strings"
)

// Redacted replaces the value of any payload field whose key matches the
// deny-list.
const Redacted = "[REDACTED]"

// Unencodable replaces payload values that cannot be represented in the
// canonical JSON serialization. The entry is kept; audit completeness wins
// over payload fidelity.
const Unencodable = "[UNENCODABLE]"

// DefaultDenyList is the set of key substrings treated as sensitive.
// Matching is case-insensitive.
var DefaultDenyList = []string{
	"password",
	"token",
	"secret",
	"key",
	"authorization",
	"credit_card",
	"ssn",
	"social_security",
}

// Sanitizer redacts sensitive fields from event payloads before they are
// turned into entries. Sanitization never fails: anything it cannot encode
// is replaced rather than dropped.
type Sanitizer struct {
	denyList []string
}

// NewSanitizer returns a Sanitizer using the given deny-list of key
// substrings, or DefaultDenyList if none are given.
func NewSanitizer(denyList []string) *Sanitizer {
	if len(denyList) == 0 {
		denyList = DefaultDenyList
	}
	lowered := make([]string, len(denyList))
	for i, d := range denyList {
		lowered[i] = strings.ToLower(d)
	}
	return &Sanitizer{denyList: lowered}
}

// Sanitize returns a copy of payload with sensitive and unencodable values
// replaced, and reports whether anything was altered. The input is never
// modified.
func (s *Sanitizer) Sanitize(payload map[string]any) (map[string]any, bool) {
	if payload == nil {
		return map[string]any{}, false
	}
	v, changed := s.sanitizeMap(payload)
	return v, changed
}

func (s *Sanitizer) sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, d := range s.denyList {
		if strings.Contains(k, d) {
			return true
		}
	}
	return false
}

func (s *Sanitizer) sanitizeMap(m map[string]any) (map[string]any, bool) {
	out := make(map[string]any, len(m))
	changed := false
	for k, v := range m {
		if s.sensitive(k) {
			out[k] = Redacted
			changed = true
			continue
		}
		sv, c := s.sanitizeValue(v)
		out[k] = sv
		changed = changed || c
	}
	return out, changed
}

func (s *Sanitizer) sanitizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return s.sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		changed := false
		for i, e := range t {
			se, c := s.sanitizeValue(e)
			out[i] = se
			changed = changed || c
		}
		return out, changed
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Unencodable, true
		}
		return t, false
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Unencodable, true
		}
		return t, false
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, false
	default:
		// Anything else must survive the canonical JSON serialization;
		// if it can't, flag it instead of failing the whole event.
		if _, err := json.Marshal(t); err != nil {
			return Unencodable, true
		}
		return t, false
	}
}
