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
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

var (
	// ErrWindowSealed is returned for appends attempted against a window
	// that is no longer open.
	ErrWindowSealed = errors.New("window is sealed")
	// ErrWrite is returned when an append could not be durably recorded.
	// Callers must not assume a partially recorded entry is visible.
	ErrWrite = errors.New("append not durably recorded")
	// ErrUnknownWindow is returned when no window exists for the given id.
	ErrUnknownWindow = errors.New("unknown window")
)

// State is the lifecycle state of a window. Transitions only move forward;
// a window that reaches StateArchived is terminal.
type State int

// Window lifecycle states.
const (
	StateOpen State = iota
	StateSealed
	StateSigned
	StateArchived
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateSealed:
		return "SEALED"
	case StateSigned:
		return "SIGNED"
	case StateArchived:
		return "ARCHIVED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Window is an ordered, append-only batch of entries treated as one signing
// unit. Appends go through the owning Logger; once sealed the window's byte
// content is frozen and never changes.
type Window struct {
	id       string
	openedAt time.Time

	mu       sync.Mutex
	state    State
	entries  []Entry
	frozen   []byte
	sealedAt time.Time
}

// ID returns the window identifier.
func (w *Window) ID() string { return w.id }

// State returns the current lifecycle state.
func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// EntryCount returns the number of entries appended so far.
func (w *Window) EntryCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// SealedAt returns the seal time, or the zero time if the window is open.
func (w *Window) SealedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sealedAt
}

// Bytes returns the frozen serialized content of a sealed window. These are
// the exact bytes that get digested, signed and archived.
func (w *Window) Bytes() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateOpen {
		return nil, fmt.Errorf("window %q: %w: cannot read bytes of an open window", w.id, ErrWindowSealed)
	}
	return w.frozen, nil
}

// Lines returns the frozen content split into entry lines, one per entry.
func (w *Window) Lines() ([][]byte, error) {
	b, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	lines := bytes.Split(bytes.TrimSuffix(b, []byte("\n")), []byte("\n"))
	return lines, nil
}

// Advance moves the window forward to the given state. Backward transitions
// and skipped states are rejected.
func (w *Window) Advance(next State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if next != w.state+1 || next > StateArchived {
		return fmt.Errorf("window %q: invalid transition %v -> %v", w.id, w.state, next)
	}
	w.state = next
	return nil
}

// Opts holds the collaborators and settings for a Logger.
type Opts struct {
	// DenyList overrides the default sensitive-key deny-list.
	DenyList []string
	// Journal, if set, receives every entry line as it is appended. A
	// journal write failure fails the append with ErrWrite.
	Journal io.Writer
	// WindowPrefix is the prefix for date-derived window ids.
	// Defaults to "api_log".
	WindowPrefix string
	// Now is the time source, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Logger accepts structured events, sanitizes them and appends them to the
// single currently open window. It is safe for concurrent use: appends take
// a total order under one mutex, and Seal acts as a barrier under the same
// mutex, so no append started before a seal can land after it.
type Logger struct {
	sanitizer *Sanitizer
	journal   io.Writer
	prefix    string
	now       func() time.Time

	mu      sync.Mutex
	current *Window
	windows map[string]*Window
}

// NewLogger creates a Logger with one open window.
func NewLogger(opts Opts) *Logger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WindowPrefix == "" {
		opts.WindowPrefix = "api_log"
	}
	l := &Logger{
		sanitizer: NewSanitizer(opts.DenyList),
		journal:   opts.Journal,
		prefix:    opts.WindowPrefix,
		now:       opts.Now,
		windows:   make(map[string]*Window),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openLocked()
	return l
}

// openLocked opens the next window. Window ids derive from the UTC day, with
// a numeric suffix when a day produces more than one window.
func (l *Logger) openLocked() {
	t := l.now()
	base := fmt.Sprintf("%s_%s", l.prefix, t.UTC().Format("2006-01-02"))
	id := base
	for n := 2; ; n++ {
		if _, taken := l.windows[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
	w := &Window{id: id, openedAt: t}
	l.windows[id] = w
	l.current = w
	klog.V(1).Infof("Opened window %q", id)
}

// CurrentWindowID returns the id of the open window.
func (l *Logger) CurrentWindowID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.id
}

// Window returns the window with the given id.
func (l *Logger) Window(id string) (*Window, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWindow, id)
	}
	return w, nil
}

// LogEvent sanitizes payload, constructs an entry and appends it to the open
// window, returning the new entry's id. Sanitization is best-effort and never
// fails the event; a journal write failure does, with ErrWrite.
func (l *Logger) LogEvent(source string, payload map[string]any) (string, error) {
	return l.LogEventSeverity(source, payload, SeverityInfo)
}

// LogEventSeverity is LogEvent with an explicit severity.
func (l *Logger) LogEventSeverity(source string, payload map[string]any, sev Severity) (string, error) {
	sanitized, changed := l.sanitizer.Sanitize(payload)
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: formatTimestamp(l.now()),
		Source:    source,
		Severity:  sev,
		Payload:   sanitized,
		Sanitized: changed,
	}
	line, err := e.MarshalLine()
	if err != nil {
		// Sanitize guarantees encodable payloads, so this indicates a
		// bug rather than bad input.
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateOpen {
		return "", fmt.Errorf("window %q: %w", w.id, ErrWindowSealed)
	}
	if l.journal != nil {
		if _, err := l.journal.Write(line); err != nil {
			return "", fmt.Errorf("%w: journal: %v", ErrWrite, err)
		}
	}
	w.entries = append(w.entries, e)
	w.frozen = append(w.frozen, line...)
	return e.ID, nil
}

// Restore installs a window already sealed with the given serialized
// content, e.g. replayed from a journal written by an earlier process. If a
// window with that id is currently open and empty it is replaced; a window
// that already holds entries cannot be restored over.
func (l *Logger) Restore(id string, raw []byte) (*Window, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	frozen := append([]byte(nil), raw...)
	if w, ok := l.windows[id]; ok {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.state != StateOpen || len(w.entries) > 0 {
			return nil, fmt.Errorf("window %q already active, cannot restore", id)
		}
		w.state = StateSealed
		w.sealedAt = l.now()
		w.frozen = frozen
		if l.current == w {
			l.openLocked()
		}
		klog.Infof("Restored sealed window %q (%d bytes)", id, len(frozen))
		return w, nil
	}

	w := &Window{
		id:       id,
		openedAt: l.now(),
		state:    StateSealed,
		sealedAt: l.now(),
		frozen:   frozen,
	}
	l.windows[id] = w
	klog.Infof("Restored sealed window %q (%d bytes)", id, len(frozen))
	return w, nil
}

// Seal transitions the current window to SEALED and opens the next one,
// returning the sealed window. Seal completes only after every in-flight
// append has been applied; appends attempted afterwards against the sealed
// window are rejected with ErrWindowSealed rather than spilling into the
// next window.
func (l *Logger) Seal() (*Window, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current
	w.mu.Lock()
	w.state = StateSealed
	w.sealedAt = l.now()
	n := len(w.entries)
	w.mu.Unlock()

	l.openLocked()
	klog.Infof("Sealed window %q with %d entries (%d bytes)", w.id, n, len(w.frozen))
	return w, nil
}
