// Package audit records provisioning events for later review. Emitters must
// never block or fail a run; callers log emit errors and move on.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// EventEmitter accepts structured audit events for recording.
type EventEmitter interface {
	Emit(Event) error
}

// NopEmitter discards all events. Use when no audit backend is configured.
type NopEmitter struct{}

// Emit discards the event.
func (NopEmitter) Emit(Event) error { return nil }

// FileEmitter appends events as NDJSON lines to a local file.
type FileEmitter struct {
	mu   sync.Mutex
	path string
}

// NewFileEmitter creates an emitter writing to path, creating parent
// directories as needed.
func NewFileEmitter(path string) (*FileEmitter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	return &FileEmitter{path: path}, nil
}

// Emit appends one event. The file is opened per write so external rotation
// is safe.
func (e *FileEmitter) Emit(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// RunEmitter fans events out to one or more backends. Emit errors are logged,
// never propagated; audit failures must not abort provisioning.
type RunEmitter struct {
	backends []EventEmitter
	logger   *slog.Logger
}

// NewRunEmitter creates an emitter that forwards events to the given backends.
// If logger is nil, slog.Default() is used for error reporting.
func NewRunEmitter(logger *slog.Logger, backends ...EventEmitter) *RunEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunEmitter{backends: backends, logger: logger}
}

// Record writes the event to all backends.
func (e *RunEmitter) Record(ev Event) {
	for _, b := range e.backends {
		if err := b.Emit(ev); err != nil {
			e.logger.Error("audit emit failed", "event", string(ev.Type), "error", err)
		}
	}
}
