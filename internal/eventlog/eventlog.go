// Package eventlog appends invocation lifecycle records to an NDJSON file,
// one JSON object per line. The log is an operational audit trail: it tells
// you which invocations ran, how they ended, and what they cost.
package eventlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome labels how an invocation ended.
type Outcome string

const (
	OutcomeStarted     Outcome = "started"
	OutcomeCompleted   Outcome = "completed"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeStartFailed Outcome = "start_failed"
)

// Record is one invocation lifecycle entry.
type Record struct {
	Time      time.Time `json:"time"`
	Outcome   Outcome   `json:"outcome"`
	Token     string    `json:"token"`
	PID       int       `json:"pid,omitempty"`
	WorkDir   string    `json:"work_dir,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ExitCode  int       `json:"exit_code,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	CostUSD   float64   `json:"cost_usd,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Log writes records to an append-only NDJSON file.
type Log struct {
	file   *os.File
	logger *slog.Logger
	mu     sync.Mutex
}

// New opens (or creates) the event log at logPath.
func New(logPath string, logger *slog.Logger) (*Log, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Log{file: file, logger: logger}, nil
}

// Append writes one record as a single JSON line. Record time defaults to
// now when unset.
func (l *Log) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
