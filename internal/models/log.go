package models

import (
	"log/slog"
	"time"
)

// LogEntry is one log record captured during a build. Entries are
// append-only; old entries are removed by the retention policy.
type LogEntry struct {
	ID        string            `json:"id"`
	BuildID   int64             `json:"build_id"`
	JobID     string            `json:"job_id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     slog.Level        `json:"level"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`

	// ErrorTrace holds a formatted stack trace when the record was
	// emitted with an error attached.
	ErrorTrace string `json:"error_trace,omitempty"`
}
