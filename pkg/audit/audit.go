// Package audit provides the audit sink consumed by state-changing orchestration operations.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Category groups audit entries by the subsystem that produced them.
type Category string

const (
	CategoryExecution Category = "execution"
	CategoryHitl      Category = "hitl"
	CategoryPhase     Category = "phase"
	CategoryConflict  Category = "conflict"
)

// Entry is one structured audit record. Every state-changing operation emits
// exactly one entry per call.
type Entry struct {
	Category  Category       `json:"category"`
	Action    string         `json:"action"`
	ProjectID string         `json:"project_id,omitempty"`
	SubjectID string         `json:"subject_id"`
	Actor     string         `json:"actor,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives audit entries. Recording is best-effort: a sink failure must
// never fail the state transition that produced the entry, so Record returns
// nothing and implementations log their own errors.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// SlogSink writes one structured log line per audit entry.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Record(ctx context.Context, entry Entry) {
	s.logger.InfoContext(ctx, "audit",
		"category", string(entry.Category),
		"action", entry.Action,
		"project_id", entry.ProjectID,
		"subject_id", entry.SubjectID,
		"actor", entry.Actor,
		"detail", entry.Detail,
		"timestamp", entry.Timestamp,
	)
}

// MultiSink fans entries out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink writing to all given sinks in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Record(ctx context.Context, entry Entry) {
	for _, sink := range m.sinks {
		sink.Record(ctx, entry)
	}
}
