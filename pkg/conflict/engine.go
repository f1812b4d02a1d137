// Package conflict implements detection and resolution of contradictory
// agent outputs.
package conflict

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasworks/convoy/pkg/audit"
	"github.com/atlasworks/convoy/pkg/eventbus"
	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// ErrConflictTerminal rejects operations on conflicts that already reached a
// terminal status. Status transitions are monotonic.
var ErrConflictTerminal = errors.New("conflict status is terminal")

// Engine detects contradictions among agent outputs and adjudicates them
// through resolution strategies.
type Engine struct {
	conflicts persistence.ConflictRepository
	artifacts persistence.ArtifactRepository
	tasks     persistence.TaskRepository
	publisher eventbus.EventPublisher
	sink      audit.Sink
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewEngine(
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	sink audit.Sink,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		conflicts: store.ConflictRepository(),
		artifacts: store.ArtifactRepository(),
		tasks:     store.TaskRepository(),
		publisher: publisher,
		sink:      sink,
		logger:    logger.With("module", "conflict"),
		tracer:    otelhelper.NoopTracer(),
	}
}

func (e *Engine) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

// Detect runs the independent detectors over the given artifacts and tasks.
// Every detected conflict is persisted and announced before the set is
// returned.
func (e *Engine) Detect(ctx context.Context, projectID, workflowID string, artifacts []*models.Artifact, tasks []*models.Task) ([]*models.Conflict, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "conflict.detect",
		attribute.String(otelhelper.ProjectIDKey, projectID),
		attribute.Int("convoy.artifact.count", len(artifacts)),
	)
	defer span.End()

	var detected []*models.Conflict

	detected = append(detected, detectOutputContradictions(artifacts)...)
	detected = append(detected, detectRequirementMismatches(artifacts)...)
	detected = append(detected, detectDesignInconsistencies(artifacts)...)
	detected = append(detected, detectImplementationViolations(artifacts)...)
	detected = append(detected, detectResourceContention(tasks)...)
	detected = append(detected, detectDependencyViolations(tasks, artifacts)...)

	now := time.Now().UTC()

	for _, conflict := range detected {
		conflict.ID = uuid.New().String()
		conflict.ProjectID = projectID
		conflict.WorkflowID = workflowID
		conflict.Status = models.ConflictDetected
		conflict.DetectedAt = now
		conflict.UpdatedAt = now

		if err := e.conflicts.SaveConflict(ctx, conflict); err != nil {
			otelhelper.SetError(span, err)

			return nil, err
		}

		e.logger.InfoContext(ctx, "conflict detected",
			"conflict_id", conflict.ID, "type", conflict.Type,
			"severity", conflict.Severity, "confidence", conflict.DetectionConfidence)
		e.record(ctx, "conflict.detected", conflict, map[string]any{
			"type":       string(conflict.Type),
			"severity":   string(conflict.Severity),
			"confidence": conflict.DetectionConfidence,
		})
		e.publish(ctx, projectID, events.ConflictDetected{
			BaseEvent:  e.baseEvent(events.ConflictDetectedEvent, projectID),
			ConflictID: conflict.ID,
			WorkflowID: workflowID,
			Kind:       conflict.Type,
			Severity:   conflict.Severity,
			Confidence: conflict.DetectionConfidence,
		})
	}

	return detected, nil
}

// BlockingConflicts returns the IDs of unresolved conflicts severe enough to
// hold up a phase transition.
func (e *Engine) BlockingConflicts(ctx context.Context, projectID string) ([]string, error) {
	conflicts, err := e.conflicts.ListConflictsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var blocking []string

	for _, conflict := range conflicts {
		if conflict.Status.IsTerminal() {
			continue
		}

		if conflict.Severity == models.SeverityHigh || conflict.Severity == models.SeverityCritical {
			blocking = append(blocking, conflict.ID)
		}
	}

	return blocking, nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) record(ctx context.Context, action string, conflict *models.Conflict, detail map[string]any) {
	if e.sink == nil {
		return
	}

	e.sink.Record(ctx, audit.Entry{
		Category:  audit.CategoryConflict,
		Action:    action,
		ProjectID: conflict.ProjectID,
		SubjectID: conflict.ID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) baseEvent(eventType events.EventType, projectID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ProjectID: projectID,
	}
}
