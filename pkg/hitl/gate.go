package hitl

import (
	"context"
	"errors"
	"fmt"
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

// DefaultApprovalWindow is how long a request waits for a human before the
// expiry policy kicks in.
const DefaultApprovalWindow = 24 * time.Hour

// ExecutionController is the narrow execution-machine surface the gate
// drives. The machine implements it; the gate never imports the machine.
type ExecutionController interface {
	Pause(ctx context.Context, executionID, reason string) error
	Resume(ctx context.Context, executionID string) error
	Cancel(ctx context.Context, executionID, reason string) error
	MergeContext(ctx context.Context, executionID string, amendments map[string]any) error
}

// Gate evaluates oversight triggers, owns the approval-request lifecycle,
// and drives pause/resume of executions through the controller.
type Gate struct {
	requests   persistence.HitlRepository
	tasks      persistence.TaskRepository
	projects   persistence.ProjectRepository
	publisher  eventbus.EventPublisher
	sink       audit.Sink
	controller ExecutionController
	window     time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewGate(
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	sink audit.Sink,
	controller ExecutionController,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		requests:   store.HitlRepository(),
		tasks:      store.TaskRepository(),
		projects:   store.ProjectRepository(),
		publisher:  publisher,
		sink:       sink,
		controller: controller,
		window:     DefaultApprovalWindow,
		logger:     logger.With("module", "hitl"),
		tracer:     otelhelper.NoopTracer(),
	}
}

func (g *Gate) SetApprovalWindow(window time.Duration) {
	g.window = window
}

func (g *Gate) SetTracer(tracer trace.Tracer) {
	g.tracer = tracer
}

// CheckTriggers evaluates the oversight predicates against a signal. When
// one fires it persists a pending request, pauses the linked execution, and
// returns the request; otherwise it returns nil with no side effect.
func (g *Gate) CheckTriggers(ctx context.Context, projectID string, signal Signal) (*models.HitlRequest, error) {
	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "hitl.check_triggers",
		attribute.String(otelhelper.ProjectIDKey, projectID),
	)
	defer span.End()

	request, err := g.fire(ctx, projectID, signal)
	if err != nil || request == nil {
		return nil, err
	}

	if request.ExecutionID != "" {
		reason := fmt.Sprintf("awaiting approval: %s", request.Trigger)
		if err := g.controller.Pause(ctx, request.ExecutionID, reason); err != nil {
			g.logger.ErrorContext(ctx, "failed to pause execution for approval",
				"execution_id", request.ExecutionID, "request_id", request.ID, "error", err)
		}
	}

	return request, nil
}

// AfterStep is the post-step oversight hook. It creates the approval request
// itself but leaves the pause to the execution machine, which owns the step
// loop it is called from.
func (g *Gate) AfterStep(ctx context.Context, state *models.ExecutionState, step models.StepState) (bool, string, error) {
	request, err := g.fire(ctx, state.ProjectID, signalFromStep(state, step))
	if err != nil {
		return false, "", err
	}

	if request == nil {
		return false, "", nil
	}

	return true, fmt.Sprintf("awaiting approval: %s", request.Trigger), nil
}

// fire runs the predicates and, when one fires, creates and persists the
// pending request and emits the created event.
func (g *Gate) fire(ctx context.Context, projectID string, signal Signal) (*models.HitlRequest, error) {
	level, err := g.OversightLevel(ctx, projectID)
	if err != nil {
		return nil, err
	}

	trigger := evaluate(level, signal)
	if trigger == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	request := &models.HitlRequest{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		TaskID:      signal.TaskID,
		ExecutionID: signal.ExecutionID,
		Trigger:     trigger.kind,
		Question:    trigger.question,
		Options:     []string{"approve", "reject", "amend"},
		Status:      models.HitlStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.window),
	}

	if err := g.requests.SaveRequest(ctx, request); err != nil {
		return nil, &GateError{Op: "create", RequestID: request.ID, Err: err}
	}

	g.logger.InfoContext(ctx, "approval request created",
		"request_id", request.ID, "project_id", projectID,
		"trigger", request.Trigger, "oversight_level", level)
	g.record(ctx, "hitl.request.created", request, "", map[string]any{
		"trigger":         string(request.Trigger),
		"oversight_level": string(level),
	})
	g.publish(ctx, projectID, events.HitlRequestCreated{
		BaseEvent:   g.baseEvent(events.HitlRequestCreatedEvent, projectID),
		RequestID:   request.ID,
		ExecutionID: request.ExecutionID,
		Trigger:     request.Trigger,
		Question:    request.Question,
		ExpiresAt:   request.ExpiresAt,
	})

	return request, nil
}

// signalFromStep extracts trigger observations from a completed step result.
func signalFromStep(state *models.ExecutionState, step models.StepState) Signal {
	signal := Signal{
		ExecutionID: state.ID,
		TaskID:      step.TaskID,
		AgentType:   step.AssignedAgent,
	}

	if score, ok := step.Result["confidence_score"].(float64); ok {
		signal.ConfidenceScore = &score
	}

	switch count := step.Result["error_count"].(type) {
	case int:
		signal.ErrorCount = count
	case float64:
		signal.ErrorCount = int(count)
	}

	if lastError, ok := step.Result["last_error"].(string); ok {
		signal.LastError = lastError
	}

	return signal
}

// SetOversightLevel updates the project's oversight sensitivity.
func (g *Gate) SetOversightLevel(ctx context.Context, projectID string, level models.OversightLevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOversightLevel, level)
	}

	project, err := g.projects.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	project.OversightLevel = level
	project.UpdatedAt = time.Now().UTC()

	if err := g.projects.SaveProject(ctx, project); err != nil {
		return err
	}

	g.logger.InfoContext(ctx, "oversight level updated", "project_id", projectID, "level", level)
	g.sink.Record(ctx, audit.Entry{
		Category:  audit.CategoryHitl,
		Action:    "hitl.oversight_level.set",
		ProjectID: projectID,
		SubjectID: projectID,
		Detail:    map[string]any{"level": string(level)},
		Timestamp: time.Now().UTC(),
	})

	return nil
}

// OversightLevel returns the project's oversight level, defaulting to medium
// when the project record is missing or carries no level.
func (g *Gate) OversightLevel(ctx context.Context, projectID string) (models.OversightLevel, error) {
	project, err := g.projects.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, persistence.ErrProjectNotFound) {
			return models.OversightMedium, nil
		}

		return "", err
	}

	if !project.OversightLevel.Valid() {
		return models.OversightMedium, nil
	}

	return project.OversightLevel, nil
}

func (g *Gate) publish(ctx context.Context, key string, event eventbus.Event) {
	if g.publisher == nil {
		return
	}

	if err := g.publisher.Publish(ctx, key, event); err != nil {
		g.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (g *Gate) record(ctx context.Context, action string, request *models.HitlRequest, actor string, detail map[string]any) {
	if g.sink == nil {
		return
	}

	g.sink.Record(ctx, audit.Entry{
		Category:  audit.CategoryHitl,
		Action:    action,
		ProjectID: request.ProjectID,
		SubjectID: request.ID,
		Actor:     actor,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (g *Gate) baseEvent(eventType events.EventType, projectID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ProjectID: projectID,
	}
}
