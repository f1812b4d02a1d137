package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/audit"
	"github.com/atlasworks/convoy/pkg/eventbus"
	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
	"github.com/atlasworks/convoy/pkg/persistence"
)

// StepObserver is notified after each step completes successfully. Returning
// pause=true suspends the run before the next step; the reason is recorded on
// the execution. The approval gate implements this to inject human oversight
// without the machine depending on it.
type StepObserver interface {
	AfterStep(ctx context.Context, state *models.ExecutionState, step models.StepState) (pause bool, reason string, err error)
}

// Machine drives workflow executions through their lifecycle. All transitions
// for one execution serialize on a per-execution lock; the persisted version
// check guards against writers in other processes.
type Machine struct {
	executions persistence.ExecutionRepository
	workflows  persistence.WorkflowRepository
	tasks      persistence.TaskRepository
	artifacts  persistence.ArtifactRepository
	publisher  eventbus.EventPublisher
	sink       audit.Sink
	registry   *agent.Registry
	observer   StepObserver
	locks      *executionLocks
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewMachine(
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	sink audit.Sink,
	registry *agent.Registry,
	logger *slog.Logger,
) *Machine {
	return &Machine{
		executions: store.ExecutionRepository(),
		workflows:  store.WorkflowRepository(),
		tasks:      store.TaskRepository(),
		artifacts:  store.ArtifactRepository(),
		publisher:  publisher,
		sink:       sink,
		registry:   registry,
		locks:      newExecutionLocks(),
		logger:     logger.With("module", "execution"),
		tracer:     otelhelper.NoopTracer(),
	}
}

// SetStepObserver wires the oversight hook. Set once at startup, before any
// execution runs.
func (m *Machine) SetStepObserver(observer StepObserver) {
	m.observer = observer
}

func (m *Machine) SetTracer(tracer trace.Tracer) {
	m.tracer = tracer
}

// CreateRequest describes a new execution. ExecutionID is optional; a UUID is
// assigned when empty.
type CreateRequest struct {
	ExecutionID    string
	WorkflowID     string
	ProjectID      string
	InitialContext map[string]any
}

// Create instantiates an execution from a workflow definition. The step
// sequence is copied onto the execution so later definition edits cannot
// change a run in flight.
func (m *Machine) Create(ctx context.Context, req CreateRequest) (*models.ExecutionState, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.create",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.ProjectIDKey, req.ProjectID),
	)
	defer span.End()

	definition, err := m.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, err
		}

		return nil, &PersistenceError{Op: "load workflow", Err: err}
	}

	if len(definition.Steps) == 0 {
		return nil, &InvalidWorkflowError{WorkflowID: req.WorkflowID, Reason: "step sequence is empty"}
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.New().String()
	}

	now := time.Now().UTC()

	steps := make([]models.StepState, len(definition.Steps))
	for i, step := range definition.Steps {
		steps[i] = models.StepState{
			StepIndex:     i,
			AssignedAgent: step.AgentType,
			Status:        models.StepStatusPending,
		}
	}

	state := &models.ExecutionState{
		ID:               executionID,
		WorkflowID:       req.WorkflowID,
		ProjectID:        req.ProjectID,
		Status:           models.ExecutionStatusPending,
		CurrentStepIndex: 0,
		TotalSteps:       len(steps),
		Steps:            steps,
		ContextData:      cloneContext(req.InitialContext),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.executions.SaveExecution(ctx, state.Clone()); err != nil {
		if errors.Is(err, persistence.ErrExecutionAlreadyExists) {
			return nil, err
		}

		otelhelper.SetError(span, err)

		return nil, &PersistenceError{Op: "save execution", Err: err}
	}

	m.logger.InfoContext(ctx, "execution created",
		"execution_id", state.ID, "workflow_id", state.WorkflowID, "total_steps", state.TotalSteps)
	m.record(ctx, "execution.created", state, map[string]any{
		"workflow_id": state.WorkflowID,
		"total_steps": state.TotalSteps,
	})

	return state.Clone(), nil
}

// Status returns a read-only progress projection. Never mutates state.
func (m *Machine) Status(ctx context.Context, executionID string) (*models.ExecutionSummary, error) {
	state, err := m.load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	return &models.ExecutionSummary{
		ID:               state.ID,
		WorkflowID:       state.WorkflowID,
		ProjectID:        state.ProjectID,
		Status:           state.Status,
		CurrentStepIndex: state.CurrentStepIndex,
		TotalSteps:       state.TotalSteps,
		CompletedSteps:   state.CompletedSteps(),
		ProgressPercent:  state.Progress(),
		Terminal:         state.Status.IsTerminal(),
		ErrorMessage:     state.ErrorMessage,
		FailedAtStep:     state.FailedAtStep,
		PausedReason:     state.PausedReason,
	}, nil
}

// Recover validates a persisted snapshot against its workflow definition
// after a restart. A valid execution gets its recovery counter bumped and is
// returned as-is; the caller decides whether to resume. Corruption is fatal
// and leaves the record untouched.
func (m *Machine) Recover(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.recover",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	lock := m.locks.get(executionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	definition, err := m.workflows.GetWorkflow(ctx, state.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, &StateCorruptionError{
				ExecutionID: executionID,
				StepIndex:   -1,
				Detail:      fmt.Sprintf("workflow definition %s no longer exists", state.WorkflowID),
			}
		}

		return nil, &PersistenceError{Op: "load workflow", Err: err}
	}

	if err := validateSnapshot(state, definition); err != nil {
		otelhelper.SetError(span, err)
		m.logger.ErrorContext(ctx, "recovery found corrupted execution state",
			"execution_id", executionID, "error", err)

		return nil, err
	}

	state.RecoveryAttempts++

	if err := m.persist(ctx, state); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "execution recovered",
		"execution_id", executionID, "status", state.Status, "recovery_attempts", state.RecoveryAttempts)
	m.record(ctx, "execution.recovered", state, map[string]any{
		"status":            string(state.Status),
		"recovery_attempts": state.RecoveryAttempts,
	})

	return state.Clone(), nil
}

func validateSnapshot(state *models.ExecutionState, definition *models.WorkflowDefinition) error {
	if state.TotalSteps != len(definition.Steps) || len(state.Steps) != len(definition.Steps) {
		return &StateCorruptionError{
			ExecutionID: state.ID,
			StepIndex:   -1,
			Detail: fmt.Sprintf("snapshot has %d steps, definition has %d",
				len(state.Steps), len(definition.Steps)),
		}
	}

	if state.CurrentStepIndex < 0 || state.CurrentStepIndex > state.TotalSteps {
		return &StateCorruptionError{
			ExecutionID: state.ID,
			StepIndex:   state.CurrentStepIndex,
			Detail:      "current step index out of range",
		}
	}

	for i, step := range state.Steps {
		if step.AssignedAgent != definition.Steps[i].AgentType {
			return &StateCorruptionError{
				ExecutionID: state.ID,
				StepIndex:   i,
				Detail: fmt.Sprintf("step assigned to %q, definition expects %q",
					step.AssignedAgent, definition.Steps[i].AgentType),
			}
		}
	}

	return nil
}

// load fetches a snapshot, translating store failures into the local error
// taxonomy. Not-found passes through untouched so callers can match the
// sentinel.
func (m *Machine) load(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	state, err := m.executions.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return nil, err
		}

		return nil, &PersistenceError{Op: "load execution", Err: err}
	}

	return state, nil
}

// persist bumps the version and writes a snapshot clone. Failure means the
// operation did not happen; callers abort without treating in-memory changes
// as applied.
func (m *Machine) persist(ctx context.Context, state *models.ExecutionState) error {
	state.Version++
	state.UpdatedAt = time.Now().UTC()

	if err := m.executions.SaveExecution(ctx, state.Clone()); err != nil {
		state.Version--

		return &PersistenceError{Op: "save execution", Err: err}
	}

	return nil
}

// publish sends a lifecycle event, best-effort. Broadcast failure never fails
// the state transition that triggered it.
func (m *Machine) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(ctx, key, event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

// record emits one audit entry, best-effort.
func (m *Machine) record(ctx context.Context, action string, state *models.ExecutionState, detail map[string]any) {
	if m.sink == nil {
		return
	}

	m.sink.Record(ctx, audit.Entry{
		Category:  audit.CategoryExecution,
		Action:    action,
		ProjectID: state.ProjectID,
		SubjectID: state.ID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Machine) baseEvent(eventType events.EventType, projectID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ProjectID: projectID,
	}
}

func cloneContext(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}
