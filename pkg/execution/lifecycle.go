package execution

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
)

// Start moves a pending execution to running and drives its step loop until
// the run completes, fails, pauses, or is cancelled. A running execution may
// be started again after recovery; the loop picks up from the persisted step
// index without re-emitting the started event.
func (m *Machine) Start(ctx context.Context, executionID string) error {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.start",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	lock := m.locks.get(executionID)
	lock.Lock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		lock.Unlock()

		return err
	}

	switch state.Status {
	case models.ExecutionStatusPending:
		now := time.Now().UTC()
		state.Status = models.ExecutionStatusRunning
		state.StartedAt = &now

		if err := m.persist(ctx, state); err != nil {
			lock.Unlock()
			otelhelper.SetError(span, err)

			return err
		}

		m.logger.InfoContext(ctx, "execution started",
			"execution_id", state.ID, "workflow_id", state.WorkflowID, "total_steps", state.TotalSteps)
		m.record(ctx, "execution.started", state, map[string]any{"total_steps": state.TotalSteps})
		m.publish(ctx, state.ProjectID, events.ExecutionStarted{
			BaseEvent:   m.baseEvent(events.ExecutionStartedEvent, state.ProjectID),
			ExecutionID: state.ID,
			WorkflowID:  state.WorkflowID,
			TotalSteps:  state.TotalSteps,
		})
	case models.ExecutionStatusRunning:
		// Re-entry after recovery; continue from the persisted index.
	default:
		lock.Unlock()

		return &InvalidTransitionError{ExecutionID: executionID, From: state.Status, Requested: "start"}
	}

	lock.Unlock()

	return m.runLoop(ctx, executionID)
}

// Pause suspends a running execution between steps. Pausing an already paused
// execution is a no-op so the approval gate and operators can race safely.
func (m *Machine) Pause(ctx context.Context, executionID, reason string) error {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.pause",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	lock := m.locks.get(executionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		return err
	}

	if state.Status == models.ExecutionStatusPaused {
		return nil
	}

	if state.Status != models.ExecutionStatusRunning {
		return &InvalidTransitionError{ExecutionID: executionID, From: state.Status, Requested: "pause"}
	}

	state.Status = models.ExecutionStatusPaused
	state.PausedReason = reason

	if err := m.persist(ctx, state); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	m.logger.InfoContext(ctx, "execution paused",
		"execution_id", executionID, "reason", reason, "step_index", state.CurrentStepIndex)
	m.record(ctx, "execution.paused", state, map[string]any{"reason": reason})
	m.publish(ctx, state.ProjectID, events.ExecutionPaused{
		BaseEvent:   m.baseEvent(events.ExecutionPausedEvent, state.ProjectID),
		ExecutionID: state.ID,
		Reason:      reason,
		StepIndex:   state.CurrentStepIndex,
	})

	return nil
}

// Resume moves a paused execution back to running and re-enters the step
// loop from the persisted step index.
func (m *Machine) Resume(ctx context.Context, executionID string) error {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.resume",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	lock := m.locks.get(executionID)
	lock.Lock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		lock.Unlock()

		return err
	}

	if state.Status != models.ExecutionStatusPaused {
		lock.Unlock()

		return &InvalidTransitionError{ExecutionID: executionID, From: state.Status, Requested: "resume"}
	}

	state.Status = models.ExecutionStatusRunning
	state.PausedReason = ""

	if err := m.persist(ctx, state); err != nil {
		lock.Unlock()
		otelhelper.SetError(span, err)

		return err
	}

	m.logger.InfoContext(ctx, "execution resumed",
		"execution_id", executionID, "step_index", state.CurrentStepIndex)
	m.record(ctx, "execution.resumed", state, map[string]any{"step_index": state.CurrentStepIndex})
	m.publish(ctx, state.ProjectID, events.ExecutionResumed{
		BaseEvent:   m.baseEvent(events.ExecutionResumedEvent, state.ProjectID),
		ExecutionID: state.ID,
		StepIndex:   state.CurrentStepIndex,
	})

	lock.Unlock()

	return m.runLoop(ctx, executionID)
}

// Cancel terminates any non-terminal execution. A step already handed to an
// agent is not interrupted; its result is discarded when it lands because the
// execution is no longer running.
func (m *Machine) Cancel(ctx context.Context, executionID, reason string) error {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.cancel",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	lock := m.locks.get(executionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		return err
	}

	if state.Status.IsTerminal() {
		return &InvalidTransitionError{ExecutionID: executionID, From: state.Status, Requested: "cancel"}
	}

	now := time.Now().UTC()
	state.Status = models.ExecutionStatusCancelled
	state.CancelledReason = reason
	state.CompletedAt = &now

	if err := m.persist(ctx, state); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	m.logger.InfoContext(ctx, "execution cancelled", "execution_id", executionID, "reason", reason)
	m.record(ctx, "execution.cancelled", state, map[string]any{"reason": reason})
	m.publish(ctx, state.ProjectID, events.ExecutionCancelled{
		BaseEvent:   m.baseEvent(events.ExecutionCancelledEvent, state.ProjectID),
		ExecutionID: state.ID,
		Reason:      reason,
	})

	return nil
}

// MergeContext folds amendment data into the execution context. Used when an
// approval response carries amendments that later steps should see.
func (m *Machine) MergeContext(ctx context.Context, executionID string, amendments map[string]any) error {
	if len(amendments) == 0 {
		return nil
	}

	lock := m.locks.get(executionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		return err
	}

	if state.Status.IsTerminal() {
		return &InvalidTransitionError{ExecutionID: executionID, From: state.Status, Requested: "merge context"}
	}

	if state.ContextData == nil {
		state.ContextData = make(map[string]any, len(amendments))
	}

	for k, v := range amendments {
		state.ContextData[k] = v
	}

	if err := m.persist(ctx, state); err != nil {
		return err
	}

	m.record(ctx, "execution.context.merged", state, map[string]any{"keys": len(amendments)})

	return nil
}

// runLoop advances steps until the execution leaves the running state or runs
// out of steps. The loop re-reads status on every iteration so a pause or
// cancel landing between steps takes effect before the next agent call.
func (m *Machine) runLoop(ctx context.Context, executionID string) error {
	state, err := m.load(ctx, executionID)
	if err != nil {
		return err
	}

	definition, err := m.workflows.GetWorkflow(ctx, state.WorkflowID)
	if err != nil {
		return &PersistenceError{Op: "load workflow", Err: err}
	}

	for {
		state, err = m.load(ctx, executionID)
		if err != nil {
			return err
		}

		if state.Status != models.ExecutionStatusRunning {
			return nil
		}

		if state.CurrentStepIndex >= state.TotalSteps {
			return m.complete(ctx, executionID)
		}

		var completed []models.StepState

		if definition.Parallel {
			indices := make([]int, 0, state.TotalSteps-state.CurrentStepIndex)
			for i := state.CurrentStepIndex; i < state.TotalSteps; i++ {
				indices = append(indices, i)
			}

			completed, err = m.AdvanceParallel(ctx, executionID, indices)
		} else {
			var step *models.StepState

			step, err = m.AdvanceStep(ctx, executionID, state.CurrentStepIndex)
			if step != nil {
				completed = []models.StepState{*step}
			}
		}

		if err != nil {
			return err
		}

		if err := m.observeSteps(ctx, executionID, completed); err != nil {
			return err
		}
	}
}

// observeSteps runs the oversight hook for freshly completed steps and pauses
// the execution when the hook asks for it. Hook errors are logged and do not
// fail the run.
func (m *Machine) observeSteps(ctx context.Context, executionID string, completed []models.StepState) error {
	if m.observer == nil || len(completed) == 0 {
		return nil
	}

	state, err := m.load(ctx, executionID)
	if err != nil {
		return err
	}

	for _, step := range completed {
		if step.Status != models.StepStatusCompleted {
			continue
		}

		pause, reason, err := m.observer.AfterStep(ctx, state, step)
		if err != nil {
			m.logger.WarnContext(ctx, "step observer failed",
				"execution_id", executionID, "step_index", step.StepIndex, "error", err)

			continue
		}

		if pause {
			return m.Pause(ctx, executionID, reason)
		}
	}

	return nil
}

// complete finalizes an execution whose steps are all done.
func (m *Machine) complete(ctx context.Context, executionID string) error {
	lock := m.locks.get(executionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		return err
	}

	if state.Status != models.ExecutionStatusRunning {
		return nil
	}

	now := time.Now().UTC()
	state.Status = models.ExecutionStatusCompleted
	state.CompletedAt = &now

	if err := m.persist(ctx, state); err != nil {
		return err
	}

	var duration time.Duration
	if state.StartedAt != nil {
		duration = now.Sub(*state.StartedAt)
	}

	m.logger.InfoContext(ctx, "execution completed",
		"execution_id", executionID, "completed_steps", state.CompletedSteps(), "duration", duration)
	m.record(ctx, "execution.completed", state, map[string]any{
		"completed_steps": state.CompletedSteps(),
		"duration_ms":     duration.Milliseconds(),
	})
	m.publish(ctx, state.ProjectID, events.ExecutionCompleted{
		BaseEvent:      m.baseEvent(events.ExecutionCompletedEvent, state.ProjectID),
		ExecutionID:    state.ID,
		WorkflowID:     state.WorkflowID,
		CompletedSteps: state.CompletedSteps(),
		Duration:       duration,
	})

	return nil
}
