package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/otelhelper"
)

// stepOutcome captures the result of one agent invocation, success or not,
// so parallel gathers can apply every index independently.
type stepOutcome struct {
	stepIndex  int
	taskID     string
	result     *agent.Result
	err        error
	durationMs int64
}

func (o stepOutcome) failed() bool {
	return o.err != nil || o.result == nil || !o.result.Success
}

func (o stepOutcome) failureReason() string {
	if o.err != nil {
		return o.err.Error()
	}

	if o.result != nil && o.result.Error != "" {
		return o.result.Error
	}

	return "agent reported failure"
}

// AdvanceStep executes the step at the given index and applies its result.
// Only the current index may advance; an agent failure marks the step and the
// execution failed with no retry. The agent runs outside the execution lock
// so pause and cancel stay responsive; a result landing after the execution
// left the running state is discarded.
func (m *Machine) AdvanceStep(ctx context.Context, executionID string, stepIndex int) (*models.StepState, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.advance_step",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.Int(otelhelper.StepIndexKey, stepIndex),
	)
	defer span.End()

	lock := m.locks.get(executionID)
	lock.Lock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		lock.Unlock()

		return nil, err
	}

	if err := m.validateAdvance(state, []int{stepIndex}, true); err != nil {
		lock.Unlock()

		return nil, err
	}

	artifacts, err := m.loadArtifacts(ctx, state)
	if err != nil {
		lock.Unlock()

		return nil, err
	}

	state.Steps[stepIndex].Status = models.StepStatusRunning

	if err := m.persist(ctx, state); err != nil {
		lock.Unlock()
		otelhelper.SetError(span, err)

		return nil, err
	}

	snapshot := state.Clone()
	lock.Unlock()

	outcome := m.executeOne(ctx, snapshot, stepIndex, artifacts)

	lock.Lock()
	defer lock.Unlock()

	state, err = m.load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if state.Status != models.ExecutionStatusRunning {
		m.discardOutcomes(ctx, state, []stepOutcome{outcome})

		return nil, nil
	}

	if err := m.applyOutcomes(ctx, state, []stepOutcome{outcome}); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	step := state.Steps[stepIndex]

	if outcome.failed() {
		return &step, &ExecutionError{
			ExecutionID: executionID,
			StepIndex:   stepIndex,
			AgentType:   step.AssignedAgent,
			Reason:      outcome.failureReason(),
		}
	}

	return &step, nil
}

// AdvanceParallel executes several pending steps concurrently and applies all
// results in one write. Each index succeeds or fails on its own; every result
// is recorded before the step index advances, and any failure fails the
// execution at the lowest failed index.
func (m *Machine) AdvanceParallel(ctx context.Context, executionID string, stepIndices []int) ([]models.StepState, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "execution.advance_parallel",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.Int("convoy.step.count", len(stepIndices)),
	)
	defer span.End()

	if len(stepIndices) == 0 {
		return nil, fmt.Errorf("execution %s: no step indices to advance", executionID)
	}

	lock := m.locks.get(executionID)
	lock.Lock()

	state, err := m.load(ctx, executionID)
	if err != nil {
		lock.Unlock()

		return nil, err
	}

	if err := m.validateAdvance(state, stepIndices, false); err != nil {
		lock.Unlock()

		return nil, err
	}

	artifacts, err := m.loadArtifacts(ctx, state)
	if err != nil {
		lock.Unlock()

		return nil, err
	}

	for _, index := range stepIndices {
		state.Steps[index].Status = models.StepStatusRunning
	}

	if err := m.persist(ctx, state); err != nil {
		lock.Unlock()
		otelhelper.SetError(span, err)

		return nil, err
	}

	snapshot := state.Clone()
	lock.Unlock()

	outcomes := make([]stepOutcome, len(stepIndices))

	var wg sync.WaitGroup

	for i, index := range stepIndices {
		wg.Add(1)

		go func(slot, stepIndex int) {
			defer wg.Done()

			outcomes[slot] = m.executeOne(ctx, snapshot, stepIndex, artifacts)
		}(i, index)
	}

	wg.Wait()

	lock.Lock()
	defer lock.Unlock()

	state, err = m.load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if state.Status != models.ExecutionStatusRunning {
		m.discardOutcomes(ctx, state, outcomes)

		return nil, nil
	}

	if err := m.applyOutcomes(ctx, state, outcomes); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	completed := make([]models.StepState, 0, len(stepIndices))
	for _, index := range stepIndices {
		completed = append(completed, state.Steps[index])
	}

	if state.FailedAtStep != nil {
		failedIndex := *state.FailedAtStep

		return completed, &ExecutionError{
			ExecutionID: executionID,
			StepIndex:   failedIndex,
			AgentType:   state.Steps[failedIndex].AssignedAgent,
			Reason:      state.Steps[failedIndex].ErrorMessage,
		}
	}

	return completed, nil
}

// validateAdvance checks that every requested index is advanceable. For
// sequential advancement the single index must be the current one.
func (m *Machine) validateAdvance(state *models.ExecutionState, stepIndices []int, sequential bool) error {
	if state.Status != models.ExecutionStatusRunning {
		return &InvalidTransitionError{
			ExecutionID: state.ID,
			From:        state.Status,
			Requested:   "advance step",
		}
	}

	for _, index := range stepIndices {
		if index < 0 || index >= state.TotalSteps {
			return fmt.Errorf("execution %s: step index %d out of range (total %d)", state.ID, index, state.TotalSteps)
		}

		if sequential && index != state.CurrentStepIndex {
			return &InvalidTransitionError{
				ExecutionID: state.ID,
				From:        state.Status,
				Requested:   fmt.Sprintf("advance step %d (current is %d)", index, state.CurrentStepIndex),
			}
		}

		if state.Steps[index].Status != models.StepStatusPending {
			return &InvalidTransitionError{
				ExecutionID: state.ID,
				From:        state.Status,
				Requested:   fmt.Sprintf("advance step %d (status %s)", index, state.Steps[index].Status),
			}
		}
	}

	return nil
}

// executeOne creates the task record for a step and runs its agent. Any
// failure is folded into the outcome; the caller decides what it means for
// the execution.
func (m *Machine) executeOne(ctx context.Context, snapshot *models.ExecutionState, stepIndex int, artifacts []*models.Artifact) stepOutcome {
	step := snapshot.Steps[stepIndex]
	outcome := stepOutcome{stepIndex: stepIndex}

	executor, err := m.registry.Executor(step.AssignedAgent)
	if err != nil {
		outcome.err = err

		return outcome
	}

	task := &models.Task{
		ID:          uuid.New().String(),
		ProjectID:   snapshot.ProjectID,
		ExecutionID: snapshot.ID,
		AgentType:   step.AssignedAgent,
		Title:       fmt.Sprintf("%s step %d", step.AssignedAgent, stepIndex),
		Status:      models.TaskStatusRunning,
		CreatedAt:   time.Now().UTC(),
	}

	if instructions, ok := snapshot.ContextData["instructions"].(string); ok {
		task.Instructions = instructions
	}

	if err := m.tasks.SaveTask(ctx, task); err != nil {
		outcome.err = &PersistenceError{Op: "save task", Err: err}

		return outcome
	}

	outcome.taskID = task.ID

	handoff := agent.Handoff{
		Instructions: task.Instructions,
		Context:      snapshot.ContextData,
		Directives:   contextDirectives(snapshot.ContextData),
	}

	started := time.Now()
	result, err := executor.Execute(ctx, task, handoff, artifacts)
	outcome.durationMs = time.Since(started).Milliseconds()
	outcome.result = result
	outcome.err = err

	m.finishTask(ctx, task, outcome)

	return outcome
}

// finishTask records the terminal task status, best-effort.
func (m *Machine) finishTask(ctx context.Context, task *models.Task, outcome stepOutcome) {
	now := time.Now().UTC()
	task.CompletedAt = &now

	if outcome.failed() {
		task.Status = models.TaskStatusFailed
	} else {
		task.Status = models.TaskStatusCompleted
		task.Output = outcome.result.Output
	}

	if err := m.tasks.SaveTask(ctx, task); err != nil {
		m.logger.WarnContext(ctx, "failed to update task record",
			"task_id", task.ID, "error", err)
	}
}

// applyOutcomes writes step results onto the execution in a single persisted
// transition. All outcomes are recorded before the index moves; a failure
// anywhere fails the execution at the lowest failed index.
func (m *Machine) applyOutcomes(ctx context.Context, state *models.ExecutionState, outcomes []stepOutcome) error {
	failedAt := -1
	highest := state.CurrentStepIndex - 1

	for _, outcome := range outcomes {
		step := &state.Steps[outcome.stepIndex]
		step.TaskID = outcome.taskID

		if outcome.stepIndex > highest {
			highest = outcome.stepIndex
		}

		if outcome.failed() {
			step.Status = models.StepStatusFailed
			step.ErrorMessage = outcome.failureReason()

			if failedAt == -1 || outcome.stepIndex < failedAt {
				failedAt = outcome.stepIndex
			}

			continue
		}

		step.Status = models.StepStatusCompleted
		step.Result = outcome.result.Output
		step.ArtifactsCreated = append([]string(nil), outcome.result.ArtifactIDs...)
		state.CreatedArtifactIDs = append(state.CreatedArtifactIDs, outcome.result.ArtifactIDs...)
	}

	if failedAt >= 0 {
		now := time.Now().UTC()
		state.Status = models.ExecutionStatusFailed
		state.FailedAtStep = &failedAt
		state.ErrorMessage = state.Steps[failedAt].ErrorMessage
		state.CompletedAt = &now
	} else {
		state.CurrentStepIndex = highest + 1
	}

	if err := m.persist(ctx, state); err != nil {
		return err
	}

	for _, outcome := range outcomes {
		if outcome.failed() {
			continue
		}

		step := state.Steps[outcome.stepIndex]

		m.logger.InfoContext(ctx, "step completed",
			"execution_id", state.ID, "step_index", step.StepIndex,
			"agent_type", step.AssignedAgent, "duration_ms", outcome.durationMs)
		m.publish(ctx, state.ProjectID, events.ExecutionStepCompleted{
			BaseEvent:   m.baseEvent(events.ExecutionStepCompletedEvent, state.ProjectID),
			ExecutionID: state.ID,
			StepIndex:   step.StepIndex,
			AgentType:   step.AssignedAgent,
			Result:      step.Result,
			DurationMs:  outcome.durationMs,
		})
	}

	if failedAt >= 0 {
		m.logger.ErrorContext(ctx, "execution failed",
			"execution_id", state.ID, "failed_at_step", failedAt, "error", state.ErrorMessage)
		m.record(ctx, "execution.failed", state, map[string]any{
			"failed_at_step": failedAt,
			"error":          state.ErrorMessage,
		})
		m.publish(ctx, state.ProjectID, events.ExecutionFailed{
			BaseEvent:    m.baseEvent(events.ExecutionFailedEvent, state.ProjectID),
			ExecutionID:  state.ID,
			WorkflowID:   state.WorkflowID,
			FailedAtStep: failedAt,
			Error:        state.ErrorMessage,
		})

		return nil
	}

	indices := make([]int, 0, len(outcomes))
	for _, outcome := range outcomes {
		indices = append(indices, outcome.stepIndex)
	}

	m.record(ctx, "execution.steps.advanced", state, map[string]any{
		"step_indices":       indices,
		"current_step_index": state.CurrentStepIndex,
	})

	return nil
}

// discardOutcomes drops results that landed after the execution left the
// running state and returns the affected steps to pending, so a later resume
// re-dispatches them from the persisted step index. The task records keep
// their terminal status.
func (m *Machine) discardOutcomes(ctx context.Context, state *models.ExecutionState, outcomes []stepOutcome) {
	indices := make([]int, 0, len(outcomes))

	for _, outcome := range outcomes {
		indices = append(indices, outcome.stepIndex)

		step := &state.Steps[outcome.stepIndex]
		step.Status = models.StepStatusPending
		step.TaskID = ""
		step.Result = nil
		step.ErrorMessage = ""
		step.ArtifactsCreated = nil
	}

	if err := m.persist(ctx, state); err != nil {
		m.logger.ErrorContext(ctx, "failed to reset discarded steps to pending",
			"execution_id", state.ID, "step_indices", indices, "error", err)
	}

	m.logger.WarnContext(ctx, "discarding step results for non-running execution",
		"execution_id", state.ID, "status", state.Status, "step_indices", indices)
	m.record(ctx, "execution.steps.discarded", state, map[string]any{
		"status":       string(state.Status),
		"step_indices": indices,
	})
}

// loadArtifacts fetches the context store entries produced so far.
func (m *Machine) loadArtifacts(ctx context.Context, state *models.ExecutionState) ([]*models.Artifact, error) {
	if len(state.CreatedArtifactIDs) == 0 {
		return nil, nil
	}

	artifacts, err := m.artifacts.GetArtifactsByIDs(ctx, state.CreatedArtifactIDs)
	if err != nil {
		return nil, &PersistenceError{Op: "load artifacts", Err: err}
	}

	return artifacts, nil
}

func contextDirectives(contextData map[string]any) []string {
	raw, ok := contextData["directives"]
	if !ok {
		return nil
	}

	switch value := raw.(type) {
	case []string:
		return append([]string(nil), value...)
	case []any:
		directives := make([]string, 0, len(value))

		for _, item := range value {
			if s, ok := item.(string); ok {
				directives = append(directives, s)
			}
		}

		return directives
	default:
		return nil
	}
}
