package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/events"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/testutil"
)

func (f *machineFixture) createExecution(t *testing.T, workflow *models.WorkflowDefinition) *models.ExecutionState {
	t.Helper()

	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(context.Background(), CreateRequest{
		WorkflowID: workflow.ID,
		ProjectID:  "project-1",
	})
	require.NoError(t, err)

	return state
}

func (f *machineFixture) registerSucceeding(agents ...string) {
	for _, agentType := range agents {
		f.registry.Register(agentType, testutil.SucceedingExecutor(map[string]any{"confidence_score": 0.95}))
	}
}

func TestMachine_Start_RunsToCompletion(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registerSucceeding("architect", "developer", "tester")

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	require.NoError(t, f.machine.Start(ctx, state.ID))

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, 3, final.CurrentStepIndex)
	assert.Equal(t, 3, final.CompletedSteps())
	assert.NotNil(t, final.CompletedAt)

	for _, step := range final.Steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
		assert.NotEmpty(t, step.TaskID)
	}

	types := f.bus.PublishedTypes()
	assert.Equal(t, events.ExecutionStartedEvent, types[0])
	assert.Equal(t, events.ExecutionCompletedEvent, types[len(types)-1])
	assert.Len(t, types, 5)
}

func TestMachine_Start_NonPending(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registerSucceeding("architect", "developer", "tester")

	state := f.createExecution(t, testutil.CreateTestWorkflow())
	require.NoError(t, f.machine.Start(ctx, state.ID))

	err := f.machine.Start(ctx, state.ID)
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_Start_StepFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registry.Register("architect", testutil.SucceedingExecutor(nil))
	f.registry.Register("developer", testutil.FailingExecutor("compilation error"))
	f.registry.Register("tester", testutil.SucceedingExecutor(nil))

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	err := f.machine.Start(ctx, state.ID)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.StepIndex)
	assert.Equal(t, "developer", execErr.AgentType)

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	require.NotNil(t, final.FailedAtStep)
	assert.Equal(t, 1, *final.FailedAtStep)
	assert.Equal(t, "compilation error", final.ErrorMessage)
	assert.Equal(t, models.StepStatusCompleted, final.Steps[0].Status)
	assert.Equal(t, models.StepStatusFailed, final.Steps[1].Status)
	// The failure stops the run before the third agent is reached.
	assert.Equal(t, models.StepStatusPending, final.Steps[2].Status)
	assert.Contains(t, f.bus.PublishedTypes(), events.ExecutionFailedEvent)
}

// pauseOnceObserver asks for a pause after the first completed step only.
type pauseOnceObserver struct {
	fired bool
}

func (o *pauseOnceObserver) AfterStep(_ context.Context, _ *models.ExecutionState, _ models.StepState) (bool, string, error) {
	if o.fired {
		return false, "", nil
	}

	o.fired = true

	return true, "checkpoint requested", nil
}

func TestMachine_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registerSucceeding("architect", "developer", "tester")
	f.machine.SetStepObserver(&pauseOnceObserver{})

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	require.NoError(t, f.machine.Start(ctx, state.ID))

	paused, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	assert.Equal(t, "checkpoint requested", paused.PausedReason)
	assert.Equal(t, 1, paused.CurrentStepIndex)

	require.NoError(t, f.machine.Resume(ctx, state.ID))

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Empty(t, final.PausedReason)
}

func TestMachine_Pause_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registerSucceeding("architect", "developer", "tester")
	f.machine.SetStepObserver(&pauseOnceObserver{})

	state := f.createExecution(t, testutil.CreateTestWorkflow())
	require.NoError(t, f.machine.Start(ctx, state.ID))

	assert.NoError(t, f.machine.Pause(ctx, state.ID, "again"))
}

func TestMachine_Pause_NotRunning(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	err := f.machine.Pause(ctx, state.ID, "too early")
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_Resume_NotPaused(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	err := f.machine.Resume(ctx, state.ID)
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	require.NoError(t, f.machine.Cancel(ctx, state.ID, "no longer needed"))

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, final.Status)
	assert.Equal(t, "no longer needed", final.CancelledReason)
	assert.NotNil(t, final.CompletedAt)

	err = f.machine.Cancel(ctx, state.ID, "twice")
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_MergeContext(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	require.NoError(t, f.machine.MergeContext(ctx, state.ID, map[string]any{"budget": "reduced"}))

	stored, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, "reduced", stored.ContextData["budget"])

	require.NoError(t, f.machine.Cancel(ctx, state.ID, "done"))

	err = f.machine.MergeContext(ctx, state.ID, map[string]any{"late": true})
	assert.True(t, IsInvalidTransition(err))
}

// cancellingExecutor cancels its own execution mid-flight, simulating an
// operator abort landing while an agent works.
type cancellingExecutor struct {
	machine *Machine
}

func (e *cancellingExecutor) Execute(ctx context.Context, task *models.Task, _ agent.Handoff, _ []*models.Artifact) (*agent.Result, error) {
	if err := e.machine.Cancel(ctx, task.ExecutionID, "operator abort"); err != nil {
		return nil, err
	}

	return &agent.Result{Success: true}, nil
}

func TestMachine_LateResultDiscardedAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registry.Register("architect", &cancellingExecutor{machine: f.machine})
	f.registry.Register("developer", testutil.SucceedingExecutor(nil))
	f.registry.Register("tester", testutil.SucceedingExecutor(nil))

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	require.NoError(t, f.machine.Start(ctx, state.ID))

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, final.Status)
	// The result that landed after cancellation is not applied.
	assert.Equal(t, 0, final.CurrentStepIndex)
	assert.NotEqual(t, models.StepStatusCompleted, final.Steps[0].Status)
	assert.Contains(t, f.sink.Actions(), "execution.steps.discarded")
}

// pausingExecutor pauses its own execution while the first agent call is in
// flight, then succeeds on every later dispatch.
type pausingExecutor struct {
	machine *Machine
	paused  bool
}

func (e *pausingExecutor) Execute(ctx context.Context, task *models.Task, _ agent.Handoff, _ []*models.Artifact) (*agent.Result, error) {
	if !e.paused {
		e.paused = true

		if err := e.machine.Pause(ctx, task.ExecutionID, "operator hold"); err != nil {
			return nil, err
		}
	}

	return &agent.Result{Success: true}, nil
}

func TestMachine_PauseMidStep_ResumeRedispatches(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registry.Register("architect", &pausingExecutor{machine: f.machine})
	f.registry.Register("developer", testutil.SucceedingExecutor(nil))
	f.registry.Register("tester", testutil.SucceedingExecutor(nil))

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	require.NoError(t, f.machine.Start(ctx, state.ID))

	paused, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	assert.Equal(t, 0, paused.CurrentStepIndex)
	// The discarded step is pending again so resume can re-dispatch it.
	assert.Equal(t, models.StepStatusPending, paused.Steps[0].Status)
	assert.Empty(t, paused.Steps[0].TaskID)

	require.NoError(t, f.machine.Resume(ctx, state.ID))

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, 3, final.CurrentStepIndex)

	for _, step := range final.Steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
	}
}
