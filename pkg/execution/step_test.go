package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/testutil"
)

func parallelWorkflow() *models.WorkflowDefinition {
	return testutil.CreateTestWorkflow(
		testutil.WithParallel(),
		testutil.WithSteps(
			models.WorkflowStepDef{AgentType: "tester", Name: "Run the test suite"},
			models.WorkflowStepDef{AgentType: "reviewer", Name: "Review the changes"},
			models.WorkflowStepDef{AgentType: "security", Name: "Scan for vulnerabilities"},
		),
	)
}

func TestMachine_AdvanceStep_OutOfOrder(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registerSucceeding("architect", "developer", "tester")
	f.machine.SetStepObserver(&pauseOnceObserver{})

	state := f.createExecution(t, testutil.CreateTestWorkflow())
	require.NoError(t, f.machine.Start(ctx, state.ID))
	require.NoError(t, f.machine.Resume(ctx, state.ID))

	// The run is already complete; no index is advanceable.
	_, err := f.machine.AdvanceStep(ctx, state.ID, 0)
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_AdvanceStep_SkippingAheadRejected(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registerSucceeding("architect", "developer", "tester")
	f.machine.SetStepObserver(&pauseOnceObserver{})

	state := f.createExecution(t, testutil.CreateTestWorkflow())

	// Pause after step 0 leaves the run at index 1.
	require.NoError(t, f.machine.Start(ctx, state.ID))

	_, err := f.machine.AdvanceStep(ctx, state.ID, 2)
	assert.True(t, IsInvalidTransition(err))
}

func TestMachine_AdvanceStep_UnknownAgentFailsStep(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	// Nothing registered: the architect lookup fails and the step fails
	// with it.
	state := f.createExecution(t, testutil.CreateTestWorkflow())

	err := f.machine.Start(ctx, state.ID)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 0, execErr.StepIndex)

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
}

func TestMachine_AdvanceParallel_AllSucceed(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registerSucceeding("tester", "reviewer", "security")

	state := f.createExecution(t, parallelWorkflow())

	require.NoError(t, f.machine.Start(ctx, state.ID))

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, 3, final.CurrentStepIndex)

	for _, step := range final.Steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
	}
}

func TestMachine_AdvanceParallel_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registry.Register("tester", testutil.SucceedingExecutor(map[string]any{"passed": 120}))
	f.registry.Register("reviewer", testutil.FailingExecutor("review found blocking issues"))
	f.registry.Register("security", testutil.SucceedingExecutor(nil))

	state := f.createExecution(t, parallelWorkflow())

	err := f.machine.Start(ctx, state.ID)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.StepIndex)
	assert.Equal(t, "reviewer", execErr.AgentType)

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, final.Status)
	require.NotNil(t, final.FailedAtStep)
	assert.Equal(t, 1, *final.FailedAtStep)

	// Every sibling result is recorded even though one failed.
	assert.Equal(t, models.StepStatusCompleted, final.Steps[0].Status)
	assert.Equal(t, models.StepStatusFailed, final.Steps[1].Status)
	assert.Equal(t, models.StepStatusCompleted, final.Steps[2].Status)
	assert.Equal(t, 120, intFromResult(final.Steps[0].Result["passed"]))
}

// intFromResult tolerates the JSON round-trip turning ints into float64.
func intFromResult(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return -1
	}
}

func TestMachine_AdvanceParallel_ArtifactsGathered(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.registry.Register("tester", testutil.NewScriptedExecutor(&agent.Result{Success: true, ArtifactIDs: []string{"artifact-a"}}))
	f.registry.Register("reviewer", testutil.NewScriptedExecutor(&agent.Result{Success: true, ArtifactIDs: []string{"artifact-b"}}))
	f.registry.Register("security", testutil.SucceedingExecutor(nil))

	state := f.createExecution(t, parallelWorkflow())

	require.NoError(t, f.machine.Start(ctx, state.ID))

	final, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"artifact-a", "artifact-b"}, final.CreatedArtifactIDs)
	assert.Equal(t, []string{"artifact-a"}, final.Steps[0].ArtifactsCreated)
}

func TestMachine_HandoffCarriesContext(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	executor := testutil.SucceedingExecutor(nil)
	f.registry.Register("architect", executor)
	f.registry.Register("developer", executor)
	f.registry.Register("tester", executor)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(ctx, CreateRequest{
		WorkflowID: workflow.ID,
		ProjectID:  "project-1",
		InitialContext: map[string]any{
			"instructions": "ship the feature",
			"directives":   []string{"focus on critical path"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, f.machine.Start(ctx, state.ID))

	require.Equal(t, 3, executor.Calls())
	assert.Equal(t, "ship the feature", executor.Handoff[0].Instructions)
	assert.Equal(t, []string{"focus on critical path"}, executor.Handoff[0].Directives)
}
