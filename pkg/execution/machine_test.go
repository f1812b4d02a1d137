package execution

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/persistence/file"
	"github.com/atlasworks/convoy/pkg/testutil"
)

type machineFixture struct {
	machine  *Machine
	store    persistence.Persistence
	bus      *testutil.CapturingBus
	sink     *testutil.CapturingSink
	registry *agent.Registry
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	bus := testutil.NewCapturingBus()
	sink := testutil.NewCapturingSink()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	registry := agent.NewRegistry(logger)

	return &machineFixture{
		machine:  NewMachine(store, bus, sink, registry, logger),
		store:    store,
		bus:      bus,
		sink:     sink,
		registry: registry,
	}
}

func (f *machineFixture) saveWorkflow(t *testing.T, workflow *models.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, f.store.WorkflowRepository().SaveWorkflow(context.Background(), workflow))
}

func TestMachine_Create(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(ctx, CreateRequest{
		WorkflowID:     workflow.ID,
		ProjectID:      "project-1",
		InitialContext: map[string]any{"instructions": "build the thing"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, state.ID)
	assert.Equal(t, models.ExecutionStatusPending, state.Status)
	assert.Equal(t, 3, state.TotalSteps)
	assert.Equal(t, 0, state.CurrentStepIndex)
	assert.Equal(t, int64(1), state.Version)
	require.Len(t, state.Steps, 3)
	assert.Equal(t, "architect", state.Steps[0].AssignedAgent)
	assert.Equal(t, models.StepStatusPending, state.Steps[0].Status)
	assert.Contains(t, f.sink.Actions(), "execution.created")
}

func TestMachine_Create_EmptyWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	workflow.Steps = nil
	f.saveWorkflow(t, workflow)

	_, err := f.machine.Create(ctx, CreateRequest{WorkflowID: workflow.ID, ProjectID: "project-1"})
	assert.True(t, IsInvalidWorkflow(err))
}

func TestMachine_Create_UnknownWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	_, err := f.machine.Create(ctx, CreateRequest{WorkflowID: "missing", ProjectID: "project-1"})
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestMachine_Create_DuplicateID(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	_, err := f.machine.Create(ctx, CreateRequest{ExecutionID: "exec-1", WorkflowID: workflow.ID, ProjectID: "project-1"})
	require.NoError(t, err)

	_, err = f.machine.Create(ctx, CreateRequest{ExecutionID: "exec-1", WorkflowID: workflow.ID, ProjectID: "project-1"})
	assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
}

func TestMachine_Status(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(ctx, CreateRequest{WorkflowID: workflow.ID, ProjectID: "project-1"})
	require.NoError(t, err)

	summary, err := f.machine.Status(ctx, state.ID)
	require.NoError(t, err)

	assert.Equal(t, state.ID, summary.ID)
	assert.Equal(t, models.ExecutionStatusPending, summary.Status)
	assert.Equal(t, 3, summary.TotalSteps)
	assert.Equal(t, 0, summary.CompletedSteps)
	assert.InDelta(t, 0.0, summary.ProgressPercent, 0.001)
	assert.False(t, summary.Terminal)
}

func TestMachine_Status_NotFound(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	_, err := f.machine.Status(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestMachine_Recover_ValidSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(ctx, CreateRequest{WorkflowID: workflow.ID, ProjectID: "project-1"})
	require.NoError(t, err)

	recovered, err := f.machine.Recover(ctx, state.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, recovered.RecoveryAttempts)
	// Recovery never resumes on its own.
	assert.Equal(t, models.ExecutionStatusPending, recovered.Status)
}

func TestMachine_Recover_AgentMismatch(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(ctx, CreateRequest{WorkflowID: workflow.ID, ProjectID: "project-1"})
	require.NoError(t, err)

	// Tamper with the stored snapshot so the step assignment no longer
	// matches the definition.
	stored, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	stored.Steps[1].AssignedAgent = "impostor"
	stored.Version++
	require.NoError(t, f.store.ExecutionRepository().SaveExecution(ctx, stored))

	_, err = f.machine.Recover(ctx, state.ID)
	assert.True(t, IsStateCorruption(err))
}

func TestMachine_Recover_StepCountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(ctx, CreateRequest{WorkflowID: workflow.ID, ProjectID: "project-1"})
	require.NoError(t, err)

	stored, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	stored.Steps = stored.Steps[:2]
	stored.Version++
	require.NoError(t, f.store.ExecutionRepository().SaveExecution(ctx, stored))

	_, err = f.machine.Recover(ctx, state.ID)
	assert.True(t, IsStateCorruption(err))
}

func TestMachine_VersionConflictRejected(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	workflow := testutil.CreateTestWorkflow()
	f.saveWorkflow(t, workflow)

	state, err := f.machine.Create(ctx, CreateRequest{WorkflowID: workflow.ID, ProjectID: "project-1"})
	require.NoError(t, err)

	// Advance the stored record once.
	stored, err := f.store.ExecutionRepository().GetExecution(ctx, state.ID)
	require.NoError(t, err)
	stored.Version++
	require.NoError(t, f.store.ExecutionRepository().SaveExecution(ctx, stored))

	// A writer still holding the original snapshot must not overwrite the
	// newer one.
	stale := state.Clone()
	stale.Version++
	err = f.store.ExecutionRepository().SaveExecution(ctx, stale)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)
}
