package hitl

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/mocks"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/persistence/file"
	"github.com/atlasworks/convoy/pkg/testutil"
)

type gateFixture struct {
	gate       *Gate
	store      persistence.Persistence
	bus        *testutil.CapturingBus
	sink       *testutil.CapturingSink
	controller *mocks.MockExecutionController
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	bus := testutil.NewCapturingBus()
	sink := testutil.NewCapturingSink()
	controller := &mocks.MockExecutionController{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return &gateFixture{
		gate:       NewGate(store, bus, sink, controller, logger),
		store:      store,
		bus:        bus,
		sink:       sink,
		controller: controller,
	}
}

func (f *gateFixture) saveProject(t *testing.T, project *models.Project) {
	t.Helper()
	require.NoError(t, f.store.ProjectRepository().SaveProject(context.Background(), project))
}

func TestGate_CheckTriggers_LowConfidencePausesExecution(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	project := testutil.CreateTestProject(testutil.WithOversight(models.OversightHigh))
	f.saveProject(t, project)
	f.controller.On("Pause", mock.Anything, "exec-1", mock.Anything).Return(nil)

	request, err := f.gate.CheckTriggers(ctx, project.ID, Signal{
		ExecutionID:     "exec-1",
		AgentType:       "developer",
		ConfidenceScore: floatPtr(0.3),
	})
	require.NoError(t, err)
	require.NotNil(t, request)

	assert.Equal(t, models.HitlStatusPending, request.Status)
	assert.Equal(t, models.HitlTriggerQualityThreshold, request.Trigger)
	assert.Equal(t, []string{"approve", "reject", "amend"}, request.Options)
	assert.WithinDuration(t, time.Now().UTC().Add(DefaultApprovalWindow), request.ExpiresAt, time.Minute)

	stored, err := f.store.HitlRepository().GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HitlStatusPending, stored.Status)

	f.controller.AssertCalled(t, "Pause", mock.Anything, "exec-1", "awaiting approval: quality_threshold")
	assert.Contains(t, f.sink.Actions(), "hitl.request.created")
}

func TestGate_CheckTriggers_NoTriggerNoRequest(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	project := testutil.CreateTestProject(testutil.WithOversight(models.OversightLow))
	f.saveProject(t, project)

	request, err := f.gate.CheckTriggers(ctx, project.ID, Signal{
		ExecutionID:     "exec-1",
		AgentType:       "developer",
		ConfidenceScore: floatPtr(0.9),
	})
	require.NoError(t, err)
	assert.Nil(t, request)
	f.controller.AssertNotCalled(t, "Pause", mock.Anything, mock.Anything, mock.Anything)
}

func TestGate_AfterStep_RequestsPause(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	project := testutil.CreateTestProject(testutil.WithOversight(models.OversightHigh))
	f.saveProject(t, project)

	state := &models.ExecutionState{ID: "exec-1", ProjectID: project.ID}
	step := models.StepState{
		StepIndex:     0,
		AssignedAgent: "developer",
		Status:        models.StepStatusCompleted,
		TaskID:        "task-1",
		Result:        map[string]any{"confidence_score": 0.3},
	}

	pause, reason, err := f.gate.AfterStep(ctx, state, step)
	require.NoError(t, err)
	assert.True(t, pause)
	assert.Equal(t, "awaiting approval: quality_threshold", reason)

	// The machine performs the pause itself; the hook must not.
	f.controller.AssertNotCalled(t, "Pause", mock.Anything, mock.Anything, mock.Anything)

	pending, err := f.store.HitlRepository().ListPendingByProject(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "task-1", pending[0].TaskID)
	assert.Equal(t, "exec-1", pending[0].ExecutionID)
}

func TestGate_AfterStep_HighConfidenceContinues(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	project := testutil.CreateTestProject(testutil.WithOversight(models.OversightHigh))
	f.saveProject(t, project)

	state := &models.ExecutionState{ID: "exec-1", ProjectID: project.ID}
	step := models.StepState{
		AssignedAgent: "developer",
		Status:        models.StepStatusCompleted,
		Result:        map[string]any{"confidence_score": 0.95},
	}

	pause, _, err := f.gate.AfterStep(ctx, state, step)
	require.NoError(t, err)
	assert.False(t, pause)
}

func TestGate_SetOversightLevel(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	project := testutil.CreateTestProject()
	f.saveProject(t, project)

	require.NoError(t, f.gate.SetOversightLevel(ctx, project.ID, models.OversightHigh))

	level, err := f.gate.OversightLevel(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OversightHigh, level)
}

func TestGate_SetOversightLevel_Invalid(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	err := f.gate.SetOversightLevel(ctx, "project-1", "extreme")
	assert.ErrorIs(t, err, ErrInvalidOversightLevel)
}

func TestGate_OversightLevel_DefaultsToMedium(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t)

	level, err := f.gate.OversightLevel(ctx, "unknown-project")
	require.NoError(t, err)
	assert.Equal(t, models.OversightMedium, level)
}
