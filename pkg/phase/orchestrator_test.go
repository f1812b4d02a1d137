package phase

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/persistence/file"
	"github.com/atlasworks/convoy/pkg/testutil"
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	store        persistence.Persistence
	bus          *testutil.CapturingBus
	sink         *testutil.CapturingSink
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	bus := testutil.NewCapturingBus()
	sink := testutil.NewCapturingSink()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return &orchestratorFixture{
		orchestrator: NewOrchestrator(store, bus, sink, logger),
		store:        store,
		bus:          bus,
		sink:         sink,
	}
}

func (f *orchestratorFixture) saveProject(t *testing.T, project *models.Project) {
	t.Helper()
	require.NoError(t, f.store.ProjectRepository().SaveProject(context.Background(), project))
}

func (f *orchestratorFixture) saveTask(t *testing.T, task *models.Task) {
	t.Helper()
	require.NoError(t, f.store.TaskRepository().SaveTask(context.Background(), task))
}

// stubConflictChecker reports a fixed set of blocking conflicts.
type stubConflictChecker struct {
	ids []string
}

func (s *stubConflictChecker) BlockingConflicts(_ context.Context, _ string) ([]string, error) {
	return s.ids, nil
}

func TestOrchestrator_ValidateCompletion_AllCriteriaMet(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("discovery"))
	f.saveProject(t, project)
	f.saveTask(t, testutil.CreateTestTask(project.ID, "analyst",
		testutil.WithCompletionTags("requirements_gathered")))

	report, err := f.orchestrator.ValidateCompletion(ctx, project.ID, "discovery")
	require.NoError(t, err)

	assert.True(t, report.Valid)
	assert.InDelta(t, 100.0, report.CompletionPct, 0.001)
	assert.Empty(t, report.Missing)
}

func TestOrchestrator_ValidateCompletion_PartialCriteria(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("validate"))
	f.saveProject(t, project)
	// Only the tester finished; the reviewer criterion is outstanding.
	f.saveTask(t, testutil.CreateTestTask(project.ID, "tester",
		testutil.WithCompletionTags("tests_passed")))

	report, err := f.orchestrator.ValidateCompletion(ctx, project.ID, "validate")
	require.NoError(t, err)

	assert.False(t, report.Valid)
	assert.InDelta(t, 50.0, report.CompletionPct, 0.001)
	assert.Equal(t, []string{"code_reviewed"}, report.Missing)
}

func TestOrchestrator_ValidateCompletion_WrongAgentDoesNotCount(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject()
	f.saveProject(t, project)
	// A developer claiming the analyst's criterion does not satisfy it.
	f.saveTask(t, testutil.CreateTestTask(project.ID, "developer",
		testutil.WithCompletionTags("requirements_gathered")))

	report, err := f.orchestrator.ValidateCompletion(ctx, project.ID, "discovery")
	require.NoError(t, err)

	assert.False(t, report.Valid)
	assert.Equal(t, []string{"requirements_gathered"}, report.Missing)
}

func TestOrchestrator_ValidateCompletion_BlockingConflictInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)
	f.orchestrator.SetConflictChecker(&stubConflictChecker{ids: []string{"conflict-9"}})

	project := testutil.CreateTestProject()
	f.saveProject(t, project)
	f.saveTask(t, testutil.CreateTestTask(project.ID, "analyst",
		testutil.WithCompletionTags("requirements_gathered")))

	report, err := f.orchestrator.ValidateCompletion(ctx, project.ID, "discovery")
	require.NoError(t, err)

	assert.False(t, report.Valid)
	assert.Contains(t, report.Missing, "unresolved conflict conflict-9")
}

func TestOrchestrator_Transition_Advances(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("discovery"))
	f.saveProject(t, project)
	f.saveTask(t, testutil.CreateTestTask(project.ID, "analyst",
		testutil.WithCompletionTags("requirements_gathered")))

	result, err := f.orchestrator.Transition(ctx, project.ID)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "discovery", result.PreviousPhase)
	assert.Equal(t, "plan", result.NewPhase)
	assert.False(t, result.Forced)

	stored, err := f.store.ProjectRepository().GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan", stored.CurrentPhase)
	assert.Contains(t, f.sink.Actions(), "phase.transitioned")
}

func TestOrchestrator_Transition_EmptyPhaseStartsAtFirst(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject()
	f.saveProject(t, project)
	f.saveTask(t, testutil.CreateTestTask(project.ID, "analyst",
		testutil.WithCompletionTags("requirements_gathered")))

	result, err := f.orchestrator.Transition(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "discovery", result.PreviousPhase)
	assert.Equal(t, "plan", result.NewPhase)
}

func TestOrchestrator_Transition_IncompleteRejected(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("discovery"))
	f.saveProject(t, project)

	_, err := f.orchestrator.Transition(ctx, project.ID)

	var notComplete *PhaseNotCompleteError
	require.ErrorAs(t, err, &notComplete)
	assert.Equal(t, "discovery", notComplete.Phase)
	assert.InDelta(t, 0.0, notComplete.CompletionPct, 0.001)
	assert.Equal(t, []string{"requirements_gathered"}, notComplete.Missing)

	// No mutation on a failed transition.
	stored, err := f.store.ProjectRepository().GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "discovery", stored.CurrentPhase)
}

func TestOrchestrator_Transition_TerminalPhase(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("launch"))
	f.saveProject(t, project)

	_, err := f.orchestrator.Transition(ctx, project.ID)
	assert.ErrorIs(t, err, ErrTerminalPhase)
}

func TestOrchestrator_Transition_OvertimeOverride(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("validate"))
	f.saveProject(t, project)

	// Four of five criteria met (80%) by a task whose span blew past the
	// 32-hour maximum.
	raw := []byte(`[
		{
			"name": "validate",
			"agent_sequence": ["tester", "reviewer"],
			"completion_criteria": ["tests_passed", "code_reviewed", "docs_written", "perf_checked", "security_checked"],
			"estimated_hours": 16,
			"max_hours": 32,
			"next_phase": "launch"
		},
		{
			"name": "launch",
			"agent_sequence": ["project_manager"],
			"completion_criteria": ["release_approved"],
			"estimated_hours": 4,
			"max_hours": 8
		}
	]`)
	require.NoError(t, f.orchestrator.LoadProjectTable(project.ID, raw))

	started := time.Now().UTC().Add(-40 * time.Hour)
	finished := time.Now().UTC()
	f.saveTask(t, testutil.CreateTestTask(project.ID, "tester",
		testutil.WithCompletionTags("tests_passed", "docs_written", "perf_checked", "security_checked"),
		testutil.WithTaskSpan(started, finished)))

	result, err := f.orchestrator.Transition(ctx, project.ID)
	require.NoError(t, err)

	assert.True(t, result.Forced)
	assert.Equal(t, "forced due to overtime", result.Reason)
	assert.Equal(t, "launch", result.NewPhase)
}

func TestOrchestrator_LoadProjectTable_Invalid(t *testing.T) {
	f := newOrchestratorFixture(t)

	err := f.orchestrator.LoadProjectTable("project-1", []byte(`{"bad": true}`))
	assert.Error(t, err)
}

func TestOrchestrator_LoadProjectTable_OverridesDefault(t *testing.T) {
	ctx := context.Background()
	f := newOrchestratorFixture(t)

	project := testutil.CreateTestProject()
	f.saveProject(t, project)

	raw := []byte(`[
		{"name": "sprint", "agent_sequence": ["developer"], "completion_criteria": ["done"], "estimated_hours": 1, "max_hours": 2}
	]`)
	require.NoError(t, f.orchestrator.LoadProjectTable(project.ID, raw))

	report, err := f.orchestrator.ValidateCompletion(ctx, project.ID, "sprint")
	require.NoError(t, err)
	assert.Equal(t, "sprint", report.Phase)

	// The default table's phases are gone for this project.
	_, err = f.orchestrator.ValidateCompletion(ctx, project.ID, "discovery")
	assert.ErrorIs(t, err, ErrUnknownPhase)
}
