package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasworks/convoy/pkg/agent"
	"github.com/atlasworks/convoy/pkg/conflict"
	"github.com/atlasworks/convoy/pkg/execution"
	"github.com/atlasworks/convoy/pkg/hitl"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/persistence/file"
	"github.com/atlasworks/convoy/pkg/phase"
	"github.com/atlasworks/convoy/pkg/testutil"
)

type apiFixture struct {
	app   *fiber.App
	store persistence.Persistence
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	bus := testutil.NewCapturingBus()
	sink := testutil.NewCapturingSink()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	registry := agent.NewRegistry(logger)

	machine := execution.NewMachine(store, bus, sink, registry, logger)
	gate := hitl.NewGate(store, bus, sink, machine, logger)
	machine.SetStepObserver(gate)

	orchestrator := phase.NewOrchestrator(store, bus, sink, logger)
	conflicts := conflict.NewEngine(store, bus, sink, logger)
	orchestrator.SetConflictChecker(conflicts)

	app := fiber.New()
	handlers := NewAPIHandlers(machine, gate, orchestrator, conflicts, store,
		validator.New(validator.WithRequiredStructEnabled()), logger)
	handlers.RegisterRoutes(app)

	return &apiFixture{app: app, store: store}
}

func (f *apiFixture) request(t *testing.T, method, path string, payload any) *http.Response {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	})

	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

func TestAPI_CreateProject(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/projects", map[string]any{
		"name":        "Billing Revamp",
		"description": "rebuild the billing pipeline",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "Billing Revamp", body["name"])
	assert.Equal(t, "medium", body["oversight_level"])
	assert.NotEmpty(t, body["id"])

	stored, err := f.store.ProjectRepository().GetProject(context.Background(), body["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.OversightMedium, stored.OversightLevel)
}

func TestAPI_CreateProject_MissingName(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/projects", map[string]any{
		"description": "no name",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "validation_error", body["type"])
}

func TestAPI_GetProject_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "not_found", body["type"])
}

func TestAPI_SetOversightLevel(t *testing.T) {
	f := newAPIFixture(t)

	project := testutil.CreateTestProject()
	require.NoError(t, f.store.ProjectRepository().SaveProject(context.Background(), project))

	resp := f.request(t, http.MethodPatch, "/projects/"+project.ID+"/oversight", map[string]any{
		"level": "high",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := f.store.ProjectRepository().GetProject(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OversightHigh, stored.OversightLevel)
}

func TestAPI_SetOversightLevel_InvalidLevel(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPatch, "/projects/p/oversight", map[string]any{
		"level": "extreme",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateWorkflow(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/workflows", map[string]any{
		"name": "Delivery",
		"steps": []map[string]any{
			{"agent_type": "architect", "name": "Design"},
			{"agent_type": "developer", "name": "Build"},
		},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["id"])
	assert.Len(t, body["steps"], 2)
}

func TestAPI_CreateWorkflow_NoSteps(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/workflows", map[string]any{
		"name": "Empty",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreateExecution(t *testing.T) {
	f := newAPIFixture(t)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, f.store.WorkflowRepository().SaveWorkflow(context.Background(), workflow))

	resp := f.request(t, http.MethodPost, "/executions", map[string]any{
		"workflow_id": workflow.ID,
		"project_id":  "project-1",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(3), body["total_steps"])
}

func TestAPI_CreateExecution_UnknownWorkflow(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/executions", map[string]any{
		"workflow_id": "missing",
		"project_id":  "project-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateExecution_DuplicateID(t *testing.T) {
	f := newAPIFixture(t)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, f.store.WorkflowRepository().SaveWorkflow(context.Background(), workflow))

	payload := map[string]any{
		"execution_id": "exec-1",
		"workflow_id":  workflow.ID,
		"project_id":   "project-1",
	}

	first := f.request(t, http.MethodPost, "/executions", payload)
	assert.Equal(t, http.StatusCreated, first.StatusCode)

	second := f.request(t, http.MethodPost, "/executions", payload)
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	body := decodeBody(t, second)
	assert.Equal(t, "already_exists", body["type"])
}

func TestAPI_GetExecutionStatus_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_PauseExecution_PendingRejected(t *testing.T) {
	f := newAPIFixture(t)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, f.store.WorkflowRepository().SaveWorkflow(context.Background(), workflow))

	created := f.request(t, http.MethodPost, "/executions", map[string]any{
		"execution_id": "exec-1",
		"workflow_id":  workflow.ID,
		"project_id":   "project-1",
	})
	require.Equal(t, http.StatusCreated, created.StatusCode)

	resp := f.request(t, http.MethodPost, "/executions/exec-1/pause", map[string]any{
		"reason": "operator hold",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "invalid_transition", body["type"])
}

func TestAPI_StartExecution_CancelledRejected(t *testing.T) {
	f := newAPIFixture(t)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, f.store.WorkflowRepository().SaveWorkflow(context.Background(), workflow))

	created := f.request(t, http.MethodPost, "/executions", map[string]any{
		"execution_id": "exec-1",
		"workflow_id":  workflow.ID,
		"project_id":   "project-1",
	})
	require.Equal(t, http.StatusCreated, created.StatusCode)

	cancelled := f.request(t, http.MethodPost, "/executions/exec-1/cancel", map[string]any{
		"reason": "scope change",
	})
	require.Equal(t, http.StatusNoContent, cancelled.StatusCode)

	resp := f.request(t, http.MethodPost, "/executions/exec-1/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "invalid_transition", body["type"])
}

func TestAPI_RespondToRequest_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/hitl/missing/respond", map[string]any{
		"action": "approve",
		"actor":  "lead@example.com",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RespondToRequest_UnknownAction(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/hitl/any/respond", map[string]any{
		"action": "defer",
		"actor":  "lead@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_TransitionPhase_IncompleteReturnsDiagnostics(t *testing.T) {
	f := newAPIFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("discovery"))
	require.NoError(t, f.store.ProjectRepository().SaveProject(context.Background(), project))

	resp := f.request(t, http.MethodPost, "/projects/"+project.ID+"/phase/transition", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "phase_not_complete", body["type"])
	assert.Equal(t, "discovery", body["phase"])
	assert.Equal(t, float64(0), body["completion_pct"])
	assert.NotEmpty(t, body["missing"])
}

func TestAPI_ValidatePhase(t *testing.T) {
	f := newAPIFixture(t)

	project := testutil.CreateTestProject(testutil.WithPhase("discovery"))
	require.NoError(t, f.store.ProjectRepository().SaveProject(context.Background(), project))

	task := testutil.CreateTestTask(project.ID, "analyst",
		testutil.WithCompletionTags("requirements_gathered"))
	require.NoError(t, f.store.TaskRepository().SaveTask(context.Background(), task))

	resp := f.request(t, http.MethodGet, "/projects/"+project.ID+"/phase/validate?phase=discovery", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(100), body["completion_pct"])
}

func TestAPI_DetectConflicts(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	older := testutil.CreateTestArtifact("project-1", "developer", models.ArtifactTypeImplementation,
		"aaa bbb ccc ddd eee fff")
	newer := testutil.CreateTestArtifact("project-1", "architect", models.ArtifactTypeImplementation,
		"aaa bbb xxx yyy zzz www")
	require.NoError(t, f.store.ArtifactRepository().SaveArtifact(ctx, older))
	require.NoError(t, f.store.ArtifactRepository().SaveArtifact(ctx, newer))

	resp := f.request(t, http.MethodPost, "/conflicts/detect", map[string]any{
		"project_id": "project-1",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	conflicts, ok := body["conflicts"].([]any)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
}

func TestAPI_ResolveConflict_TerminalRejected(t *testing.T) {
	f := newAPIFixture(t)

	resolved := testutil.CreateTestConflict("project-1", func(c *models.Conflict) {
		c.Status = models.ConflictResolved
	})
	require.NoError(t, f.store.ConflictRepository().SaveConflict(context.Background(), resolved))

	resp := f.request(t, http.MethodPost, "/conflicts/"+resolved.ID+"/resolve", map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "conflict_terminal", body["type"])
}

func TestAPI_LoadPhaseTable_InvalidDocument(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/projects/p/phase/table", []map[string]any{
		{"phase": "only"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
