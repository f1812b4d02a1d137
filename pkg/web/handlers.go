package web

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/atlasworks/convoy/pkg/conflict"
	"github.com/atlasworks/convoy/pkg/execution"
	"github.com/atlasworks/convoy/pkg/hitl"
	"github.com/atlasworks/convoy/pkg/models"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/phase"
)

// APIHandlers exposes the orchestration engine over REST.
type APIHandlers struct {
	machine      *execution.Machine
	gate         *hitl.Gate
	orchestrator *phase.Orchestrator
	conflicts    *conflict.Engine
	store        persistence.Persistence
	validator    *validator.Validate
	logger       *slog.Logger
}

func NewAPIHandlers(
	machine *execution.Machine,
	gate *hitl.Gate,
	orchestrator *phase.Orchestrator,
	conflicts *conflict.Engine,
	store persistence.Persistence,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		machine:      machine,
		gate:         gate,
		orchestrator: orchestrator,
		conflicts:    conflicts,
		store:        store,
		validator:    validate,
		logger:       logger.With("module", "web"),
	}
}

// RegisterRoutes mounts every endpoint on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	projects := app.Group("/projects")
	projects.Post("/", h.CreateProject)
	projects.Get("/:id", h.GetProject)
	projects.Patch("/:id/oversight", h.SetOversightLevel)
	projects.Get("/:id/executions", h.ListExecutions)
	projects.Get("/:id/hitl", h.ListPendingRequests)
	projects.Get("/:id/conflicts", h.ListConflicts)
	projects.Post("/:id/phase/table", h.LoadPhaseTable)
	projects.Get("/:id/phase/validate", h.ValidatePhase)
	projects.Post("/:id/phase/transition", h.TransitionPhase)
	projects.Get("/:id/phase/timing", h.PhaseTiming)
	projects.Get("/:id/phase/check", h.PhaseTransitionCheck)

	workflows := app.Group("/workflows")
	workflows.Post("/", h.CreateWorkflow)
	workflows.Get("/", h.ListWorkflows)
	workflows.Get("/:id", h.GetWorkflow)

	executions := app.Group("/executions")
	executions.Post("/", h.CreateExecution)
	executions.Get("/:id", h.GetExecutionStatus)
	executions.Post("/:id/start", h.StartExecution)
	executions.Post("/:id/pause", h.PauseExecution)
	executions.Post("/:id/resume", h.ResumeExecution)
	executions.Post("/:id/cancel", h.CancelExecution)
	executions.Post("/:id/recover", h.RecoverExecution)

	approvals := app.Group("/hitl")
	approvals.Get("/:id", h.GetRequest)
	approvals.Post("/:id/respond", h.RespondToRequest)
	approvals.Post("/bulk-approve", h.BulkApprove)

	conflicts := app.Group("/conflicts")
	conflicts.Post("/detect", h.DetectConflicts)
	conflicts.Get("/:id", h.GetConflict)
	conflicts.Post("/:id/resolve", h.ResolveConflict)
}

func (h *APIHandlers) CreateProject(c fiber.Ctx) error {
	var req CreateProjectRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	level := req.OversightLevel
	if level == "" {
		level = models.OversightMedium
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Description:    req.Description,
		OversightLevel: level,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.ProjectRepository().SaveProject(c.Context(), project); err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(project)
}

func (h *APIHandlers) GetProject(c fiber.Ctx) error {
	project, err := h.store.ProjectRepository().GetProject(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(project)
}

func (h *APIHandlers) SetOversightLevel(c fiber.Ctx) error {
	var req SetOversightRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.gate.SetOversightLevel(c.Context(), c.Params("id"), req.Level); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	now := time.Now().UTC()
	workflow := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Steps:       req.Steps,
		Parallel:    req.Parallel,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.WorkflowRepository().SaveWorkflow(c.Context(), workflow); err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows, err := h.store.WorkflowRepository().ListWorkflows(c.Context())
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.store.WorkflowRepository().GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	var req CreateExecutionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	state, err := h.machine.Create(c.Context(), execution.CreateRequest{
		ExecutionID:    req.ExecutionID,
		WorkflowID:     req.WorkflowID,
		ProjectID:      req.ProjectID,
		InitialContext: req.InitialContext,
	})
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(state)
}

func (h *APIHandlers) GetExecutionStatus(c fiber.Ctx) error {
	summary, err := h.machine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(summary)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	states, err := h.store.ExecutionRepository().ListExecutionsByProject(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	summaries := make([]*models.ExecutionSummary, 0, len(states))

	for _, state := range states {
		summary, err := h.machine.Status(c.Context(), state.ID)
		if err != nil {
			return handleDomainError(c, err)
		}

		summaries = append(summaries, summary)
	}

	return c.JSON(fiber.Map{"executions": summaries})
}

// StartExecution validates the transition is possible and then drives the
// run in the background; the step loop can outlive the request by a wide
// margin.
func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	executionID := c.Params("id")

	summary, err := h.machine.Status(c.Context(), executionID)
	if err != nil {
		return handleDomainError(c, err)
	}

	if summary.Status != models.ExecutionStatusPending && summary.Status != models.ExecutionStatusRunning {
		return conflictError(c, "invalid_transition",
			"cannot start execution from status "+string(summary.Status))
	}

	go func() {
		ctx := context.WithoutCancel(c.Context())

		if err := h.machine.Start(ctx, executionID); err != nil {
			h.logger.Error("execution run ended with error",
				"execution_id", executionID, "error", err)
		}
	}()

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	var req ReasonRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.machine.Pause(c.Context(), c.Params("id"), req.Reason); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ResumeExecution flips the execution back to running in the background,
// mirroring StartExecution.
func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	executionID := c.Params("id")

	summary, err := h.machine.Status(c.Context(), executionID)
	if err != nil {
		return handleDomainError(c, err)
	}

	if summary.Status != models.ExecutionStatusPaused {
		return conflictError(c, "invalid_transition",
			"cannot resume execution from status "+string(summary.Status))
	}

	go func() {
		ctx := context.WithoutCancel(c.Context())

		if err := h.machine.Resume(ctx, executionID); err != nil {
			h.logger.Error("execution resume ended with error",
				"execution_id", executionID, "error", err)
		}
	}()

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req ReasonRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.machine.Cancel(c.Context(), c.Params("id"), req.Reason); err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) RecoverExecution(c fiber.Ctx) error {
	state, err := h.machine.Recover(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) ListPendingRequests(c fiber.Ctx) error {
	requests, err := h.store.HitlRepository().ListPendingByProject(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"requests": requests})
}

func (h *APIHandlers) GetRequest(c fiber.Ctx) error {
	request, err := h.store.HitlRepository().GetRequest(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) RespondToRequest(c fiber.Ctx) error {
	var req HitlResponseRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.gate.ProcessResponse(c.Context(), c.Params("id"), hitl.Response{
		Action:     req.Action,
		Actor:      req.Actor,
		Comment:    req.Comment,
		Amendments: req.Amendments,
	})
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) BulkApprove(c fiber.Ctx) error {
	var req BulkApproveRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	outcome := h.gate.BulkApprove(c.Context(), req.RequestIDs, req.Actor, req.Comment)

	return c.JSON(outcome)
}

func (h *APIHandlers) LoadPhaseTable(c fiber.Ctx) error {
	if err := h.orchestrator.LoadProjectTable(c.Params("id"), c.Body()); err != nil {
		return badRequest(c, err.Error())
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ValidatePhase(c fiber.Ctx) error {
	projectID := c.Params("id")

	phaseName := c.Query("phase")
	if phaseName == "" {
		project, err := h.store.ProjectRepository().GetProject(c.Context(), projectID)
		if err != nil {
			return handleDomainError(c, err)
		}

		phaseName = project.CurrentPhase
	}

	report, err := h.orchestrator.ValidateCompletion(c.Context(), projectID, phaseName)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) TransitionPhase(c fiber.Ctx) error {
	result, err := h.orchestrator.Transition(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) PhaseTiming(c fiber.Ctx) error {
	timings, err := h.orchestrator.TimeAnalysis(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"phases": timings})
}

func (h *APIHandlers) PhaseTransitionCheck(c fiber.Ctx) error {
	check, err := h.orchestrator.TimeBasedTransitionCheck(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(check)
}

func (h *APIHandlers) DetectConflicts(c fiber.Ctx) error {
	var req DetectConflictsRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	artifacts, err := h.store.ArtifactRepository().ListArtifactsByProject(c.Context(), req.ProjectID, "")
	if err != nil {
		return handleDomainError(c, err)
	}

	tasks, err := h.store.TaskRepository().ListTasksByProject(c.Context(), req.ProjectID)
	if err != nil {
		return handleDomainError(c, err)
	}

	detected, err := h.conflicts.Detect(c.Context(), req.ProjectID, req.WorkflowID, artifacts, tasks)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"conflicts": detected})
}

func (h *APIHandlers) ListConflicts(c fiber.Ctx) error {
	conflicts, err := h.store.ConflictRepository().ListConflictsByProject(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"conflicts": conflicts})
}

func (h *APIHandlers) GetConflict(c fiber.Ctx) error {
	found, err := h.store.ConflictRepository().GetConflict(c.Context(), c.Params("id"))
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) ResolveConflict(c fiber.Ctx) error {
	var req ResolveConflictRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.conflicts.Resolve(c.Context(), c.Params("id"), req.Strategy)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(result)
}
