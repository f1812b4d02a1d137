package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/atlasworks/convoy/pkg/conflict"
	"github.com/atlasworks/convoy/pkg/execution"
	"github.com/atlasworks/convoy/pkg/hitl"
	"github.com/atlasworks/convoy/pkg/persistence"
	"github.com/atlasworks/convoy/pkg/phase"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflictError(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleDomainError maps engine errors to problem responses. Every rejected
// operation carries its diagnostics in the response so the caller can render
// why without re-deriving state.
func handleDomainError(c fiber.Ctx, err error) error {
	var phaseIncomplete *phase.PhaseNotCompleteError

	switch {
	case errors.As(err, &phaseIncomplete):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"type":           "phase_not_complete",
			"title":          "Conflict",
			"status":         fiber.StatusConflict,
			"detail":         phaseIncomplete.Error(),
			"instance":       c.Path(),
			"phase":          phaseIncomplete.Phase,
			"completion_pct": phaseIncomplete.CompletionPct,
			"missing":        phaseIncomplete.Missing,
		})

	case execution.IsInvalidWorkflow(err),
		errors.Is(err, hitl.ErrUnknownAction),
		errors.Is(err, hitl.ErrInvalidOversightLevel),
		errors.Is(err, phase.ErrUnknownPhase):
		return badRequest(c, err.Error())

	case persistence.IsNotFound(err):
		return notFound(c, err.Error())

	case execution.IsInvalidTransition(err):
		return conflictError(c, "invalid_transition", err.Error())

	case errors.Is(err, hitl.ErrRequestNotPending):
		return conflictError(c, "request_not_pending", err.Error())

	case errors.Is(err, conflict.ErrConflictTerminal):
		return conflictError(c, "conflict_terminal", err.Error())

	case errors.Is(err, phase.ErrTerminalPhase):
		return conflictError(c, "terminal_phase", err.Error())

	case persistence.IsVersionConflict(err):
		return conflictError(c, "version_conflict", err.Error())

	case errors.Is(err, persistence.ErrExecutionAlreadyExists):
		return conflictError(c, "already_exists", err.Error())

	case execution.IsStateCorruption(err):
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("state_corruption").
			WithDetail(err.Error())

		return c.Status(fiber.StatusInternalServerError).JSON(problem)

	default:
		return internalError(c, err)
	}
}
